package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SQLXAdapter implements DBAdapter for sqlx.DB.
type SQLXAdapter struct {
	db *sqlx.DB
}

// NewSQLXAdapter creates a new SQLX adapter.
func NewSQLXAdapter(db *sqlx.DB) *SQLXAdapter {
	return &SQLXAdapter{db: db}
}

// Conn takes a dedicated connection from the sqlx.DB pool.
func (s *SQLXAdapter) Conn(ctx context.Context) (DBConn, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}

	return &sqlxConn{conn: conn}, nil
}

// Query executes a query using the sqlx.DB and returns wrapped rows.
func (s *SQLXAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows.Rows}, nil
}

// Exec executes a query using the sqlx.DB and returns wrapped result.
func (s *SQLXAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

type sqlxConn struct {
	conn *sqlx.Conn
}

func (s *sqlxConn) Begin(ctx context.Context) (DBTx, error) {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx.Tx}, nil
}

func (s *sqlxConn) Close() error {
	return s.conn.Close()
}
