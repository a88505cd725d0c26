package adapters

import (
	"context"
	"database/sql"
)

// SQLAdapter implements DBAdapter for sql.DB.
type SQLAdapter struct {
	db *sql.DB
}

// NewSQLAdapter creates a new SQL adapter.
func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db}
}

// Conn takes a dedicated connection from the sql.DB pool.
func (s *SQLAdapter) Conn(ctx context.Context) (DBConn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	return &sqlConn{conn: conn}, nil
}

func (s *SQLAdapter) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

func (s *SQLAdapter) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

type sqlConn struct {
	conn *sql.Conn
}

func (s *sqlConn) Begin(ctx context.Context) (DBTx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &stdTx{tx: tx}, nil
}

func (s *sqlConn) Close() error {
	return s.conn.Close()
}
