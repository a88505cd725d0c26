package adapters

import "context"

// DBAdapter defines the database operations needed by the SQL backends.
type DBAdapter interface {
	Conn(ctx context.Context) (DBConn, error)
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBConn is a dedicated connection taken from a pool. Close returns it to the pool.
type DBConn interface {
	Begin(ctx context.Context) (DBTx, error)
	Close() error
}

// DBTx is an explicit transaction on a DBConn.
type DBTx interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
