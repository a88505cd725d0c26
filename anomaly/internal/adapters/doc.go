// Package adapters provide database adapter implementations for the SQL backends.
//
// This package implements the adapter pattern to support multiple database libraries:
// pgxpool.Pool, sql.DB, and sqlx.DB. Every adapter hands out dedicated connections through
// Conn, and every connection runs at most one explicit transaction at a time, which is what
// a contention workload needs: row locks are held by a transaction pinned to one connection.
//
// Exec and Query on the adapter itself run outside any transaction and are used for
// schema bootstrapping only.
package adapters
