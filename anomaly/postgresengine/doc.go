// Package postgresengine provides a PostgreSQL implementation of anomaly.Backend.
//
// Every session pins one pooled connection and runs explicit transactions on it, so the row locks
// taken by SELECT ... FOR UPDATE are held until commit or rollback. Errors are classified by
// SQLSTATE: deadlocks, serialization failures, lock timeouts and other transaction rollbacks are
// retryable conflicts, everything else is fatal.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Explicit SQLSTATE classification table, testable without a database
//   - Idempotent schema creation and seeding for scenario tables
//
// Usage examples:
//
//	db, _ := pgxpool.New(context.Background(), dsn)
//	backend, _ := postgresengine.NewBackendFromPGXPool(db, postgresengine.WithLogger(logger))
//
//	_ = backend.Bootstrap(ctx, cfg.Tables, cfg.KeySpace)
//	supervisor, _ := engine.NewSupervisor(backend)
package postgresengine
