// Package mysqlengine provides a MySQL (InnoDB) implementation of anomaly.Backend.
//
// Sessions pin one connection of the sql.DB pool each and run explicit transactions on it.
// InnoDB deadlocks (1213) and lock wait timeouts (1205) are retryable conflicts; every other
// error is fatal. InnoDB rolls back the whole transaction on a deadlock, so the engine's
// rollback that follows is a no-op on the server.
package mysqlengine
