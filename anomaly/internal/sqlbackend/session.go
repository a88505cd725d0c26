package sqlbackend

import (
	"context"
	"fmt"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/internal/adapters"
)

// session runs one explicit transaction at a time on a dedicated connection.
type session struct {
	backend *Backend
	conn    adapters.DBConn
	tx      adapters.DBTx
}

func (s *session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return anomaly.ErrTransactionInProgress
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}

	s.tx = tx

	return nil
}

func (s *session) Execute(ctx context.Context, op anomaly.Operation) error {
	if s.tx == nil {
		return anomaly.ErrNoTransaction
	}

	query, err := s.backend.builder.Operation(op)
	if err != nil {
		return err
	}

	start := time.Now()

	var affected int64
	switch op.Kind {
	case anomaly.OpLockingRead, anomaly.OpRead:
		affected, err = s.query(ctx, query)
	default:
		affected, err = s.exec(ctx, query)
	}

	if err != nil {
		return err
	}

	s.backend.debug(logMsgSQLExecuted+op.Kind.String(),
		logAttrQuery, query,
		logAttrRowsAffected, affected,
		logAttrDurationMS, toMilliseconds(time.Since(start)))

	if affected == 0 && op.Kind != anomaly.OpDelete {
		return fmt.Errorf("%w: %s key %d", anomaly.ErrResourceNotSeeded, op.Table, op.Key)
	}

	return nil
}

// query drains the result set so that row locks are taken for every selected row.
func (s *session) query(ctx context.Context, query string) (int64, error) {
	rows, err := s.tx.Query(ctx, query)
	if err != nil {
		return 0, err
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.backend.warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}()

	var (
		count   int64
		id      int64
		counter int64
	)
	for rows.Next() {
		if err := rows.Scan(&id, &counter); err != nil {
			return count, err
		}
		count++
	}

	return count, rows.Err()
}

func (s *session) exec(ctx context.Context, query string) (int64, error) {
	result, err := s.tx.Exec(ctx, query)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (s *session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return anomaly.ErrNoTransaction
	}

	tx := s.tx
	s.tx = nil

	return tx.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil

	return tx.Rollback(ctx)
}

// Close rolls back a transaction left open and returns the connection to its pool.
func (s *session) Close() error {
	if s.tx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeRollbackTimeout)
		defer cancel()

		if err := s.Rollback(ctx); err != nil {
			s.backend.warn(logMsgRollbackOnClose, logAttrError, err.Error())
		}
	}

	return s.conn.Close()
}
