package redisengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// session buffers the writes of one transaction and applies them optimistically at commit.
type session struct {
	backend  *Backend
	client   *redis.Client
	active   bool
	observed map[string]string
	queued   []anomaly.Operation
}

func (s *session) Begin(_ context.Context) error {
	if s.active {
		return anomaly.ErrTransactionInProgress
	}

	s.active = true
	s.observed = make(map[string]string)
	s.queued = s.queued[:0]

	return nil
}

func (s *session) Execute(_ context.Context, op anomaly.Operation) error {
	if !s.active {
		return anomaly.ErrNoTransaction
	}

	switch op.Kind {
	case anomaly.OpLockingRead, anomaly.OpRead:
		key := resourceKey(op.Table, op.Key)

		counter, err := s.readCounter(op.Table, op.Key)
		if err != nil {
			return err
		}

		s.backend.debug(logMsgCmdExecuted+op.Kind.String(), logAttrRedisKey, key)

		if op.Kind == anomaly.OpLockingRead {
			if _, seen := s.observed[key]; !seen {
				s.observed[key] = counter
			}
		}
	case anomaly.OpWrite, anomaly.OpInsert, anomaly.OpDelete:
		s.queued = append(s.queued, op)
	default:
		return fmt.Errorf("unsupported operation %s", op.Kind)
	}

	return nil
}

// Commit watches every key observed by a LockingRead, re-checks the observed counters,
// and applies the buffered writes in one MULTI/EXEC block.
func (s *session) Commit(_ context.Context) error {
	if !s.active {
		return anomaly.ErrNoTransaction
	}

	s.active = false

	watched := make([]string, 0, len(s.observed))
	for key := range s.observed {
		watched = append(watched, key)
	}

	s.backend.debug(logMsgCmdExecuted+"commit", logAttrWatchedKeys, len(watched), logAttrQueuedOps, len(s.queued))

	if len(watched) == 0 {
		if err := s.requireSeeded(s.client); err != nil {
			return err
		}

		_, err := s.client.TxPipelined(s.apply)

		return err
	}

	return s.client.Watch(func(tx *redis.Tx) error {
		if err := s.requireSeeded(tx); err != nil {
			return err
		}

		for key, observed := range s.observed {
			current, err := tx.HGet(key, fieldCounter).Result()
			if err != nil {
				return err
			}

			if current != observed {
				return fmt.Errorf("%w: %s", ErrOptimisticConflict, key)
			}
		}

		_, err := tx.Pipelined(s.apply)

		return err
	}, watched...)
}

type existsChecker interface {
	Exists(keys ...string) *redis.IntCmd
}

// requireSeeded fails when a buffered Write targets a counter that does not exist, so HINCRBY
// never creates an unseeded resource. Keys observed by a LockingRead were already checked.
func (s *session) requireSeeded(c existsChecker) error {
	for _, op := range s.queued {
		if op.Kind != anomaly.OpWrite {
			continue
		}

		key := resourceKey(op.Table, op.Key)
		if _, observed := s.observed[key]; observed {
			continue
		}

		n, err := c.Exists(key).Result()
		if err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("%w: %s key %d", anomaly.ErrResourceNotSeeded, op.Table, op.Key)
		}
	}

	return nil
}

func (s *session) apply(pipe redis.Pipeliner) error {
	for _, op := range s.queued {
		switch op.Kind {
		case anomaly.OpWrite:
			key := resourceKey(op.Table, op.Key)
			pipe.HIncrBy(key, fieldCounter, op.Delta)
			pipe.HSet(key, fieldUpdatedAt, nowString())
			if len(op.Payload) > 0 {
				pipe.HSet(key, fieldPayload, string(op.Payload))
			}
		case anomaly.OpInsert:
			pipe.RPush(logKey(op.Table, op.Key), string(op.Payload))
		case anomaly.OpDelete:
			pipe.Del(logKey(op.Table, op.Key))
		}
	}

	return nil
}

// Rollback drops the buffered writes; nothing has reached the server yet.
func (s *session) Rollback(_ context.Context) error {
	s.active = false
	s.observed = nil
	s.queued = s.queued[:0]

	return nil
}

// Close is a no-op apart from discarding an open transaction; the client's pool owns the connections.
func (s *session) Close() error {
	return s.Rollback(context.Background())
}

func (s *session) readCounter(table string, key anomaly.ResourceKey) (string, error) {
	counter, err := s.client.HGet(resourceKey(table, key), fieldCounter).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s key %d", anomaly.ErrResourceNotSeeded, table, key)
	}

	return counter, err
}
