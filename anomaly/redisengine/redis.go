package redisengine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

const (
	backendName        = "redis"
	fieldCounter       = "counter"
	fieldPayload       = "payload"
	fieldUpdatedAt     = "updated_at"
	seedCounter        = 1000
	seedBatchSize      = 1000
	logMsgTableSeeded  = "table bootstrapped"
	logMsgCmdExecuted  = "executed redis command for: "
	logAttrTable       = "table"
	logAttrKeys        = "keys"
	logAttrRedisKey    = "redis_key"
	logAttrWatchedKeys = "watched_keys"
	logAttrQueuedOps   = "queued_operations"
)

// ErrOptimisticConflict is returned by Commit when a counter observed by a LockingRead
// changed before the transaction could be applied.
var ErrOptimisticConflict = errors.New("observed counter changed before commit")

// Option defines a functional option for configuring a Backend.
type Option func(*Backend) error

// WithLogger sets the logger that receives commands at debug level and bootstrap progress at info level.
func WithLogger(logger anomaly.Logger) Option {
	return func(b *Backend) error {
		if logger == nil {
			return anomaly.ErrNilBackendLogger
		}

		b.logger = logger

		return nil
	}
}

// Backend is the Redis anomaly.Backend. The client is shared by all sessions; it pools
// connections internally and is safe for concurrent use.
type Backend struct {
	client *redis.Client
	logger anomaly.Logger
}

// NewBackend creates a new Backend using a go-redis client.
func NewBackend(client *redis.Client, options ...Option) (*Backend, error) {
	if client == nil {
		return nil, anomaly.ErrNilDatabaseConnection
	}

	b := &Backend{client: client}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Name returns "redis".
func (b *Backend) Name() string {
	return backendName
}

// Connect verifies the server is reachable and returns a new session.
func (b *Backend) Connect(ctx context.Context) (anomaly.Session, error) {
	client := b.client.WithContext(ctx)
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}

	return &session{backend: b, client: client}, nil
}

// Classify treats failed optimistic transactions as retryable conflicts and everything else as fatal.
func (b *Backend) Classify(err error) anomaly.Status {
	switch {
	case err == nil:
		return anomaly.StatusSuccess
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, ErrOptimisticConflict):
		return anomaly.StatusRetryableConflict
	default:
		return anomaly.StatusFatal
	}
}

// Bootstrap seeds counters for keys 1..N of every resource table. Existing hashes keep their values.
// Log lists are created on first insert.
func (b *Backend) Bootstrap(ctx context.Context, tables []anomaly.Table, keys anomaly.KeySpace) error {
	if err := keys.Validate(); err != nil {
		return err
	}

	client := b.client.WithContext(ctx)

	for _, table := range tables {
		if err := table.Validate(); err != nil {
			return err
		}

		if table.Kind != anomaly.TableResource {
			continue
		}

		for from := int64(1); from <= keys.Size; from += seedBatchSize {
			to := min(from+seedBatchSize-1, keys.Size)

			_, err := client.Pipelined(func(pipe redis.Pipeliner) error {
				for id := from; id <= to; id++ {
					pipe.HSetNX(resourceKey(table.Name, anomaly.ResourceKey(id)), fieldCounter, seedCounter)
				}

				return nil
			})
			if err != nil {
				return fmt.Errorf("bootstrapping table %s: %w", table.Name, err)
			}
		}

		b.info(logMsgTableSeeded, logAttrTable, table.Name, logAttrKeys, keys.Size)
	}

	return nil
}

func (b *Backend) debug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *Backend) info(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func resourceKey(table string, key anomaly.ResourceKey) string {
	return table + ":{" + strconv.FormatInt(int64(key), 10) + "}"
}

func logKey(table string, key anomaly.ResourceKey) string {
	return resourceKey(table, key) + ":log"
}

func nowString() string {
	return strconv.FormatInt(time.Now().UnixMicro(), 10)
}
