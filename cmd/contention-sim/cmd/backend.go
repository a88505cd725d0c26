package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/AntonStoeckl/contention-simulator/anomaly"
	"github.com/AntonStoeckl/contention-simulator/anomaly/mysqlengine"
	"github.com/AntonStoeckl/contention-simulator/anomaly/postgresengine"
	"github.com/AntonStoeckl/contention-simulator/anomaly/redisengine"
	"github.com/AntonStoeckl/contention-simulator/scenario"
)

// ErrUnsupportedBackend is returned for a backend kind without a connection factory.
var ErrUnsupportedBackend = errors.New("unsupported backend")

// Pool defaults. Every worker holds one dedicated connection for the whole instance, so the pool
// is sized to the worker count unless max_connections overrides it.
const (
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = time.Minute * 5
	defaultHealthCheckPeriod = time.Minute
	defaultConnectTimeout    = time.Second * 5
	minPoolConnections       = 4
)

type closeFunc func() error

// openBackend creates the backing store client for cfg. The returned closeFunc releases it.
func openBackend(ctx context.Context, cfg scenario.BackendConfig, workers int, logger *slog.Logger) (anomaly.Backend, closeFunc, error) {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = max(workers+1, minPoolConnections)
	}

	switch cfg.Kind {
	case scenario.BackendPostgres:
		return openPostgresPGXPool(ctx, cfg.DSN, maxConns, logger)
	case scenario.BackendPostgresSQL:
		return openPostgresSQLDB(cfg.DSN, maxConns, logger)
	case scenario.BackendPostgresSQLX:
		return openPostgresSQLX(cfg.DSN, maxConns, logger)
	case scenario.BackendMySQL:
		return openMySQL(cfg.DSN, maxConns, logger)
	case scenario.BackendRedis:
		return openRedis(cfg.DSN, maxConns, logger)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Kind)
	}
}

func openPostgresPGXPool(ctx context.Context, dsn string, maxConns int, logger *slog.Logger) (anomaly.Backend, closeFunc, error) {
	dbConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	dbConfig.MaxConns = int32(maxConns) //nolint:gosec
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = defaultMaxConnLifetime
	dbConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	dbConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	dbConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create pgx pool: %w", err)
	}

	backend, err := postgresengine.NewBackendFromPGXPool(pool, postgresengine.WithLogger(logger))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	return backend, func() error { pool.Close(); return nil }, nil
}

func openPostgresSQLDB(dsn string, maxConns int, logger *slog.Logger) (anomaly.Backend, closeFunc, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	configurePool(db, maxConns)

	backend, err := postgresengine.NewBackendFromSQLDB(db, postgresengine.WithLogger(logger))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return backend, db.Close, nil
}

func openPostgresSQLX(dsn string, maxConns int, logger *slog.Logger) (anomaly.Backend, closeFunc, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	configurePool(db.DB, maxConns)

	backend, err := postgresengine.NewBackendFromSQLX(db, postgresengine.WithLogger(logger))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return backend, db.Close, nil
}

func openMySQL(dsn string, maxConns int, logger *slog.Logger) (anomaly.Backend, closeFunc, error) {
	mysqlConfig, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse mysql dsn: %w", err)
	}

	mysqlConfig.ParseTime = true
	mysqlConfig.Timeout = defaultConnectTimeout

	connector, err := mysql.NewConnector(mysqlConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	configurePool(db, maxConns)

	backend, err := mysqlengine.NewBackend(db, mysqlengine.WithLogger(logger))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return backend, db.Close, nil
}

func openRedis(dsn string, maxConns int, logger *slog.Logger) (anomaly.Backend, closeFunc, error) {
	options, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}

	options.PoolSize = maxConns
	options.DialTimeout = defaultConnectTimeout

	client := redis.NewClient(options)

	backend, err := redisengine.NewBackend(client, redisengine.WithLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	return backend, client.Close, nil
}

func configurePool(db *sql.DB, maxConns int) {
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)
}
