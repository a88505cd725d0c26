package scenario

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

var (
	// ErrUnknownScenario is returned for a scenario name without a preset.
	ErrUnknownScenario = errors.New("unknown scenario")

	// ErrInvalidConfig wraps every validation problem of a loaded FileConfig.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConfigFile is returned when the configuration file cannot be read or decoded.
	ErrConfigFile = errors.New("configuration file could not be loaded")
)

// Backend kinds accepted by BackendConfig.Kind.
const (
	BackendPostgres     = "postgres"
	BackendPostgresSQL  = "postgres-sql"
	BackendPostgresSQLX = "postgres-sqlx"
	BackendMySQL        = "mysql"
	BackendRedis        = "redis"
)

// FileConfig is the externally supplied configuration of one run, as decoded from the YAML file,
// the environment and the flags. Zero values of optional sections keep the preset's values.
type FileConfig struct {
	Scenario string           `mapstructure:"scenario" validate:"required,oneof=deadlock bloat hotspot"`
	Workers  map[string]int   `mapstructure:"workers" validate:"dive,gte=0"`
	KeySpace KeySpaceConfig   `mapstructure:"key_space"`
	Hotspot  float64          `mapstructure:"hotspot_probability" validate:"gte=0,lte=1"`
	Skew     float64          `mapstructure:"skew_probability" validate:"gte=0,lte=1"`
	Pacing   DelayRangeConfig `mapstructure:"pacing"`

	FatalBackoff time.Duration `mapstructure:"fatal_backoff" validate:"gte=0"`
	RunDuration  time.Duration `mapstructure:"run_duration" validate:"gte=0"`
	GraceTimeout time.Duration `mapstructure:"grace_timeout" validate:"gte=0"`
	Seed         uint64        `mapstructure:"seed"`

	Retry   RetryConfig   `mapstructure:"retry"`
	Connect ConnectConfig `mapstructure:"connect"`
	Backend BackendConfig `mapstructure:"backend"`

	MetricsAddr          string        `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	ObservabilityEnabled bool          `mapstructure:"observability_enabled"`
	OTLPEndpoint         string        `mapstructure:"otlp_endpoint" validate:"omitempty,hostname_port"`
	ReportInterval       time.Duration `mapstructure:"report_interval" validate:"gte=0"`
	Log                  LogConfig     `mapstructure:"log"`
}

// KeySpaceConfig configures the key universe and its hot range.
type KeySpaceConfig struct {
	Size    int64 `mapstructure:"size" validate:"gte=1"`
	HotFrom int64 `mapstructure:"hot_from" validate:"gte=0"`
	HotTo   int64 `mapstructure:"hot_to" validate:"gte=0,ltefield=Size"`
}

// DelayRangeConfig is an inclusive duration range.
type DelayRangeConfig struct {
	Min time.Duration `mapstructure:"min" validate:"gte=0"`
	Max time.Duration `mapstructure:"max" validate:"gte=0,gtefield=Min"`
}

// RetryConfig configures the whole-instance retries of retryable conflicts.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay    time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	JitterFactor float64       `mapstructure:"jitter_factor" validate:"gte=0,lte=1"`
}

// ConnectConfig configures the bounded connect retries.
type ConnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gte=0"`
}

// BackendConfig selects and configures the backing store.
type BackendConfig struct {
	Kind           string `mapstructure:"kind" validate:"required,oneof=postgres postgres-sql postgres-sqlx mysql redis"`
	DSN            string `mapstructure:"dsn" validate:"required"`
	MaxConnections int    `mapstructure:"max_connections" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// ScenarioConfig builds the immutable run configuration: the preset's tables and templates with
// the tunables of c applied on top.
func (c FileConfig) ScenarioConfig() (anomaly.ScenarioConfig, error) {
	preset, err := Lookup(c.Scenario)
	if err != nil {
		return anomaly.ScenarioConfig{}, err
	}

	cfg := preset.Config

	if len(c.Workers) > 0 {
		workers := maps.Clone(cfg.Workers)
		for role, count := range c.Workers {
			workers[anomaly.Role(role)] = count
		}

		cfg.Workers = workers
	}

	cfg.KeySpace = anomaly.KeySpace{
		Size: c.KeySpace.Size,
		Hot:  anomaly.KeyRange{From: anomaly.ResourceKey(c.KeySpace.HotFrom), To: anomaly.ResourceKey(c.KeySpace.HotTo)},
	}
	cfg.HotspotProbability = c.Hotspot
	cfg.SkewProbability = c.Skew
	cfg.Pacing = anomaly.DelayRange{Min: c.Pacing.Min, Max: c.Pacing.Max}
	cfg.FatalBackoff = c.FatalBackoff
	cfg.RunDuration = c.RunDuration
	cfg.GraceTimeout = c.GraceTimeout
	cfg.Seed = c.Seed
	cfg.Retry = anomaly.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		BaseDelay:    c.Retry.BaseDelay,
		MaxDelay:     c.Retry.MaxDelay,
		JitterFactor: c.Retry.JitterFactor,
	}
	cfg.Connect = anomaly.ConnectPolicy{
		MaxAttempts: c.Connect.MaxAttempts,
		BaseDelay:   c.Connect.BaseDelay,
		MaxDelay:    c.Connect.MaxDelay,
	}

	if err := cfg.Validate(); err != nil {
		return anomaly.ScenarioConfig{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}
