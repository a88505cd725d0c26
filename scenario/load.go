package scenario

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables that override configuration keys,
// e.g. CONTENTION_RETRY_MAX_ATTEMPTS for retry.max_attempts.
const EnvPrefix = "CONTENTION"

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"scenario":              "scenario",
	"backend":               "backend.kind",
	"dsn":                   "backend.dsn",
	"max-connections":       "backend.max_connections",
	"run-duration":          "run_duration",
	"grace-timeout":         "grace_timeout",
	"seed":                  "seed",
	"hotspot-probability":   "hotspot_probability",
	"skew-probability":      "skew_probability",
	"metrics-addr":          "metrics_addr",
	"observability-enabled": "observability_enabled",
	"otlp-endpoint":         "otlp_endpoint",
	"report-interval":       "report_interval",
	"log-level":             "log.level",
	"log-format":            "log.format",
}

// Load reads the configuration with the precedence flags > environment > file > preset defaults.
// path may be empty, flags may be nil. Flags that were not set on the command line do not
// override lower layers.
func Load(path string, flags *pflag.FlagSet) (FileConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return FileConfig{}, errors.Join(ErrConfigFile, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return FileConfig{}, err
				}
			}
		}
	}

	v.SetDefault("scenario", Deadlock)

	preset, err := Lookup(v.GetString("scenario"))
	if err != nil {
		return FileConfig{}, err
	}

	setDefaults(v, preset)

	var cfg FileConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return FileConfig{}, errors.Join(ErrConfigFile, err)
	}

	if err := validate(cfg); err != nil {
		return FileConfig{}, err
	}

	return cfg, nil
}

// setDefaults registers every key, which also makes AutomaticEnv see them on Unmarshal.
func setDefaults(v *viper.Viper, preset Preset) {
	cfg := preset.Config

	for role, count := range cfg.Workers {
		v.SetDefault("workers."+string(role), count)
	}

	v.SetDefault("key_space.size", cfg.KeySpace.Size)
	v.SetDefault("key_space.hot_from", int64(cfg.KeySpace.Hot.From))
	v.SetDefault("key_space.hot_to", int64(cfg.KeySpace.Hot.To))
	v.SetDefault("hotspot_probability", cfg.HotspotProbability)
	v.SetDefault("skew_probability", cfg.SkewProbability)
	v.SetDefault("pacing.min", cfg.Pacing.Min)
	v.SetDefault("pacing.max", cfg.Pacing.Max)
	v.SetDefault("fatal_backoff", cfg.FatalBackoff)
	v.SetDefault("run_duration", cfg.RunDuration)
	v.SetDefault("grace_timeout", cfg.GraceTimeout)
	v.SetDefault("seed", cfg.Seed)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.jitter_factor", cfg.Retry.JitterFactor)

	v.SetDefault("connect.max_attempts", cfg.Connect.MaxAttempts)
	v.SetDefault("connect.base_delay", cfg.Connect.BaseDelay)
	v.SetDefault("connect.max_delay", cfg.Connect.MaxDelay)

	v.SetDefault("backend.kind", BackendPostgres)
	v.SetDefault("backend.dsn", "")
	v.SetDefault("backend.max_connections", 0)

	v.SetDefault("metrics_addr", "")
	v.SetDefault("observability_enabled", false)
	v.SetDefault("otlp_endpoint", defaultOTLPEndpoint)
	v.SetDefault("report_interval", defaultReportInterval)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

const (
	defaultReportInterval = 10 * time.Second
	defaultOTLPEndpoint   = "localhost:4317"
)

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		PercentageHookFunc(),
	)
}

// PercentageHookFunc decodes strings like "80%" into 0.8 for float64 fields.
func PercentageHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Float64 {
			return data, nil
		}

		s := strings.TrimSpace(data.(string))
		if !strings.HasSuffix(s, "%") {
			return data, nil
		}

		percent, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentage %q: %w", s, err)
		}

		return percent / 100, nil
	}
}

// validate runs the struct tags and reports every failing field by its configuration key.
func validate(cfg FileConfig) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}

		return name
	})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errors.Join(ErrInvalidConfig, err)
	}

	errs := []error{ErrInvalidConfig}
	for _, fieldErr := range validationErrors {
		fieldName := stripPrefix(fieldErr.Namespace())
		switch fieldErr.Tag() {
		case "required":
			errs = append(errs, fmt.Errorf("field %s is required but was not found", fieldName))
		default:
			errs = append(errs, fmt.Errorf("field %s has invalid value %v: %s", fieldName, fieldErr.Value(), fieldErr.Tag()))
		}
	}

	return errors.Join(errs...)
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}

	return s
}
