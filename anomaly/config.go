package anomaly

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

// DelayRange is an inclusive range from which a uniform delay is drawn.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// IsZero reports whether the range is unset.
func (r DelayRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// Validate checks 0 <= Min <= Max.
func (r DelayRange) Validate() error {
	if r.Min < 0 || r.Max < r.Min {
		return fmt.Errorf("%w: [%s, %s] must satisfy 0 <= min <= max", ErrInvalidDelayRange, r.Min, r.Max)
	}

	return nil
}

// Draw returns a uniform duration from the range. It is safe for concurrent use.
func (r DelayRange) Draw() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}

	return r.Min + time.Duration(rand.Int64N(int64(r.Max-r.Min)+1)) //nolint:gosec
}

// RetryPolicy bounds the whole-instance retries of retryable conflicts.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt, so 1 disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps the exponential delay; 0 leaves it uncapped.
	MaxDelay time.Duration
	// JitterFactor adds up to factor * delay of random extra wait.
	JitterFactor float64
}

// Validate checks the policy can be executed.
func (p RetryPolicy) Validate() error {
	var errs []error

	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%w: max attempts %d must be at least 1", ErrInvalidRetryPolicy, p.MaxAttempts))
	}

	if p.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: base delay %s must not be negative", ErrInvalidRetryPolicy, p.BaseDelay))
	}

	if p.MaxDelay != 0 && p.MaxDelay < p.BaseDelay {
		errs = append(errs, fmt.Errorf("%w: max delay %s is below base delay %s", ErrInvalidRetryPolicy, p.MaxDelay, p.BaseDelay))
	}

	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		errs = append(errs, fmt.Errorf("%w: jitter factor %.2f must be within [0, 1]", ErrInvalidRetryPolicy, p.JitterFactor))
	}

	return errors.Join(errs...)
}

// Delay returns the capped exponential delay before the given retry, where retry 1 follows
// the first attempt: min(base * 2^(retry-1), max). No jitter is applied.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}

	shift := retry - 1
	delay := p.BaseDelay
	if shift >= 62 || delay > time.Duration(1<<62)>>shift {
		delay = time.Duration(1<<63 - 1)
	} else {
		delay <<= shift
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay
}

// JitteredDelay returns Delay(retry) plus a random jitter of up to JitterFactor of it.
func (p RetryPolicy) JitteredDelay(retry int) time.Duration {
	delay := p.Delay(retry)
	if p.JitterFactor <= 0 || delay <= 0 {
		return delay
	}

	jitter := time.Duration(float64(delay) * p.JitterFactor * rand.Float64()) //nolint:gosec
	if delay+jitter < delay {
		return delay
	}

	return delay + jitter
}

// ConnectPolicy bounds the attempts to acquire a session from the backing store.
type ConnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Validate checks the policy can be executed.
func (p ConnectPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d must be at least 1", ErrInvalidConnectPolicy, p.MaxAttempts)
	}

	if p.BaseDelay < 0 || (p.MaxDelay != 0 && p.MaxDelay < p.BaseDelay) {
		return fmt.Errorf("%w: delays [%s, %s] must satisfy 0 <= base <= max", ErrInvalidConnectPolicy, p.BaseDelay, p.MaxDelay)
	}

	return nil
}

// ScenarioConfig is the configuration of one run. It is immutable after load and shared read-only
// by all workers.
type ScenarioConfig struct {
	Name               string
	Tables             []Table
	Templates          []Template
	Workers            map[Role]int
	KeySpace           KeySpace
	HotspotProbability float64
	SkewProbability    float64
	Pacing             DelayRange
	// FatalBackoff is the pause after a fatal outcome; 0 falls back to Pacing.Max.
	FatalBackoff time.Duration
	Retry        RetryPolicy
	Connect      ConnectPolicy
	// RunDuration stops the run automatically when positive; 0 runs until interrupted.
	RunDuration  time.Duration
	GraceTimeout time.Duration
	// Seed makes key selection reproducible when non-zero.
	Seed uint64
}

// Validate reports every problem of the configuration at once.
func (c ScenarioConfig) Validate() error {
	var errs []error

	if err := c.KeySpace.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.HotspotProbability < 0 || c.HotspotProbability > 1 {
		errs = append(errs, fmt.Errorf("%w: hotspot probability %v", ErrInvalidProbability, c.HotspotProbability))
	}

	if c.SkewProbability < 0 || c.SkewProbability > 1 {
		errs = append(errs, fmt.Errorf("%w: skew probability %v", ErrInvalidProbability, c.SkewProbability))
	}

	if err := c.Pacing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pacing: %w", err))
	}

	if c.FatalBackoff < 0 {
		errs = append(errs, fmt.Errorf("%w: fatal backoff %s must not be negative", ErrInvalidScenario, c.FatalBackoff))
	}

	if c.RunDuration < 0 || c.GraceTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: run duration and grace timeout must not be negative", ErrInvalidScenario))
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Connect.Validate(); err != nil {
		errs = append(errs, err)
	}

	tables := make(map[string]Table, len(c.Tables))
	for _, table := range c.Tables {
		if err := table.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}

		if _, dup := tables[table.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: table %q declared twice", ErrInvalidScenario, table.Name))
		}

		tables[table.Name] = table
	}

	templates := make(map[Role]bool, len(c.Templates))
	for _, tmpl := range c.Templates {
		if templates[tmpl.Role] {
			errs = append(errs, fmt.Errorf("%w: role %s has two templates", ErrInvalidScenario, tmpl.Role))
		}

		templates[tmpl.Role] = true

		if err := tmpl.Validate(tables); err != nil {
			errs = append(errs, err)
		}
	}

	for role, count := range c.Workers {
		if count < 0 {
			errs = append(errs, fmt.Errorf("%w: role %s worker count %d is negative", ErrInvalidScenario, role, count))
		}

		if count > 0 && !templates[role] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownRole, role))
		}
	}

	if c.TotalWorkers() == 0 {
		errs = append(errs, fmt.Errorf("%w: no workers configured", ErrInvalidScenario))
	}

	return errors.Join(errs...)
}

// TotalWorkers returns the number of workers the supervisor starts.
func (c ScenarioConfig) TotalWorkers() int {
	total := 0
	for _, count := range c.Workers {
		if count > 0 {
			total += count
		}
	}

	return total
}

// Roles returns the roles with at least one worker, sorted for stable startup order.
func (c ScenarioConfig) Roles() []Role {
	roles := make([]Role, 0, len(c.Workers))
	for role, count := range c.Workers {
		if count > 0 {
			roles = append(roles, role)
		}
	}

	slices.Sort(roles)

	return roles
}

// PacingFor returns the pacing range a worker of role waits between iterations.
func (c ScenarioConfig) PacingFor(role Role) DelayRange {
	for _, t := range c.Templates {
		if t.Role == role {
			return t.pacingOr(c.Pacing)
		}
	}

	return c.Pacing
}

// FatalBackoffOrDefault returns FatalBackoff, falling back to the pacing maximum.
func (c ScenarioConfig) FatalBackoffOrDefault() time.Duration {
	if c.FatalBackoff > 0 {
		return c.FatalBackoff
	}

	return c.Pacing.Max
}
