package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// SessionProvider hands out dedicated sessions of a Backend. Connect attempts are bounded by
// the ConnectPolicy and backed off exponentially.
type SessionProvider struct {
	backend anomaly.Backend
	policy  anomaly.ConnectPolicy
	observers
}

// NewSessionProvider creates a SessionProvider for backend.
func NewSessionProvider(
	backend anomaly.Backend,
	policy anomaly.ConnectPolicy,
	options ...Option,
) (*SessionProvider, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	o, err := applyOptions(options)
	if err != nil {
		return nil, err
	}

	return &SessionProvider{backend: backend, policy: policy, observers: o}, nil
}

// Backend returns the backend sessions are acquired from.
func (p *SessionProvider) Backend() anomaly.Backend {
	return p.backend
}

// Acquire returns a new session. After MaxAttempts failed connects the error wraps
// anomaly.ErrConnectionFailed together with the last cause.
func (p *SessionProvider) Acquire(ctx context.Context) (anomaly.Session, error) {
	var session anomaly.Session

	err := retry.Do(
		func() error {
			s, err := p.backend.Connect(ctx)
			if err != nil {
				return err
			}

			session = s

			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.policy.MaxAttempts)), //nolint:gosec
		retry.Delay(p.policy.BaseDelay),
		retry.MaxDelay(p.policy.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.warn(ctx, logMsgConnectRetry,
				logAttrBackend, p.backend.Name(),
				logAttrAttempt, n+1,
				logAttrMaxAttempts, p.policy.MaxAttempts,
				logAttrError, err.Error())
		}),
	)
	if err != nil {
		p.incrementCounter(ctx, MetricSessionAcquireFailures, map[string]string{metricLabelBackend: p.backend.Name()})

		return nil, errors.Join(anomaly.ErrConnectionFailed, err)
	}

	return session, nil
}

// WithSession acquires a session, runs fn with it, and releases the session on every exit path,
// including a panic inside fn.
func (p *SessionProvider) WithSession(ctx context.Context, fn func(anomaly.Session) error) error {
	session, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	defer p.release(ctx, session)

	return fn(session)
}

// Ping verifies that a session can be acquired and released.
func (p *SessionProvider) Ping(ctx context.Context) error {
	err := p.WithSession(ctx, func(anomaly.Session) error { return nil })
	if err != nil {
		p.logError(ctx, logMsgConnectFailed, err, logAttrBackend, p.backend.Name())

		return fmt.Errorf("pinging %s backend: %w", p.backend.Name(), err)
	}

	return nil
}

func (p *SessionProvider) release(ctx context.Context, session anomaly.Session) {
	if err := session.Close(); err != nil {
		p.warn(ctx, logMsgSessionReleaseFailed, logAttrBackend, p.backend.Name(), logAttrError, err.Error())
	}
}
