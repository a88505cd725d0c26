package helper

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

var ErrStubConflict = errors.New("stub: simulated lock conflict")
var ErrStubFatal = errors.New("stub: simulated fatal error")
var ErrStubConnectRefused = errors.New("stub: connection refused")

// StubBackend is an in-memory anomaly.Backend with deterministic outcome injection and
// acquire/release accounting. Hooks must be set before the backend is used.
type StubBackend struct {
	// ConnectFunc may fail the n-th connect attempt (1-based).
	ConnectFunc func(n int64) error
	// ExecuteFunc may fail a single operation.
	ExecuteFunc func(op anomaly.Operation) error
	// CommitFunc decides the fate of a transaction from the operations it executed.
	CommitFunc func(executed []anomaly.Operation) error

	connects  atomic.Int64
	acquired  atomic.Int64
	released  atomic.Int64
	begins    atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
}

// NewStubBackend returns a StubBackend on which every transaction succeeds.
func NewStubBackend() *StubBackend {
	return &StubBackend{}
}

func (b *StubBackend) Name() string {
	return "stub"
}

func (b *StubBackend) Connect(_ context.Context) (anomaly.Session, error) {
	n := b.connects.Add(1)
	if b.ConnectFunc != nil {
		if err := b.ConnectFunc(n); err != nil {
			return nil, err
		}
	}

	b.acquired.Add(1)

	return &stubSession{backend: b}, nil
}

func (b *StubBackend) Classify(err error) anomaly.Status {
	switch {
	case err == nil:
		return anomaly.StatusSuccess
	case errors.Is(err, ErrStubConflict):
		return anomaly.StatusRetryableConflict
	default:
		return anomaly.StatusFatal
	}
}

func (b *StubBackend) Connects() int64  { return b.connects.Load() }
func (b *StubBackend) Acquired() int64  { return b.acquired.Load() }
func (b *StubBackend) Released() int64  { return b.released.Load() }
func (b *StubBackend) Begins() int64    { return b.begins.Load() }
func (b *StubBackend) Commits() int64   { return b.commits.Load() }
func (b *StubBackend) Rollbacks() int64 { return b.rollbacks.Load() }

type stubSession struct {
	backend  *StubBackend
	active   bool
	closed   bool
	executed []anomaly.Operation
}

func (s *stubSession) Begin(_ context.Context) error {
	if s.active {
		return anomaly.ErrTransactionInProgress
	}

	s.active = true
	s.executed = s.executed[:0]
	s.backend.begins.Add(1)

	return nil
}

func (s *stubSession) Execute(_ context.Context, op anomaly.Operation) error {
	if !s.active {
		return anomaly.ErrNoTransaction
	}

	if s.backend.ExecuteFunc != nil {
		if err := s.backend.ExecuteFunc(op); err != nil {
			return err
		}
	}

	s.executed = append(s.executed, op)

	return nil
}

func (s *stubSession) Commit(_ context.Context) error {
	if !s.active {
		return anomaly.ErrNoTransaction
	}

	s.active = false
	s.backend.commits.Add(1)

	if s.backend.CommitFunc != nil {
		return s.backend.CommitFunc(s.executed)
	}

	return nil
}

func (s *stubSession) Rollback(_ context.Context) error {
	if s.active {
		s.active = false
		s.backend.rollbacks.Add(1)
	}

	return nil
}

func (s *stubSession) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.active = false
	s.backend.released.Add(1)

	return nil
}

// RequireCanonicalLockOrder is a CommitFunc modelling a lock manager that only ever deadlocks
// when row locks are taken out of ascending key order.
func RequireCanonicalLockOrder(executed []anomaly.Operation) error {
	var last anomaly.ResourceKey
	for _, op := range executed {
		if op.Kind != anomaly.OpLockingRead {
			continue
		}

		if op.Key < last {
			return ErrStubConflict
		}

		last = op.Key
	}

	return nil
}
