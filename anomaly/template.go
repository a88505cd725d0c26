package anomaly

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// OperationKind is the kind of data access an Operation performs.
type OperationKind int

const (
	// OpLockingRead reads a resource row and takes an exclusive row lock (SELECT ... FOR UPDATE).
	OpLockingRead OperationKind = iota + 1
	// OpRead reads a resource row without locking it.
	OpRead
	// OpWrite updates a resource row in place.
	OpWrite
	// OpInsert appends a row to a log table.
	OpInsert
	// OpDelete removes all log rows referencing a key.
	OpDelete
)

func (k OperationKind) String() string {
	switch k {
	case OpLockingRead:
		return "locking_read"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", int(k))
	}
}

// TableKind distinguishes the two table shapes the simulator writes to.
type TableKind int

const (
	// TableResource tables hold one row per key: id, counter, payload, updated_at.
	TableResource TableKind = iota + 1
	// TableLog tables are append-only: id, resource_id, payload, created_at.
	TableLog
)

func (k TableKind) String() string {
	switch k {
	case TableResource:
		return "resource"
	case TableLog:
		return "log"
	default:
		return fmt.Sprintf("table_kind(%d)", int(k))
	}
}

// Table declares a table a scenario touches.
type Table struct {
	Name string
	Kind TableKind
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Validate checks the name is a plain lower-case identifier and the kind is known.
func (t Table) Validate() error {
	if !tableNamePattern.MatchString(t.Name) {
		return fmt.Errorf("%w: table name %q is not a plain identifier", ErrInvalidTemplate, t.Name)
	}

	if t.Kind != TableResource && t.Kind != TableLog {
		return fmt.Errorf("%w: table %q has unknown kind %s", ErrInvalidTemplate, t.Name, t.Kind)
	}

	return nil
}

// accepts reports whether an operation of kind k may target a table of this kind.
func (t Table) accepts(k OperationKind) bool {
	switch k {
	case OpLockingRead, OpRead, OpWrite:
		return t.Kind == TableResource
	case OpInsert, OpDelete:
		return t.Kind == TableLog
	default:
		return false
	}
}

// LockOrder is the order in which a template acquires its keys when the policy skews it.
type LockOrder int

const (
	// LockOrderAscending is the canonical order shared by all roles. A template with this
	// skew order never diverges.
	LockOrderAscending LockOrder = iota
	// LockOrderDescending reverses the canonical order.
	LockOrderDescending
	// LockOrderShuffled randomizes the order, never landing on the canonical one.
	LockOrderShuffled
)

func (o LockOrder) String() string {
	switch o {
	case LockOrderAscending:
		return "ascending"
	case LockOrderDescending:
		return "descending"
	case LockOrderShuffled:
		return "shuffled"
	default:
		return fmt.Sprintf("lock_order(%d)", int(o))
	}
}

// ParseLockOrder parses the textual form produced by LockOrder.String.
func ParseLockOrder(s string) (LockOrder, error) {
	switch s {
	case "", "ascending":
		return LockOrderAscending, nil
	case "descending":
		return LockOrderDescending, nil
	case "shuffled":
		return LockOrderShuffled, nil
	default:
		return 0, fmt.Errorf("%w: unknown lock order %q", ErrInvalidTemplate, s)
	}
}

// EachKey makes a Step apply to every resolved key, in acquisition order.
const EachKey = -1

// Step is one operation of a template, not yet bound to a concrete key.
type Step struct {
	Kind  OperationKind
	Table string
	// Slot indexes into the resolved keys, or is EachKey.
	Slot int
	// Delta is the counter change applied by OpWrite.
	Delta int64
}

// KeyCount is the inclusive range of distinct keys a template draws per instance.
type KeyCount struct {
	Min int
	Max int
}

// Template is the parameterized shape of one role's transaction.
type Template struct {
	Role      Role
	Keys      KeyCount
	SkewOrder LockOrder
	Steps     []Step
	// ThinkTime is slept between consecutive operations while the transaction holds its locks.
	ThinkTime DelayRange
	// Pacing overrides the scenario's pacing range for this role when non-zero.
	Pacing DelayRange
}

// Validate checks the template is well-formed against the declared tables.
func (t Template) Validate(tables map[string]Table) error {
	if t.Role == "" {
		return fmt.Errorf("%w: empty role", ErrInvalidTemplate)
	}

	if t.Keys.Min < 1 || t.Keys.Max < t.Keys.Min {
		return fmt.Errorf("%w: role %s key count [%d, %d] must satisfy 1 <= min <= max",
			ErrInvalidTemplate, t.Role, t.Keys.Min, t.Keys.Max)
	}

	if t.SkewOrder < LockOrderAscending || t.SkewOrder > LockOrderShuffled {
		return fmt.Errorf("%w: role %s has unknown skew order %d", ErrInvalidTemplate, t.Role, t.SkewOrder)
	}

	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: role %s has no steps", ErrInvalidTemplate, t.Role)
	}

	for i, step := range t.Steps {
		table, ok := tables[step.Table]
		if !ok {
			return fmt.Errorf("%w: role %s step %d references undeclared table %q",
				ErrInvalidTemplate, t.Role, i, step.Table)
		}

		if !table.accepts(step.Kind) {
			return fmt.Errorf("%w: role %s step %d: %s is not allowed on %s table %q",
				ErrInvalidTemplate, t.Role, i, step.Kind, table.Kind, table.Name)
		}

		if step.Slot != EachKey && (step.Slot < 0 || step.Slot >= t.Keys.Min) {
			return fmt.Errorf("%w: role %s step %d slot %d is outside the guaranteed key count %d",
				ErrInvalidTemplate, t.Role, i, step.Slot, t.Keys.Min)
		}
	}

	if err := t.ThinkTime.Validate(); err != nil {
		return fmt.Errorf("role %s think time: %w", t.Role, err)
	}

	if t.ThinkTime.Max > maxThinkTime {
		return fmt.Errorf("%w: role %s think time %s exceeds %s",
			ErrInvalidTemplate, t.Role, t.ThinkTime.Max, maxThinkTime)
	}

	if err := t.Pacing.Validate(); err != nil {
		return fmt.Errorf("role %s pacing: %w", t.Role, err)
	}

	return nil
}

// Operation is one concrete data access of a TransactionInstance.
type Operation struct {
	Kind    OperationKind
	Table   string
	Key     ResourceKey
	Delta   int64
	Payload []byte
}

// TransactionInstance is a template bound to concrete keys in a concrete order.
// It is owned by the worker that resolved it and never shared.
type TransactionInstance struct {
	ID         uuid.UUID
	Role       Role
	Keys       []ResourceKey
	Operations []Operation
	// Skewed is true when the keys are in the template's skew order, which is never ascending.
	Skewed    bool
	ThinkTime DelayRange
}

type operationPayload struct {
	InstanceID string      `json:"instance_id"`
	Role       Role        `json:"role"`
	Key        ResourceKey `json:"key"`
	Step       int         `json:"step"`
	Skewed     bool        `json:"skewed"`
}

// expand binds the template's steps to keys, in step order, EachKey steps following the key order.
func (t Template) expand(id uuid.UUID, keys []ResourceKey, skewed bool) ([]Operation, error) {
	ops := make([]Operation, 0, len(t.Steps)*len(keys))

	bind := func(stepIdx int, step Step, key ResourceKey) error {
		op := Operation{Kind: step.Kind, Table: step.Table, Key: key, Delta: step.Delta}

		if step.Kind == OpWrite || step.Kind == OpInsert {
			payload, err := jsoniter.ConfigFastest.Marshal(operationPayload{
				InstanceID: id.String(),
				Role:       t.Role,
				Key:        key,
				Step:       stepIdx,
				Skewed:     skewed,
			})
			if err != nil {
				return fmt.Errorf("building payload for role %s step %d: %w", t.Role, stepIdx, err)
			}

			op.Payload = payload
		}

		ops = append(ops, op)

		return nil
	}

	for i, step := range t.Steps {
		if step.Slot != EachKey {
			if err := bind(i, step, keys[step.Slot]); err != nil {
				return nil, err
			}

			continue
		}

		for _, key := range keys {
			if err := bind(i, step, key); err != nil {
				return nil, err
			}
		}
	}

	return ops, nil
}

// pacingOr returns the template's pacing override or fallback.
func (t Template) pacingOr(fallback DelayRange) DelayRange {
	if t.Pacing.IsZero() {
		return fallback
	}

	return t.Pacing
}

// maxThinkTime bounds think time so a misconfigured template cannot hold locks for minutes.
const maxThinkTime = 30 * time.Second
