package anomaly

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Policy resolves a role into a concrete TransactionInstance. It biases key selection towards
// the hot range and lock order away from the canonical order, without ever touching a database.
//
// A Policy is safe for concurrent use. Its only mutable state is the random generator, which is
// guarded by a mutex so concurrent callers never share or lose draws.
type Policy struct {
	keySpace           KeySpace
	hotspotProbability float64
	skewProbability    float64
	templates          map[Role]Template

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy builds a Policy from a scenario. It rejects configurations under which Resolve
// could never find enough distinct keys.
func NewPolicy(cfg ScenarioConfig) (*Policy, error) {
	if err := cfg.KeySpace.Validate(); err != nil {
		return nil, err
	}

	if cfg.HotspotProbability < 0 || cfg.HotspotProbability > 1 {
		return nil, fmt.Errorf("%w: hotspot probability %v", ErrInvalidProbability, cfg.HotspotProbability)
	}

	if cfg.SkewProbability < 0 || cfg.SkewProbability > 1 {
		return nil, fmt.Errorf("%w: skew probability %v", ErrInvalidProbability, cfg.SkewProbability)
	}

	p := &Policy{
		keySpace:           cfg.KeySpace,
		hotspotProbability: cfg.HotspotProbability,
		skewProbability:    cfg.SkewProbability,
		templates:          make(map[Role]Template, len(cfg.Templates)),
	}

	if !p.keySpace.Hot.IsZero() && p.hotspotProbability < 1 && p.keySpace.ColdSize() == 0 {
		return nil, ErrEmptyColdRange
	}

	var errs []error
	reachable := p.reachableKeys()
	for _, tmpl := range cfg.Templates {
		if tmpl.Keys.Min < 1 || tmpl.Keys.Max < tmpl.Keys.Min {
			errs = append(errs, fmt.Errorf("%w: role %s key count [%d, %d]",
				ErrInvalidTemplate, tmpl.Role, tmpl.Keys.Min, tmpl.Keys.Max))
			continue
		}

		if int64(tmpl.Keys.Max) > reachable {
			errs = append(errs, fmt.Errorf("%w: role %s draws up to %d keys but only %d are reachable",
				ErrKeyCountExceedsUniverse, tmpl.Role, tmpl.Keys.Max, reachable))
			continue
		}

		p.templates[tmpl.Role] = tmpl
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec
	}

	p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec

	return p, nil
}

// reachableKeys returns how many distinct keys the draw can ever produce.
func (p *Policy) reachableKeys() int64 {
	hot := p.keySpace.Hot
	switch {
	case hot.IsZero():
		return p.keySpace.Size
	case p.hotspotProbability >= 1:
		return hot.Size()
	case p.hotspotProbability <= 0:
		return p.keySpace.ColdSize()
	default:
		return p.keySpace.Size
	}
}

// Resolve draws keys and an acquisition order for role and binds its template's steps to them.
func (p *Policy) Resolve(role Role) (TransactionInstance, error) {
	tmpl, ok := p.templates[role]
	if !ok {
		return TransactionInstance{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	p.mu.Lock()
	count := tmpl.Keys.Min
	if tmpl.Keys.Max > tmpl.Keys.Min {
		count += p.rng.IntN(tmpl.Keys.Max - tmpl.Keys.Min + 1)
	}

	keys := p.drawDistinctKeys(count)
	slices.Sort(keys)

	// A single key has no order to skew.
	skewed := false
	if len(keys) > 1 && tmpl.SkewOrder != LockOrderAscending && p.rng.Float64() < p.skewProbability {
		skewed = true
		p.applyOrder(keys, tmpl.SkewOrder)
	}
	p.mu.Unlock()

	id := uuid.New()
	ops, err := tmpl.expand(id, keys, skewed)
	if err != nil {
		return TransactionInstance{}, err
	}

	return TransactionInstance{
		ID:         id,
		Role:       role,
		Keys:       keys,
		Operations: ops,
		Skewed:     skewed,
		ThinkTime:  tmpl.ThinkTime,
	}, nil
}

// drawDistinctKeys resamples on duplicates until count unique keys are found. Callers hold p.mu.
func (p *Policy) drawDistinctKeys(count int) []ResourceKey {
	keys := make([]ResourceKey, 0, count)
	seen := make(map[ResourceKey]struct{}, count)

	for len(keys) < count {
		key := p.drawKey()
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return keys
}

// drawKey draws one key: from the hot range with the hotspot probability, otherwise from its
// complement. Callers hold p.mu.
func (p *Policy) drawKey() ResourceKey {
	hot := p.keySpace.Hot
	if hot.IsZero() {
		return ResourceKey(1 + p.rng.Int64N(p.keySpace.Size))
	}

	if p.rng.Float64() < p.hotspotProbability {
		return hot.From + ResourceKey(p.rng.Int64N(hot.Size()))
	}

	return p.keySpace.coldKeyAt(p.rng.Int64N(p.keySpace.ColdSize()))
}

// applyOrder rearranges at least two distinct ascending keys into order. Every skew order
// differs from the canonical ascending one: a shuffle that lands on it is redrawn.
// Callers hold p.mu.
func (p *Policy) applyOrder(keys []ResourceKey, order LockOrder) {
	switch order {
	case LockOrderDescending:
		slices.Reverse(keys)
	case LockOrderShuffled:
		for slices.IsSorted(keys) {
			p.rng.Shuffle(len(keys), func(i, j int) {
				keys[i], keys[j] = keys[j], keys[i]
			})
		}
	case LockOrderAscending:
	}
}
