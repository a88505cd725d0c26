package scenario

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

// Preset names.
const (
	Deadlock = "deadlock"
	Bloat    = "bloat"
	Hotspot  = "hotspot"
)

// Roles of the deadlock preset.
const (
	RoleBuyer     anomaly.Role = "buyer"
	RoleRestocker anomaly.Role = "restocker"
	RoleReporter  anomaly.Role = "reporter"
)

// Roles of the bloat preset.
const (
	RoleSessionUpdater anomaly.Role = "session_updater"
	RoleCacheChurner   anomaly.Role = "cache_churner"
)

// Roles of the hotspot preset.
const (
	RoleSensorWriter   anomaly.Role = "sensor_writer"
	RoleDeviceUpserter anomaly.Role = "device_upserter"
)

// Preset is a named, fully populated scenario.
type Preset struct {
	Name        string
	Description string
	Config      anomaly.ScenarioConfig
}

var defaultRetry = anomaly.RetryPolicy{
	MaxAttempts:  3,
	BaseDelay:    50 * time.Millisecond,
	MaxDelay:     time.Second,
	JitterFactor: 0.5,
}

var defaultConnect = anomaly.ConnectPolicy{
	MaxAttempts: 5,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

const defaultGraceTimeout = 10 * time.Second

// Presets returns all built-in presets sorted by name. Each call returns fresh copies.
func Presets() []Preset {
	presets := []Preset{deadlockPreset(), bloatPreset(), hotspotPreset()}
	slices.SortFunc(presets, func(a, b Preset) int { return strings.Compare(a.Name, b.Name) })

	return presets
}

// Lookup returns the preset with the given name.
func Lookup(name string) (Preset, error) {
	for _, preset := range Presets() {
		if preset.Name == name {
			return preset, nil
		}
	}

	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
}

// Names returns the preset names sorted alphabetically.
func Names() []string {
	presets := Presets()
	names := make([]string, 0, len(presets))
	for _, preset := range presets {
		names = append(names, preset.Name)
	}

	return names
}

// deadlockPreset: buyers lock two products in reverse order while restockers lock several in
// random order, both holding the locks during think time. Reporters read in canonical order.
func deadlockPreset() Preset {
	return Preset{
		Name:        Deadlock,
		Description: "buyers and restockers lock inventory rows in conflicting orders",
		Config: anomaly.ScenarioConfig{
			Name: Deadlock,
			Tables: []anomaly.Table{
				{Name: "inventory", Kind: anomaly.TableResource},
				{Name: "orders", Kind: anomaly.TableLog},
				{Name: "inventory_logs", Kind: anomaly.TableLog},
			},
			Templates: []anomaly.Template{
				{
					Role:      RoleBuyer,
					Keys:      anomaly.KeyCount{Min: 2, Max: 2},
					SkewOrder: anomaly.LockOrderDescending,
					ThinkTime: anomaly.DelayRange{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond},
					Steps: []anomaly.Step{
						{Kind: anomaly.OpLockingRead, Table: "inventory", Slot: anomaly.EachKey},
						{Kind: anomaly.OpWrite, Table: "inventory", Slot: anomaly.EachKey, Delta: -1},
						{Kind: anomaly.OpInsert, Table: "orders", Slot: 0},
					},
				},
				{
					Role:      RoleRestocker,
					Keys:      anomaly.KeyCount{Min: 3, Max: 8},
					SkewOrder: anomaly.LockOrderShuffled,
					ThinkTime: anomaly.DelayRange{Min: 100 * time.Millisecond, Max: 200 * time.Millisecond},
					Pacing:    anomaly.DelayRange{Min: 5 * time.Second, Max: 15 * time.Second},
					Steps: []anomaly.Step{
						{Kind: anomaly.OpLockingRead, Table: "inventory", Slot: anomaly.EachKey},
						{Kind: anomaly.OpWrite, Table: "inventory", Slot: anomaly.EachKey, Delta: 25},
						{Kind: anomaly.OpInsert, Table: "inventory_logs", Slot: anomaly.EachKey},
					},
				},
				{
					Role:      RoleReporter,
					Keys:      anomaly.KeyCount{Min: 5, Max: 10},
					SkewOrder: anomaly.LockOrderAscending,
					Pacing:    anomaly.DelayRange{Min: 10 * time.Second, Max: 10 * time.Second},
					Steps: []anomaly.Step{
						{Kind: anomaly.OpRead, Table: "inventory", Slot: anomaly.EachKey},
					},
				},
			},
			Workers: map[anomaly.Role]int{
				RoleBuyer:     20,
				RoleRestocker: 5,
				RoleReporter:  1,
			},
			KeySpace:           anomaly.KeySpace{Size: 100},
			HotspotProbability: 0,
			SkewProbability:    0.3,
			Pacing:             anomaly.DelayRange{Min: 500 * time.Millisecond, Max: 2 * time.Second},
			Retry:              defaultRetry,
			Connect:            defaultConnect,
			GraceTimeout:       defaultGraceTimeout,
		},
	}
}

// bloatPreset: session updaters rewrite the same rows over and over, cache churners delete and
// re-insert log rows, which leaves dead tuples behind on MVCC engines.
func bloatPreset() Preset {
	return Preset{
		Name:        Bloat,
		Description: "in-place updates and delete/insert churn that accumulate dead tuples",
		Config: anomaly.ScenarioConfig{
			Name: Bloat,
			Tables: []anomaly.Table{
				{Name: "user_sessions", Kind: anomaly.TableResource},
				{Name: "analytics_cache", Kind: anomaly.TableLog},
			},
			Templates: []anomaly.Template{
				{
					Role:      RoleSessionUpdater,
					Keys:      anomaly.KeyCount{Min: 50, Max: 100},
					SkewOrder: anomaly.LockOrderAscending,
					Steps: []anomaly.Step{
						{Kind: anomaly.OpWrite, Table: "user_sessions", Slot: anomaly.EachKey, Delta: 1},
					},
				},
				{
					Role:      RoleCacheChurner,
					Keys:      anomaly.KeyCount{Min: 10, Max: 20},
					SkewOrder: anomaly.LockOrderAscending,
					Steps: []anomaly.Step{
						{Kind: anomaly.OpDelete, Table: "analytics_cache", Slot: anomaly.EachKey},
						{Kind: anomaly.OpInsert, Table: "analytics_cache", Slot: anomaly.EachKey},
					},
				},
			},
			Workers: map[anomaly.Role]int{
				RoleSessionUpdater: 2,
				RoleCacheChurner:   2,
			},
			KeySpace:     anomaly.KeySpace{Size: 1000},
			Pacing:       anomaly.DelayRange{Min: time.Second, Max: time.Second},
			FatalBackoff: 5 * time.Second,
			Retry:        defaultRetry,
			Connect:      defaultConnect,
			GraceTimeout: defaultGraceTimeout,
		},
	}
}

// hotspotPreset: most writes land in a narrow key range, which concentrates load on a single
// partition or shard bucket.
func hotspotPreset() Preset {
	return Preset{
		Name:        Hotspot,
		Description: "skewed key distribution that overloads one partition",
		Config: anomaly.ScenarioConfig{
			Name: Hotspot,
			Tables: []anomaly.Table{
				{Name: "device_metadata", Kind: anomaly.TableResource},
				{Name: "sensor_readings", Kind: anomaly.TableLog},
			},
			Templates: []anomaly.Template{
				{
					Role:      RoleSensorWriter,
					Keys:      anomaly.KeyCount{Min: 10, Max: 20},
					SkewOrder: anomaly.LockOrderAscending,
					Steps: []anomaly.Step{
						{Kind: anomaly.OpInsert, Table: "sensor_readings", Slot: anomaly.EachKey},
					},
				},
				{
					Role:      RoleDeviceUpserter,
					Keys:      anomaly.KeyCount{Min: 1, Max: 3},
					SkewOrder: anomaly.LockOrderShuffled,
					ThinkTime: anomaly.DelayRange{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond},
					Steps: []anomaly.Step{
						{Kind: anomaly.OpLockingRead, Table: "device_metadata", Slot: anomaly.EachKey},
						{Kind: anomaly.OpWrite, Table: "device_metadata", Slot: anomaly.EachKey, Delta: 1},
					},
				},
			},
			Workers: map[anomaly.Role]int{
				RoleSensorWriter:   2,
				RoleDeviceUpserter: 2,
			},
			KeySpace: anomaly.KeySpace{
				Size: 10000,
				Hot:  anomaly.KeyRange{From: 1000, To: 2000},
			},
			HotspotProbability: 0.8,
			SkewProbability:    0.2,
			Pacing:             anomaly.DelayRange{Min: time.Second, Max: 2 * time.Second},
			FatalBackoff:       5 * time.Second,
			Retry:              defaultRetry,
			Connect:            defaultConnect,
			GraceTimeout:       defaultGraceTimeout,
		},
	}
}
