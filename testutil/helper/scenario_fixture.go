package helper

import (
	"time"

	"github.com/AntonStoeckl/contention-simulator/anomaly"
)

const (
	FixtureResourceTable = "inventory"
	FixtureLogTable      = "orders"

	FixtureRoleBuyer     anomaly.Role = "buyer"
	FixtureRoleRestocker anomaly.Role = "restocker"
	FixtureRoleReporter  anomaly.Role = "reporter"
)

// ScenarioFixture returns a small valid deadlock-style scenario with fast timings.
// Buyers skew descending while restockers and reporters always lock in canonical order, so at
// skew probability 1 a buyer and a restocker take any shared pair of keys in opposite orders.
func ScenarioFixture() anomaly.ScenarioConfig {
	return anomaly.ScenarioConfig{
		Name: "fixture",
		Tables: []anomaly.Table{
			{Name: FixtureResourceTable, Kind: anomaly.TableResource},
			{Name: FixtureLogTable, Kind: anomaly.TableLog},
		},
		Templates: []anomaly.Template{
			{
				Role:      FixtureRoleBuyer,
				Keys:      anomaly.KeyCount{Min: 2, Max: 2},
				SkewOrder: anomaly.LockOrderDescending,
				Steps: []anomaly.Step{
					{Kind: anomaly.OpLockingRead, Table: FixtureResourceTable, Slot: anomaly.EachKey},
					{Kind: anomaly.OpWrite, Table: FixtureResourceTable, Slot: anomaly.EachKey, Delta: -1},
					{Kind: anomaly.OpInsert, Table: FixtureLogTable, Slot: 0},
				},
			},
			{
				Role:      FixtureRoleRestocker,
				Keys:      anomaly.KeyCount{Min: 2, Max: 4},
				SkewOrder: anomaly.LockOrderAscending,
				Steps: []anomaly.Step{
					{Kind: anomaly.OpLockingRead, Table: FixtureResourceTable, Slot: anomaly.EachKey},
					{Kind: anomaly.OpWrite, Table: FixtureResourceTable, Slot: anomaly.EachKey, Delta: 5},
				},
			},
			{
				Role:      FixtureRoleReporter,
				Keys:      anomaly.KeyCount{Min: 2, Max: 3},
				SkewOrder: anomaly.LockOrderAscending,
				Steps: []anomaly.Step{
					{Kind: anomaly.OpLockingRead, Table: FixtureResourceTable, Slot: anomaly.EachKey},
				},
			},
		},
		Workers: map[anomaly.Role]int{
			FixtureRoleBuyer:     2,
			FixtureRoleRestocker: 1,
			FixtureRoleReporter:  1,
		},
		KeySpace: anomaly.KeySpace{
			Size: 100,
			Hot:  anomaly.KeyRange{From: 10, To: 20},
		},
		HotspotProbability: 0.5,
		SkewProbability:    0.5,
		Pacing:             anomaly.DelayRange{Min: time.Millisecond, Max: 2 * time.Millisecond},
		FatalBackoff:       time.Millisecond,
		Retry: anomaly.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    4 * time.Millisecond,
		},
		Connect: anomaly.ConnectPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		GraceTimeout: time.Second,
		Seed:         42,
	}
}
