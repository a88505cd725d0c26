// Package scenario provides the built-in workload presets (deadlock, bloat, hotspot) and loads a
// run configuration from a YAML file, CONTENTION_* environment variables and command line flags
// on top of a preset's defaults.
//
// Usage:
//
//	cfg, err := scenario.Load(configPath, cmd.Flags())
//	if err != nil {
//		// invalid configuration, every problem is reported at once
//	}
//
//	scenarioConfig, err := cfg.ScenarioConfig()
package scenario
