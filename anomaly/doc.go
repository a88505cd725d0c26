// Package anomaly provides the core abstractions of the contention simulator:
// resource key spaces, transaction templates, and the anomaly policy that biases
// how concurrent workers collide on shared keys.
//
// The package is free of any database dependency. Backends (PostgreSQL, MySQL, Redis)
// implement the Backend and Session interfaces defined here, and the engine package
// drives them with a pool of role-based workers.
//
// Key types:
//   - KeySpace: the universe [1, N] of resource keys with an optional hot subrange
//   - Template: the parameterized shape of one role's transaction
//   - Policy: turns a role into a concrete TransactionInstance (keys, order, operations)
//   - ScenarioConfig: the immutable configuration shared by all workers of a run
//   - Outcome: the classified result of executing one TransactionInstance
//
// Common usage pattern:
//
//	policy, err := anomaly.NewPolicy(cfg)
//	if err != nil {
//		// handle error
//	}
//
//	instance, err := policy.Resolve("buyer")
//	if err != nil {
//		// handle error
//	}
//
//	for _, op := range instance.Operations {
//		// execute op inside one transaction
//	}
package anomaly
