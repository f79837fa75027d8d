// Package engine orders and runs wisp's build steps.
//
// The implementation is split across multiple files:
//   - graph.go: explicit step dependency graph and run plans
//   - orchestrator.go: sequential step runs with short-circuit on failure
//   - dispatch.go: (pattern, step) watch rules and per-step rebuild coalescing
//   - factory.go: wiring of default collaborators from configuration
//   - safegroup.go: panic-safe concurrency for long-running services
package engine
