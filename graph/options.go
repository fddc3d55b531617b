// Package graph provides the core graph execution engine for LangGraph-Go.
package graph

// Option is a functional option for configuring an Engine.
//
// Functional options provide a clean, extensible API for engine configuration:
//   - Chainable: engine := New(reducer, store, emitter, WithMaxSteps(100)).
//   - Self-documenting: Option names clearly describe their purpose.
//   - Backward compatible: the legacy Options struct still works.
//
// Example:
//
//	engine := graph.New(reducer, store, emitter, graph.WithMaxSteps(100))
//
// Options can be mixed with the Options struct:
//
//	opts := graph.Options{MaxSteps: 100}
//	engine := graph.New(reducer, store, emitter, opts, graph.WithMaxSteps(50))
type Option func(*engineConfig) error

// engineConfig is an internal struct used to collect options before applying them to an Engine.
// This indirection allows validation and composition of options.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits a run to MaxSteps super-steps to prevent infinite loops.
//
// Default: 0 (no limit, use with caution).
//
// Workflow loops (A -> B -> A) are fully supported. Use MaxSteps to stop a
// run whose conditional exit is missing or misconfigured.
//
// Example:
//
//	engine := graph.New(
//	    reducer, store, emitter,
//	    graph.WithMaxSteps(100), // Limit to 100 super-steps
//	)
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.MaxSteps = n
		return nil
	}
}
