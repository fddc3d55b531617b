package graph

// Reducer merges a node's delta into accumulated state. Must be
// deterministic and safe to re-apply during replay: same (prev, delta)
// always yields the same result.
type Reducer[S any] func(prev S, delta S) S
