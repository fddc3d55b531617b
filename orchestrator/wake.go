// Package orchestrator implements the batched consume → tick → dispatch →
// commit cycle: pull a bounded batch from the orchestrator topic, dedupe
// identical payloads, advance each run by one super-step under a retry
// policy, route exhausted failures to the error topic, and commit offsets
// once per batch.
package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/kflowdev/kflow/graph"
)

// WakeInput is the shape expected inside MessageToOrchestrator's Input
// field. graph.RunContext.Tick takes already-gathered node results as an
// explicit argument, so the wake message carries them directly. Exactly one
// of Start or Completed is populated: Start seeds a brand-new run, Completed
// reports the outcome of tasks dispatched by a prior tick.
type WakeInput[S any] struct {
	// Start seeds a new run when non-nil. Set only on the first message
	// for a given run_id.
	Start *S `json:"start,omitempty"`

	// Completed carries the results of tasks an executor finished since
	// the last tick, keyed by the node and edge that produced them.
	Completed []CompletedTask[S] `json:"completed,omitempty"`
}

// CompletedTask is the wire-friendly analogue of graph.TaskResult: Err is
// carried as a string since executor failures cross a process boundary and
// an error interface value doesn't survive JSON round-tripping.
type CompletedTask[S any] struct {
	NodeID       string     `json:"node_id"`
	ParentNodeID string     `json:"parent_node_id"`
	EdgeIndex    int        `json:"edge_index"`
	Delta        S          `json:"delta"`
	Route        graph.Next `json:"route"`
	ErrMsg       string     `json:"err,omitempty"`
}

func decodeWakeInput[S any](raw json.RawMessage) (WakeInput[S], error) {
	var w WakeInput[S]
	if len(raw) == 0 {
		return w, nil
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, fmt.Errorf("orchestrator: decode wake input: %w", err)
	}
	return w, nil
}

func (w WakeInput[S]) toTaskResults() []graph.TaskResult[S] {
	if len(w.Completed) == 0 {
		return nil
	}
	results := make([]graph.TaskResult[S], 0, len(w.Completed))
	for _, c := range w.Completed {
		tr := graph.TaskResult[S]{
			NodeID:       c.NodeID,
			ParentNodeID: c.ParentNodeID,
			EdgeIndex:    c.EdgeIndex,
			Delta:        c.Delta,
			Route:        c.Route,
		}
		if c.ErrMsg != "" {
			tr.Err = fmt.Errorf("%s", c.ErrMsg)
		}
		results = append(results, tr)
	}
	return results
}
