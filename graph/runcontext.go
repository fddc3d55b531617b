package graph

import (
	"context"
	"encoding/json"

	"github.com/kflowdev/kflow/graph/store"
)

// RunContext scopes a single run (one RunID) against an Engine's topology
// and lets a caller outside this package drive execution one super-step at
// a time, instead of handing the Engine a blocking Run call that owns the
// run end to end.
//
// This is the seam an external scheduler uses: each Tick consumes the
// results of whatever work the caller already dispatched (to executors
// reachable over a broker, say), merges them into accumulated state,
// computes the next frontier, and durably checkpoints before returning it.
// The caller decides when and how the returned frontier gets executed next;
// RunContext never blocks waiting for that work to finish.
type RunContext[S any] struct {
	engine *Engine[S]
	runID  string
}

// NewRunContext scopes subsequent Tick/Start/Resume calls to runID against
// e's registered nodes, edges, and store.
func (e *Engine[S]) NewRunContext(runID string) *RunContext[S] {
	return &RunContext[S]{engine: e, runID: runID}
}

// TaskResult is one node's completed execution, as reported back by
// whatever ran it. ParentNodeID and EdgeIndex identify which work item this
// result answers, so Tick can compute a deterministic OrderKey for whatever
// it routes to next.
type TaskResult[S any] struct {
	NodeID       string
	ParentNodeID string
	EdgeIndex    int
	Delta        S
	Route        Next
	Err          error
}

// TickResult summarizes the outcome of a single super-step: the
// accumulated state, the frontier of work ready for the next step, and
// whether every branch has reached a terminal route.
type TickResult[S any] struct {
	StepID   int
	State    S
	Frontier []WorkItem[S]
	Done     bool
}

// Start seeds a brand-new run at the engine's start node, persists the
// step-0 checkpoint, and returns the initial one-item frontier.
func (rc *RunContext[S]) Start(ctx context.Context, initial S) (TickResult[S], error) {
	e := rc.engine
	e.mu.RLock()
	start := e.startNode
	e.mu.RUnlock()

	if start == "" {
		return TickResult[S]{}, &EngineError{Message: "no start node configured", Code: "NO_START_NODE"}
	}

	frontier := []WorkItem[S]{{
		StepID:       0,
		OrderKey:     computeOrderKey("__start__", 0),
		NodeID:       start,
		State:        initial,
		ParentNodeID: "__start__",
	}}

	if err := e.saveCheckpoint(ctx, rc.runID, 0, initial, frontier, nil, ""); err != nil {
		return TickResult[S]{}, err
	}

	e.emitNodeStart(rc.runID, start, 0)

	return TickResult[S]{StepID: 0, State: initial, Frontier: frontier}, nil
}

// Tick advances the run by one super-step. completed holds the outcome of
// every work item the caller dispatched for stepID; Tick merges their
// deltas into state using the engine's reducer (ordered by OrderKey, same
// as concurrent in-process execution), resolves routing for each result
// (explicit Route first, falling back to registered edges), and durably
// checkpoints the merged state together with the next frontier before
// returning it. Checkpointing happens before Tick returns, so a caller that
// crashes after Tick succeeds never loses the computed frontier - it can
// always recover it via Resume.
//
// A non-nil Err on any TaskResult halts the tick and returns it wrapped in
// an EngineError; the caller's retry harness decides whether to re-attempt
// the failing node or route it to a dead-letter path.
func (rc *RunContext[S]) Tick(ctx context.Context, stepID int, state S, completed []TaskResult[S]) (TickResult[S], error) {
	e := rc.engine

	if e.opts.MaxSteps > 0 && stepID+1 > e.opts.MaxSteps {
		return TickResult[S]{}, &EngineError{
			Message: "workflow exceeded MaxSteps limit",
			Code:    "MAX_STEPS_EXCEEDED",
		}
	}

	results := make([]nodeResult[S], 0, len(completed))
	for _, c := range completed {
		if c.Err != nil {
			e.emitError(rc.runID, c.NodeID, stepID, c.Err)
			return TickResult[S]{}, &EngineError{
				Message: "node " + c.NodeID + ": " + c.Err.Error(),
				Code:    "NODE_EXECUTION_FAILED",
			}
		}
		e.emitNodeEnd(rc.runID, c.NodeID, stepID, c.Delta)
		results = append(results, nodeResult[S]{
			nodeID:   c.NodeID,
			delta:    c.Delta,
			route:    c.Route,
			orderKey: computeOrderKey(c.ParentNodeID, c.EdgeIndex),
		})
	}

	merged := e.mergeDeltas(state, results)
	nextStep := stepID + 1

	var next []WorkItem[S]
	for edgeIdx, c := range completed {
		targets := rc.routeTargets(c)
		if c.Route.Terminal {
			e.emitRoutingDecision(rc.runID, c.NodeID, stepID, map[string]interface{}{"terminal": true})
		} else if len(targets) > 0 {
			e.emitRoutingDecision(rc.runID, c.NodeID, stepID, map[string]interface{}{"next": targets})
		}
		for _, to := range targets {
			if to == "" {
				continue
			}
			next = append(next, WorkItem[S]{
				StepID:       nextStep,
				OrderKey:     computeOrderKey(c.NodeID, edgeIdx),
				NodeID:       to,
				State:        merged,
				ParentNodeID: c.NodeID,
				EdgeIndex:    edgeIdx,
			})
		}
	}

	if err := e.saveCheckpoint(ctx, rc.runID, nextStep, merged, next, nil, ""); err != nil {
		return TickResult[S]{}, err
	}

	return TickResult[S]{
		StepID:   nextStep,
		State:    merged,
		Frontier: next,
		Done:     len(next) == 0,
	}, nil
}

// routeTargets resolves where a completed task's output goes next: its own
// explicit Route takes priority (Stop/Goto/fan-out), and registered edges
// are only consulted when the node left Route zero-valued.
func (rc *RunContext[S]) routeTargets(c TaskResult[S]) []string {
	if c.Route.Terminal {
		return nil
	}
	if len(c.Route.Many) > 0 {
		return c.Route.Many
	}
	if c.Route.To != "" {
		return []string{c.Route.To}
	}
	if to := rc.engine.evaluateEdges(c.NodeID, c.Delta); to != "" {
		return []string{to}
	}
	return nil
}

// Resume reconstructs the TickResult for a previously checkpointed step,
// letting a caller pick a run back up after a crash without replaying every
// prior super-step. stepID must name a step this run actually checkpointed
// (the caller is expected to have recorded the last StepID it observed).
func (rc *RunContext[S]) Resume(ctx context.Context, stepID int) (TickResult[S], error) {
	e := rc.engine
	e.mu.RLock()
	st := e.store
	e.mu.RUnlock()

	cp, err := st.LoadCheckpointV2(ctx, rc.runID, stepID)
	if err != nil {
		return TickResult[S]{}, err
	}

	frontier, err := decodeFrontier[S](cp.Frontier)
	if err != nil {
		return TickResult[S]{}, &EngineError{
			Message: "failed to decode checkpoint frontier: " + err.Error(),
			Code:    "CHECKPOINT_DECODE_FAILED",
		}
	}

	return TickResult[S]{
		StepID:   cp.StepID,
		State:    cp.State,
		Frontier: frontier,
		Done:     len(frontier) == 0,
	}, nil
}

// LoadLatest opens this run against whatever checkpoint the store most
// recently persisted, without the caller already knowing the step number —
// this is the entry point the orchestrator uses: a wake-up message carries
// only a run ID, so the Super-step Engine must rediscover where the run
// left off before it can tick. Returns store.ErrNotFound if runID has never
// been checkpointed (the caller should treat that as "start a new run").
func (rc *RunContext[S]) LoadLatest(ctx context.Context) (TickResult[S], store.CheckpointV2[S], error) {
	e := rc.engine
	e.mu.RLock()
	st := e.store
	e.mu.RUnlock()

	cp, err := st.LoadLatestCheckpointV2(ctx, rc.runID)
	if err != nil {
		return TickResult[S]{}, store.CheckpointV2[S]{}, err
	}

	frontier, err := decodeFrontier[S](cp.Frontier)
	if err != nil {
		return TickResult[S]{}, store.CheckpointV2[S]{}, &EngineError{
			Message: "failed to decode checkpoint frontier: " + err.Error(),
			Code:    "CHECKPOINT_DECODE_FAILED",
		}
	}

	return TickResult[S]{
		StepID:   cp.StepID,
		State:    cp.State,
		Frontier: frontier,
		Done:     len(frontier) == 0,
	}, cp, nil
}

// decodeFrontier normalizes a CheckpointV2.Frontier value back into
// []WorkItem[S]. Stores that hand the value straight back in memory (e.g.
// MemStore) already return the concrete type; stores that round-trip
// through a database return it decoded generically from JSON, so this
// falls back to a marshal/unmarshal pass to recover the concrete type.
func decodeFrontier[S any](raw interface{}) ([]WorkItem[S], error) {
	if raw == nil {
		return nil, nil
	}
	if items, ok := raw.([]WorkItem[S]); ok {
		return items, nil
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var items []WorkItem[S]
	if err := json.Unmarshal(buf, &items); err != nil {
		return nil, err
	}
	return items, nil
}
