package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kflowdev/kflow/graph"
	"github.com/kflowdev/kflow/graph/store"
	"github.com/kflowdev/kflow/proto"
)

// taskID hashes the node name, its OrderKey (a stand-in for a trigger-version
// fingerprint — see graph.WorkItem.OrderKey), and the marshaled input
// together into a stable identifier. The same (node, order key, input)
// combination always yields the same id, which is what lets an executor
// dedupe a replayed dispatch.
func taskID(nodeID string, orderKey uint64, input []byte) string {
	h := sha256.New()
	h.Write([]byte(nodeID))
	h.Write([]byte(strconv.FormatUint(orderKey, 10)))
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// frontierToTasks converts a tick's ready frontier into proto.Task values
// and reports which are still unscheduled against st, so the caller can
// dispatch exactly the tasks not yet dispatched. Tasks already marked
// SCHEDULED (a replay of a prior, interrupted tick) are included with
// Scheduled=true and must not be re-dispatched.
func frontierToTasks[S any](ctx context.Context, codec proto.Codec, st store.Store[S], runID string, frontier []graph.WorkItem[S]) ([]proto.Task, error) {
	tasks := make([]proto.Task, 0, len(frontier))
	for _, item := range frontier {
		input, err := codec.Marshal(item.State)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: marshal task input for %s: %w", item.NodeID, err)
		}

		id := taskID(item.NodeID, item.OrderKey, input)
		scheduled, err := st.IsScheduled(ctx, runID, id)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: check scheduled for task %s: %w", id, err)
		}

		tasks = append(tasks, proto.Task{
			ID:        id,
			Path:      []string{item.ParentNodeID, strconv.Itoa(item.EdgeIndex)},
			Scheduled: scheduled,
			Node:      item.NodeID,
			Input:     json.RawMessage(input),
		})
	}
	return tasks, nil
}

// unscheduled returns the subset of tasks not yet marked SCHEDULED.
func unscheduled(tasks []proto.Task) []proto.Task {
	out := make([]proto.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.Scheduled {
			out = append(out, t)
		}
	}
	return out
}

// interruptHorizon returns the maximum version recorded under the
// reserved INTERRUPT key of versionsSeen, or nil if that key was never
// observed.
func interruptHorizon(versionsSeen map[string]map[string]int64) *int64 {
	channels, ok := versionsSeen[interruptKey]
	if !ok {
		return nil
	}
	var max *int64
	for _, v := range channels {
		if max == nil || v > *max {
			val := v
			max = &val
		}
	}
	return max
}

// interruptKey is the reserved versionsSeen entry consulted to pin a
// SCHEDULED write's interrupt horizon at dispatch time.
const interruptKey = "INTERRUPT"
