package graph

import (
	"crypto/sha256"
	"encoding/binary"
)

// WorkItem represents a schedulable unit of work in a run's frontier.
// Each WorkItem contains all the context needed to execute a node, including
// the node's input state, execution metadata, and provenance information for
// deterministic ordering.
//
// WorkItems are created when nodes produce routing decisions and are
// returned from RunContext.Start/Tick for the caller to dispatch. The
// OrderKey ensures deterministic merge order even when tasks complete out of
// order.
type WorkItem[S any] struct {
	// StepID is the monotonically increasing step number in the run
	StepID int `json:"step_id"`

	// OrderKey is a deterministic sort key computed from hash(parent_node_id, edge_index).
	// This ensures consistent merge order across replays.
	OrderKey uint64 `json:"order_key"`

	// NodeID identifies the node to execute for this work item
	NodeID string `json:"node_id"`

	// State is the snapshot of state for this work item's execution
	State S `json:"state"`

	// Attempt is the retry counter (0 for first execution, 1+ for retries)
	Attempt int `json:"attempt"`

	// ParentNodeID is the node that spawned this work item, used for order-key computation
	ParentNodeID string `json:"parent_node_id"`

	// EdgeIndex is the index of the edge taken from parent, used for deterministic ordering
	EdgeIndex int `json:"edge_index"`
}

// ComputeOrderKey generates a deterministic sort key from the parent node ID and edge index.
// This key ensures consistent merge ordering across replays, regardless of the
// order in which task results are reported back.
//
// The key is computed as follows:
//  1. Hash the concatenation of parentNodeID + edgeIndex (as 4-byte big-endian int)
//  2. Extract the first 8 bytes of the SHA-256 hash
//  3. Interpret as uint64 (big-endian)
//
// This approach guarantees:
//   - Determinism: Same inputs always produce the same order key
//   - Low collision probability: SHA-256 provides cryptographic collision resistance
//   - Total ordering: uint64 keys can be consistently sorted
//   - Path awareness: Keys capture the execution path context
func ComputeOrderKey(parentNodeID string, edgeIndex int) uint64 {
	return computeOrderKey(parentNodeID, edgeIndex)
}

// computeOrderKey is the internal implementation (lowercase for package-internal use)
func computeOrderKey(parentNodeID string, edgeIndex int) uint64 {
	h := sha256.New()

	h.Write([]byte(parentNodeID))

	edgeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(edgeBytes, uint32(edgeIndex))
	h.Write(edgeBytes)

	hashBytes := h.Sum(nil)
	orderKey := binary.BigEndian.Uint64(hashBytes[:8])

	return orderKey
}
