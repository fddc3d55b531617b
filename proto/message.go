// Package proto defines the wire-level message shapes exchanged between the
// orchestrator and its two collaborators (executors and the error sink), plus
// the configuration envelope those messages carry.
//
// MessageToOrchestrator/MessageToExecutor are the payloads published to the
// orchestrator and executor topics; ErrorMessage is what gets published to
// the error topic when a message's retries are exhausted.
package proto

import "encoding/json"

// Recognized keys in Config.Configurable. The orchestrator reads RunIDKey on
// every inbound message and writes DedupeTasksKey onto every outbound
// executor message it dispatches.
const (
	RunIDKey       = "run_id"
	ThreadIDKey    = "thread_id"
	DedupeTasksKey = "dedupe_tasks"
)

// Config is the envelope every message carries. Configurable is
// intentionally untyped: besides the string/bool keys the orchestrator
// itself recognizes, a host may inject capability handles (store clients,
// call implementations) that must pass through unchanged. Those extra
// entries are never interpreted by this package — see config.Patch.
type Config struct {
	Configurable map[string]any `json:"configurable"`
}

// RunID extracts the opaque run/thread identifier from Configurable. Returns
// "" if absent or not a string.
func (c Config) RunID() string {
	if c.Configurable == nil {
		return ""
	}
	if v, ok := c.Configurable[RunIDKey]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if v, ok := c.Configurable[ThreadIDKey]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Task is a scheduled invocation of one node within a super-step, as
// extracted from a run's frontier after a tick. ID is the idempotency key:
// a stable hash over node name, trigger versions, and input fingerprint.
// Path is the task's lineage within the super-step, used by nested/fan-out
// tasks; the executor re-derives the task body from Node/Input plus the
// checkpoint named in the enclosing message's Config.
type Task struct {
	ID        string          `json:"id"`
	Path      []string        `json:"path,omitempty"`
	Scheduled bool            `json:"-"`
	Node      string          `json:"node"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// ExecutorTask is the slice of a Task an executor actually needs on the
// wire: it re-derives everything else (node body, input) from the graph
// definition and the checkpoint referenced by the enclosing message's
// Config, so the full Task never needs to round-trip over the broker.
type ExecutorTask struct {
	ID   string   `json:"id"`
	Path []string `json:"path,omitempty"`
}

// MessageToOrchestrator is the payload published to the orchestrator's input
// topic: "advance this run" with whatever new input triggered the wake-up.
type MessageToOrchestrator struct {
	Input  json.RawMessage `json:"input"`
	Config Config          `json:"config"`
}

// MessageToExecutor is the payload published to the executor topic after a
// tick produces unscheduled tasks. Config carries the enabling checkpoint's
// configurable identifiers (never a later checkpoint's), plus
// DedupeTasksKey=true so the executor can recognize orchestrator-originated
// dispatches.
type MessageToExecutor struct {
	Config Config       `json:"config"`
	Task   ExecutorTask `json:"task"`
}

// ErrorMessage is published to the error topic when the retry harness
// exhausts its policy for a message. OriginalMsg carries the undecoded
// orchestrator-topic payload so operators can replay it by hand if needed.
// ID is a freshly minted identifier for this error occurrence, distinct
// from any id carried by OriginalMsg, so operators can dedupe repeated
// error-sink alerts for the same underlying message.
type ErrorMessage struct {
	ID          string          `json:"id"`
	SourceTopic string          `json:"source_topic"`
	OriginalMsg json.RawMessage `json:"original_msg"`
	ErrorRepr   string          `json:"error_repr"`
}

// Topics names the three topics the orchestrator reads and writes.
type Topics struct {
	Orchestrator string
	Executor     string
	Error        string
}
