package orchestrator

import "errors"

// ErrMissingRunID is returned when a MessageToOrchestrator's config carries
// neither run_id nor thread_id — the message can never be attributed to a
// run, so it is treated as unrecoverable and routed to the error topic
// rather than retried.
var ErrMissingRunID = errors.New("orchestrator: message carries no run id")

// OrchestratorError wraps a per-message failure with enough context to
// explain, in an ErrorMessage, why a message was routed to the error
// topic — mirroring graph.EngineError's {Message, Code} shape.
type OrchestratorError struct {
	Message string
	Code    string
}

func (e *OrchestratorError) Error() string {
	return e.Message
}
