package proto

import "encoding/json"

// Codec serializes and deserializes broker payloads. The orchestrator
// assumes a symmetric Marshal/Unmarshal pair; no wire schema is mandated
// beyond the record shapes in this package, so a deployment can swap in a
// protobuf or msgpack codec without touching orchestrator logic.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default Codec: checkpoints and wire messages are
// JSON-serializable by default, with the Codec interface left pluggable for
// deployments that want a binary wire format.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
