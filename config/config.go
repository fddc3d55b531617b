// Package config provides the small configuration-envelope helpers the
// orchestrator needs: merging a checkpoint's configurable identifiers onto
// an outbound message without clobbering unrelated keys already present
// (capability handles, trace IDs).
package config

import "github.com/kflowdev/kflow/proto"

// Patch returns a copy of base whose Configurable map has every key in
// overrides applied on top. Keys present in base but absent from overrides
// are preserved untouched — this is how the orchestrator attaches the
// enabling checkpoint's identifiers (plus proto.DedupeTasksKey) to an
// executor message while keeping whatever capability handles or trace IDs
// the inbound message's config already carried.
func Patch(base proto.Config, overrides map[string]any) proto.Config {
	merged := make(map[string]any, len(base.Configurable)+len(overrides))
	for k, v := range base.Configurable {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return proto.Config{Configurable: merged}
}
