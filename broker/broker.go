// Package broker defines the transport seam between the orchestrator and
// the partitioned log it reads from and writes to. Consumer and Producer
// are narrow interfaces so the orchestrator package never imports a Kafka
// client directly; broker/kafka.go backs them with
// github.com/twmb/franz-go, and broker/fake.go provides an in-memory pair
// used by tests instead of a live cluster, the same way store.MemStore
// stands in for a live database when testing the Engine.
package broker

import (
	"context"
	"time"
)

// Record is one fetched or produced message. Key is optional and, when
// present, is typically the run ID so a deployment can rely on per-run
// FIFO ordering from the broker's per-partition guarantees.
type Record struct {
	Topic string
	Key   []byte
	Value []byte
}

// Consumer pulls bounded batches from one topic under a consumer group and
// commits offsets once the caller has finished processing a batch. All
// methods are safe to call from a single goroutine only — the orchestrator
// owns one Consumer exclusively per instance.
type Consumer interface {
	// PollBatch waits up to maxWait for up to maxN records across all
	// assigned partitions. Returns an empty, nil-error slice on timeout
	// with nothing available — the caller must not treat that as an
	// error or attempt a commit.
	PollBatch(ctx context.Context, maxN int, maxWait time.Duration) ([]Record, error)

	// CommitOffsets durably advances the consumer group's committed
	// offsets to cover every record returned by the most recent
	// PollBatch call. Must only be invoked after every message in that
	// batch has either succeeded or been routed to the error topic.
	CommitOffsets(ctx context.Context) error

	// Close releases the consumer's broker connections. Safe to call
	// even if the consumer was never successfully polled.
	Close() error
}

// Producer publishes records and can await delivery acknowledgment for
// each one individually, which is what lets the Super-step Engine send a
// super-step's executor messages in parallel and block on all
// acknowledgments before persisting SCHEDULED writes.
type Producer interface {
	// Send publishes value to topic and blocks until the broker
	// acknowledges it (or ctx is cancelled, or the send fails
	// terminally). Concurrent calls from multiple goroutines are safe.
	Send(ctx context.Context, topic string, key, value []byte) error

	// Close flushes any buffered records and releases the producer's
	// broker connections.
	Close() error
}
