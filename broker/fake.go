package broker

import (
	"context"
	"sync"
	"time"
)

// FakeConsumer is an in-memory Consumer used by orchestrator/dispatch
// tests in place of a live Kafka cluster — the same role store.MemStore
// plays for the checkpoint store in tests. Records are queued with Enqueue
// and drained by PollBatch in FIFO order.
type FakeConsumer struct {
	mu      sync.Mutex
	pending []Record
	// delivered tracks how many records have been handed out since the
	// last commit, so CommitOffsets can simulate "advance past exactly
	// what was polled".
	delivered int
	commits   int
	closed    bool
	// StopAfterEmpty, when set, makes PollBatch return (nil, nil) at once
	// whenever pending is drained. By default PollBatch instead polls for
	// newly enqueued records until maxWait elapses (then returns nil, nil)
	// or ctx is cancelled, letting tests push records incrementally.
	StopAfterEmpty bool
}

// NewFakeConsumer returns a FakeConsumer with the given records
// pre-enqueued, in order.
func NewFakeConsumer(records ...Record) *FakeConsumer {
	return &FakeConsumer{pending: records}
}

// Enqueue appends more records for a subsequent PollBatch to return.
func (f *FakeConsumer) Enqueue(records ...Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, records...)
}

func (f *FakeConsumer) PollBatch(ctx context.Context, maxN int, maxWait time.Duration) ([]Record, error) {
	deadline := time.Now().Add(maxWait)
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			n := len(f.pending)
			if n > maxN {
				n = maxN
			}
			batch := make([]Record, n)
			copy(batch, f.pending[:n])
			f.pending = f.pending[n:]
			f.delivered += n
			f.mu.Unlock()
			return batch, nil
		}
		stop := f.StopAfterEmpty
		f.mu.Unlock()

		if stop || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Commits returns how many CommitOffsets calls have been observed,
// letting tests assert "exactly once per batch".
func (f *FakeConsumer) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

func (f *FakeConsumer) CommitOffsets(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	f.delivered = 0
	return nil
}

func (f *FakeConsumer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeConsumer) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeProducer is an in-memory Producer: Send appends to Sent instead of
// publishing to a broker. FailTopics lets tests force a send to a
// specific topic to fail, to exercise the error-routing and retry paths.
type FakeProducer struct {
	mu         sync.Mutex
	Sent       []Record
	FailTopics map[string]error
	closed     bool
}

func NewFakeProducer() *FakeProducer {
	return &FakeProducer{FailTopics: make(map[string]error)}
}

func (f *FakeProducer) Send(ctx context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailTopics[topic]; ok && err != nil {
		return err
	}
	f.Sent = append(f.Sent, Record{Topic: topic, Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	return nil
}

func (f *FakeProducer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeProducer) SentTo(topic string) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.Sent {
		if r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}
