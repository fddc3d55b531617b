package orchestrator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kflowdev/kflow/broker"
	"github.com/kflowdev/kflow/dispatch"
	"github.com/kflowdev/kflow/graph"
	"github.com/kflowdev/kflow/graph/store"
	"github.com/kflowdev/kflow/proto"
	"github.com/kflowdev/kflow/retry"
)

// Loop is the batched consume → tick → dispatch → commit cycle: one
// instance owns a Consumer and Producer exclusively and advances whatever
// runs its batch names, one super-step per message.
type Loop[S any] struct {
	engine     *graph.Engine[S]
	store      store.Store[S]
	consumer   broker.Consumer
	producer   broker.Producer
	dispatcher *dispatch.Dispatcher[S]
	topics     proto.Topics
	codec      proto.Codec

	groupID     string
	batchMaxN   int
	batchMaxMS  time.Duration
	retryPolicy *retry.Policy

	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Loop at construction time, mirroring the
// graph.Option functional-options pattern.
type Option[S any] func(*Loop[S]) error

// WithGroupID sets the consumer group id. Default "orchestrator".
func WithGroupID[S any](id string) Option[S] {
	return func(l *Loop[S]) error {
		l.groupID = id
		return nil
	}
}

// WithBatchMaxN sets the maximum records per batch. Default 10.
func WithBatchMaxN[S any](n int) Option[S] {
	return func(l *Loop[S]) error {
		if n <= 0 {
			return fmt.Errorf("orchestrator: batch_max_n must be positive, got %d", n)
		}
		l.batchMaxN = n
		return nil
	}
}

// WithBatchMaxMS sets the maximum time to wait for a batch to fill. Default 1s.
func WithBatchMaxMS[S any](d time.Duration) Option[S] {
	return func(l *Loop[S]) error {
		if d <= 0 {
			return fmt.Errorf("orchestrator: batch_max_ms must be positive, got %s", d)
		}
		l.batchMaxMS = d
		return nil
	}
}

// WithRetryPolicy sets the per-message retry policy. Default is a single
// attempt with no retry.
func WithRetryPolicy[S any](p retry.Policy) Option[S] {
	return func(l *Loop[S]) error {
		l.retryPolicy = &p
		return nil
	}
}

// WithCodec overrides the wire codec. Default proto.JSONCodec{}.
func WithCodec[S any](c proto.Codec) Option[S] {
	return func(l *Loop[S]) error {
		l.codec = c
		return nil
	}
}

// WithLoopMetrics attaches a Metrics collector.
func WithLoopMetrics[S any](m *Metrics) Option[S] {
	return func(l *Loop[S]) error {
		l.metrics = m
		return nil
	}
}

// WithTracer overrides the OpenTelemetry tracer used for per-message spans.
func WithTracer[S any](t trace.Tracer) Option[S] {
	return func(l *Loop[S]) error {
		l.tracer = t
		return nil
	}
}

// New builds a Loop bound to an already-dialed consumer and producer. The
// caller is responsible for constructing those (broker.NewKafkaConsumer/
// NewKafkaProducer for production, broker.NewFakeConsumer/NewFakeProducer
// for tests) — Loop itself only owns their lifecycle once Run is called.
func New[S any](engine *graph.Engine[S], st store.Store[S], consumer broker.Consumer, producer broker.Producer, topics proto.Topics, opts ...Option[S]) (*Loop[S], error) {
	l := &Loop[S]{
		engine:     engine,
		store:      st,
		consumer:   consumer,
		producer:   producer,
		topics:     topics,
		codec:      proto.JSONCodec{},
		groupID:    "orchestrator",
		batchMaxN:  10,
		batchMaxMS: time.Second,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.dispatcher = dispatch.New[S](producer, st, topics, l.codec)
	return l, nil
}

// Run drives ProcessBatch in a loop until ctx is cancelled, at which point
// it returns ctx.Err(): the in-flight batch (if any) is abandoned without a
// commit, so its messages redeliver on restart. Any other error from
// ProcessBatch is fatal (a consumer/producer terminal failure) and is
// returned immediately; the caller decides whether to reopen the loop
// against fresh broker clients.
func (l *Loop[S]) Run(ctx context.Context) error {
	teardown := []func() error{l.consumer.Close, l.producer.Close}
	defer func() {
		for i := len(teardown) - 1; i >= 0; i-- {
			_ = teardown[i]()
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := l.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// ProcessBatch runs exactly one iteration: poll, dedupe, dispatch every
// unique message to the engine concurrently, route exhausted failures to
// the error topic, and commit once. Returns one entry per unique message,
// in batch order, including messages routed to the error topic (a payload
// that does not decode yields a zero value) — an empty, nil-error batch
// (nothing polled within batch_max_ms) returns (nil, nil) without committing.
func (l *Loop[S]) ProcessBatch(ctx context.Context) ([]proto.MessageToOrchestrator, error) {
	start := time.Now()

	records, err := l.consumer.PollBatch(ctx, l.batchMaxN, l.batchMaxMS)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	uniqueRaw := dedupeRecords(records, l.metrics)

	g, gctx := errgroup.WithContext(ctx)
	handled := make([]proto.MessageToOrchestrator, len(uniqueRaw))
	for i, raw := range uniqueRaw {
		i, raw := i, raw
		g.Go(func() error {
			var msg proto.MessageToOrchestrator
			_ = l.codec.Unmarshal(raw, &msg) // best-effort, for the returned batch list only
			handled[i] = msg
			return l.each(gctx, raw)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := l.consumer.CommitOffsets(ctx); err != nil {
		return nil, err
	}

	l.metrics.recordBatch(len(uniqueRaw), time.Since(start))
	return handled, nil
}

// dedupeRecords collapses byte-identical payloads within a batch to a
// single entry.
func dedupeRecords(records []broker.Record, m *Metrics) [][]byte {
	seen := make(map[[sha256.Size]byte]struct{}, len(records))
	out := make([][]byte, 0, len(records))
	for _, rec := range records {
		h := sha256.Sum256(rec.Value)
		if _, ok := seen[h]; ok {
			m.incDedupDropped()
			continue
		}
		seen[h] = struct{}{}
		out = append(out, rec.Value)
	}
	return out
}

// each wraps one message's full processing attempt with the retry harness;
// on exhaustion it publishes an ErrorMessage instead of propagating the
// failure, so one bad message never poisons the batch. Only a failure to
// publish that ErrorMessage itself propagates, which fails the whole batch.
func (l *Loop[S]) each(ctx context.Context, raw []byte) error {
	_, err := retry.Do(ctx, l.retryPolicy, func(ctx context.Context) (_ struct{}, err error) {
		// A panic in one attempt becomes that attempt's error, so it is
		// retried and routed like any other failure.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("orchestrator: panic while processing message: %v", r)
			}
		}()
		return struct{}{}, l.attempt(ctx, raw)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	l.metrics.incErrorsRouted()
	errMsg := proto.ErrorMessage{
		ID:          uuid.NewString(),
		SourceTopic: l.topics.Orchestrator,
		OriginalMsg: append([]byte(nil), raw...),
		ErrorRepr:   err.Error(),
	}
	payload, marshalErr := l.codec.Marshal(errMsg)
	if marshalErr != nil {
		return fmt.Errorf("orchestrator: marshal error message: %w", marshalErr)
	}
	if sendErr := l.producer.Send(ctx, l.topics.Error, nil, payload); sendErr != nil {
		return fmt.Errorf("orchestrator: publish error message: %w", sendErr)
	}
	return nil
}

// attempt implements one super-step pass: decode, load-or-start, tick,
// extract new tasks, dispatch.
func (l *Loop[S]) attempt(ctx context.Context, raw []byte) error {
	var msg proto.MessageToOrchestrator
	if err := l.codec.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("orchestrator: decode message: %w", err)
	}

	runID := msg.Config.RunID()
	if runID == "" {
		return ErrMissingRunID
	}

	return traceAttempt(ctx, l.tracer, runID, func(ctx context.Context) error {
		return l.tick(ctx, runID, msg)
	})
}

func (l *Loop[S]) tick(ctx context.Context, runID string, msg proto.MessageToOrchestrator) error {
	l.metrics.incInflight()
	defer l.metrics.decInflight()

	wake, err := decodeWakeInput[S](msg.Input)
	if err != nil {
		return err
	}

	rc := l.engine.NewRunContext(runID)

	var result graph.TickResult[S]
	var cp store.CheckpointV2[S]

	if wake.Start != nil {
		result, err = rc.Start(ctx, *wake.Start)
		if err != nil {
			return fmt.Errorf("orchestrator: start run %s: %w", runID, err)
		}
	} else {
		loaded, loadedCP, err := rc.LoadLatest(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &OrchestratorError{
					Message: "no checkpoint for run " + runID + " and no start input provided",
					Code:    "NO_CHECKPOINT",
				}
			}
			return fmt.Errorf("orchestrator: load checkpoint for run %s: %w", runID, err)
		}
		cp = loadedCP

		result, err = rc.Tick(ctx, loaded.StepID, loaded.State, wake.toTaskResults())
		if err != nil {
			return fmt.Errorf("orchestrator: tick run %s: %w", runID, err)
		}
	}

	// Checkpoint durability is already guaranteed by the time Start/Tick
	// return: graph.Engine.saveCheckpoint runs before either call returns.

	if len(result.Frontier) == 0 {
		return nil
	}

	tasks, err := frontierToTasks(ctx, l.codec, l.store, runID, result.Frontier)
	if err != nil {
		return err
	}

	newTasks := unscheduled(tasks)
	if len(newTasks) == 0 {
		return nil
	}

	l.metrics.addDispatchQueue(len(newTasks))
	defer l.metrics.subDispatchQueue(len(newTasks))

	horizon := interruptHorizon(cp.VersionsSeen)
	if err := l.dispatcher.Schedule(ctx, runID, msg.Config, newTasks, horizon); err != nil {
		return fmt.Errorf("orchestrator: dispatch run %s: %w", runID, err)
	}
	return nil
}
