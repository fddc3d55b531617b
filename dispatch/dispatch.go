// Package dispatch turns a super-step's unscheduled tasks into executor
// messages and the idempotent SCHEDULED writes that pin them against
// replay: every send for one super-step goes out concurrently, and only
// once every send is acknowledged does persistence of SCHEDULED writes
// begin — sequentially, one task at a time.
package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kflowdev/kflow/broker"
	"github.com/kflowdev/kflow/config"
	"github.com/kflowdev/kflow/graph/store"
	"github.com/kflowdev/kflow/proto"
)

// Dispatcher schedules a run's newly-ready tasks onto the executor topic
// and persists their SCHEDULED writes through a store.Store[S]. One
// Dispatcher is shared across every run handled by an orchestrator
// instance; it carries no per-run state of its own.
type Dispatcher[S any] struct {
	producer broker.Producer
	store    store.Store[S]
	topics   proto.Topics
	codec    proto.Codec
}

// New builds a Dispatcher. codec defaults to proto.JSONCodec{} if nil.
func New[S any](producer broker.Producer, st store.Store[S], topics proto.Topics, codec proto.Codec) *Dispatcher[S] {
	if codec == nil {
		codec = proto.JSONCodec{}
	}
	return &Dispatcher[S]{producer: producer, store: st, topics: topics, codec: codec}
}

// Schedule dispatches tasks for runID. base is the run's config as loaded
// from the enabling checkpoint (already carrying that checkpoint's
// configurable identifiers); interruptVersion is the interrupt horizon to
// pin onto each task's SCHEDULED write, computed by the caller from the
// checkpoint's VersionsSeen[INTERRUPT].
//
// Sends for every task go out concurrently over an errgroup.Group and are
// all awaited before any SCHEDULED write is attempted, so a crash between
// send and persist can cause at most one duplicate dispatch per task, never
// a missed one — the executor is expected to key on Task.ID to tolerate
// that duplicate.
func (d *Dispatcher[S]) Schedule(ctx context.Context, runID string, base proto.Config, tasks []proto.Task, interruptVersion *int64) error {
	if len(tasks) == 0 {
		return nil
	}

	cfg := config.Patch(base, map[string]any{
		proto.DedupeTasksKey: true,
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			msg := proto.MessageToExecutor{
				Config: cfg,
				Task:   proto.ExecutorTask{ID: task.ID, Path: task.Path},
			}
			payload, err := d.codec.Marshal(msg)
			if err != nil {
				return fmt.Errorf("dispatch: marshal task %s: %w", task.ID, err)
			}
			if err := d.producer.Send(gctx, d.topics.Executor, []byte(runID), payload); err != nil {
				return fmt.Errorf("dispatch: send task %s: %w", task.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, task := range tasks {
		if err := d.store.SaveScheduled(ctx, runID, task.ID, interruptVersion); err != nil {
			return fmt.Errorf("dispatch: persist SCHEDULED for task %s: %w", task.ID, err)
		}
	}
	return nil
}
