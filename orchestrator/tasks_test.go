package orchestrator

import (
	"context"
	"testing"

	"github.com/kflowdev/kflow/graph"
	"github.com/kflowdev/kflow/graph/store"
	"github.com/kflowdev/kflow/proto"
)

func TestTaskIDDeterministic(t *testing.T) {
	id1 := taskID("n1", 7, []byte(`{"x":1}`))
	id2 := taskID("n1", 7, []byte(`{"x":1}`))
	if id1 != id2 {
		t.Fatalf("taskID not deterministic: %q != %q", id1, id2)
	}
}

func TestTaskIDDiffersByOrderKey(t *testing.T) {
	id1 := taskID("n1", 1, []byte(`{"x":1}`))
	id2 := taskID("n1", 2, []byte(`{"x":1}`))
	if id1 == id2 {
		t.Fatalf("taskID should differ across order keys, both %q", id1)
	}
}

func TestUnscheduledFiltersScheduledTasks(t *testing.T) {
	tasks := []proto.Task{
		{ID: "a", Scheduled: true},
		{ID: "b", Scheduled: false},
		{ID: "c", Scheduled: false},
	}
	got := unscheduled(tasks)
	if len(got) != 2 {
		t.Fatalf("unscheduled() = %d tasks, want 2", len(got))
	}
	for _, tk := range got {
		if tk.ID == "a" {
			t.Fatalf("scheduled task %q leaked into unscheduled result", tk.ID)
		}
	}
}

func TestInterruptHorizonNilWithoutKey(t *testing.T) {
	if got := interruptHorizon(nil); got != nil {
		t.Fatalf("interruptHorizon(nil) = %v, want nil", got)
	}
	if got := interruptHorizon(map[string]map[string]int64{"other": {"ch": 5}}); got != nil {
		t.Fatalf("interruptHorizon without INTERRUPT key = %v, want nil", got)
	}
}

func TestInterruptHorizonMaxAcrossChannels(t *testing.T) {
	got := interruptHorizon(map[string]map[string]int64{
		interruptKey: {"ch1": 3, "ch2": 9, "ch3": 1},
	})
	if got == nil || *got != 9 {
		t.Fatalf("interruptHorizon = %v, want 9", got)
	}
}

func TestFrontierToTasksMarksAlreadyScheduled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[testState]()
	codec := proto.JSONCodec{}

	frontier := []graph.WorkItem[testState]{
		{NodeID: "n1", State: testState{X: 1}, OrderKey: 1},
	}
	tasks, err := frontierToTasks(ctx, codec, st, "run-1", frontier)
	if err != nil {
		t.Fatalf("frontierToTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Scheduled {
		t.Fatalf("expected one unscheduled task, got %+v", tasks)
	}

	if err := st.SaveScheduled(ctx, "run-1", tasks[0].ID, nil); err != nil {
		t.Fatalf("SaveScheduled: %v", err)
	}

	tasks, err = frontierToTasks(ctx, codec, st, "run-1", frontier)
	if err != nil {
		t.Fatalf("frontierToTasks (replay): %v", err)
	}
	if len(tasks) != 1 || !tasks[0].Scheduled {
		t.Fatalf("expected replayed task marked Scheduled, got %+v", tasks)
	}
	if len(unscheduled(tasks)) != 0 {
		t.Fatalf("unscheduled() should drop the replayed task")
	}
}
