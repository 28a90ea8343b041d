package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seedProject inserts a project with a 4-step workflow and returns the
// project and its steps in position order.
func seedProject(t *testing.T, st *Store) (*board.Project, []board.WorkflowStep) {
	t.Helper()
	now := time.Now().UTC()
	prompt := "You are the agent."
	project := &board.Project{
		ID: "proj-1", Title: "Test", Status: board.ProjectActive,
		CreatedAt: now, UpdatedAt: now,
	}
	steps := []board.WorkflowStep{
		{ID: "step-0", ProjectID: project.ID, Name: "Plan", Position: 0, SystemPrompt: &prompt, CreatedAt: now},
		{ID: "step-1", ProjectID: project.ID, Name: "Implement", Position: 1, SystemPrompt: &prompt, CreatedAt: now},
		{ID: "step-2", ProjectID: project.ID, Name: "Review", Position: 2, SystemPrompt: &prompt, CreatedAt: now},
		{ID: "step-3", ProjectID: project.ID, Name: "Done", Position: 3, CreatedAt: now},
	}
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.InsertProject(project); err != nil {
			return err
		}
		for i := range steps {
			if err := tx.InsertStep(&steps[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return project, steps
}

func seedTask(t *testing.T, st *Store, id, stepID string) *board.Task {
	t.Helper()
	now := time.Now().UTC()
	task := &board.Task{
		ID: id, ProjectID: "proj-1", Title: id, StepID: stepID,
		Type: board.TypeTask, CreatedAt: now, UpdatedAt: now,
	}
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.InsertTask(task)
	})
	if err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	return task
}

func TestMigrateIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Open already migrated; a second and third pass must be no-ops.
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("third migration failed: %v", err)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	st := openTestStore(t)
	project, _ := seedProject(t, st)

	loaded, err := st.Reader().GetProject(project.ID)
	if err != nil {
		t.Fatalf("failed to load project: %v", err)
	}
	if loaded.Title != project.Title || loaded.Status != board.ProjectActive {
		t.Errorf("project changed through round trip: %+v", loaded)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Reader().GetProject("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTerminalPosition(t *testing.T) {
	st := openTestStore(t)
	seedProject(t, st)

	pos, err := st.Reader().TerminalPosition("proj-1")
	if err != nil {
		t.Fatalf("failed to read terminal position: %v", err)
	}
	if pos != 3 {
		t.Errorf("expected terminal position 3, got %d", pos)
	}

	if _, err := st.Reader().TerminalPosition("empty-project"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for stepless project, got %v", err)
	}
}

func TestNextAgentStepAfter(t *testing.T) {
	st := openTestStore(t)
	seedProject(t, st)
	tx := st.Reader()

	t.Run("from the start", func(t *testing.T) {
		step, err := tx.FirstAgentStep("proj-1")
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if step.Position != 0 {
			t.Errorf("expected position 0, got %d", step.Position)
		}
	})

	t.Run("past the last agent step", func(t *testing.T) {
		if _, err := tx.NextAgentStepAfter("proj-1", 2); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestEventCursorsAreIndependent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var id1, id2 string
	err := st.WithTx(ctx, func(tx *Tx) error {
		var err error
		if id1, err = tx.EmitEvent(event.TaskCancelled{TaskID: "t1"}, now); err != nil {
			return err
		}
		id2, err = tx.EmitEvent(event.TaskCancelled{TaskID: "t2"}, now.Add(time.Millisecond))
		return err
	})
	if err != nil {
		t.Fatalf("failed to emit events: %v", err)
	}

	tx := st.Reader()
	if err := tx.MarkBroadcastConsumed(id1); err != nil {
		t.Fatalf("failed to mark broadcast consumed: %v", err)
	}

	broadcastPending, err := tx.UnconsumedBroadcastEvents()
	if err != nil {
		t.Fatalf("failed to list broadcast events: %v", err)
	}
	if len(broadcastPending) != 1 || broadcastPending[0].ID != id2 {
		t.Errorf("broadcaster cursor wrong: %+v", broadcastPending)
	}

	// The trigger cursor is untouched by the broadcaster's progress.
	triggerPending, err := tx.UnconsumedTriggerEvents([]event.Type{event.TaskCancelledType})
	if err != nil {
		t.Fatalf("failed to list trigger events: %v", err)
	}
	if len(triggerPending) != 2 {
		t.Errorf("expected 2 trigger-pending events, got %d", len(triggerPending))
	}

	if err := tx.MarkTriggerConsumed(id1); err != nil {
		t.Fatalf("failed to mark trigger consumed: %v", err)
	}
	triggerPending, err = tx.UnconsumedTriggerEvents([]event.Type{event.TaskCancelledType})
	if err != nil {
		t.Fatalf("failed to list trigger events: %v", err)
	}
	if len(triggerPending) != 1 || triggerPending[0].ID != id2 {
		t.Errorf("trigger cursor wrong: %+v", triggerPending)
	}
}

func TestEventObservationOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Same-timestamp events inside one transaction keep insertion order.
	err := st.WithTx(ctx, func(tx *Tx) error {
		for _, taskID := range []string{"t1", "t2", "t3"} {
			if _, err := tx.EmitEvent(event.TaskCancelled{TaskID: taskID}, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to emit: %v", err)
	}

	events, err := st.Reader().UnconsumedBroadcastEvents()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"t1", "t2", "t3"} {
		got, _ := event.TaskID(events[i].Payload)
		if got != want {
			t.Errorf("event %d: expected task %s, got %s", i, want, got)
		}
	}
}

func TestAgentRunLifecycle(t *testing.T) {
	st := openTestStore(t)
	seedProject(t, st)
	seedTask(t, st, "task-1", "step-0")
	ctx := context.Background()
	now := time.Now().UTC()

	err := st.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertRun(&board.AgentRun{
			ID: "run-1", TaskID: "task-1", StepID: "step-0", StartedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("failed to open run: %v", err)
	}

	tx := st.Reader()
	active, err := tx.TaskHasActiveRun("task-1")
	if err != nil || !active {
		t.Fatalf("expected active run, got active=%v err=%v", active, err)
	}
	count, err := tx.ActiveRunCount()
	if err != nil || count != 1 {
		t.Fatalf("expected 1 active run, got %d err=%v", count, err)
	}

	err = st.WithTx(ctx, func(wtx *Tx) error {
		return wtx.CloseRun("run-1", 0, nil, now.Add(time.Second))
	})
	if err != nil {
		t.Fatalf("failed to close run: %v", err)
	}

	active, err = tx.TaskHasActiveRun("task-1")
	if err != nil || active {
		t.Fatalf("expected no active run, got active=%v err=%v", active, err)
	}

	runs, err := tx.RunsByTask("task-1")
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ExitCode == nil || *runs[0].ExitCode != 0 {
		t.Errorf("unexpected run history: %+v", runs)
	}
}

func TestDependencyQueries(t *testing.T) {
	st := openTestStore(t)
	seedProject(t, st)
	seedTask(t, st, "task-a", "step-0")
	seedTask(t, st, "task-b", "step-0")
	ctx := context.Background()
	now := time.Now().UTC()

	err := st.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertDependency(&board.TaskDependency{
			ID: "dep-1", PredecessorID: "task-a", SuccessorID: "task-b", CreatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("failed to insert dependency: %v", err)
	}

	tx := st.Reader()

	t.Run("blocked while predecessor below terminal", func(t *testing.T) {
		blocked, err := tx.IsBlocked("task-b", "proj-1")
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if !blocked {
			t.Error("task-b should be blocked")
		}
	})

	t.Run("unblocked once predecessor terminal", func(t *testing.T) {
		err := st.WithTx(ctx, func(wtx *Tx) error {
			return wtx.UpdateTaskStep("task-a", "step-3", now)
		})
		if err != nil {
			t.Fatalf("failed to move predecessor: %v", err)
		}
		blocked, err := tx.IsBlocked("task-b", "proj-1")
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if blocked {
			t.Error("task-b should be unblocked")
		}
	})

	t.Run("graph adjacency", func(t *testing.T) {
		graph, err := tx.DepGraph()
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if !graph.Reachable("task-a", "task-b") {
			t.Error("graph should contain task-a -> task-b")
		}
	})
}
