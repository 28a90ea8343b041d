package tool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/event"
	"github.com/dshills/taskrelay/board/store"
)

func newSurface(t *testing.T) *Surface {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tool.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

// seedWorkflow creates a project with Plan/Implement/Review agent steps
// and a terminal Done step.
func seedWorkflow(t *testing.T, s *Surface) (*board.Project, []board.WorkflowStep) {
	t.Helper()
	ctx := context.Background()
	project, err := s.CreateProject(ctx, CreateProjectInput{Title: "Demo"})
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	prompt := "You are the agent."
	steps, err := s.CreateWorkflowSteps(ctx, project.ID, []StepDef{
		{Name: "Plan", SystemPrompt: &prompt},
		{Name: "Implement", SystemPrompt: &prompt},
		{Name: "Review", SystemPrompt: &prompt},
		{Name: "Done"},
	})
	if err != nil {
		t.Fatalf("failed to create steps: %v", err)
	}
	return project, steps
}

func mustCreateTask(t *testing.T, s *Surface, in CreateTaskInput) *board.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), in)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return task
}

func countEvents(t *testing.T, s *Surface) int {
	t.Helper()
	n, err := s.Store().Reader().EventCount()
	if err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	return n
}

func kindOf(t *testing.T, err error) board.ErrorKind {
	t.Helper()
	var te *board.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	return te.Kind
}

func TestCreateProject(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()

	t.Run("success emits one event", func(t *testing.T) {
		before := countEvents(t, s)
		project, err := s.CreateProject(ctx, CreateProjectInput{Title: "P", Description: "d"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if project.Status != board.ProjectActive {
			t.Errorf("expected active, got %s", project.Status)
		}
		if got := countEvents(t, s); got != before+1 {
			t.Errorf("expected exactly one event, got %d", got-before)
		}
	})

	t.Run("empty title rejected", func(t *testing.T) {
		_, err := s.CreateProject(ctx, CreateProjectInput{Title: "  "})
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})
}

func TestCreateWorkflowSteps(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, _ := s.CreateProject(ctx, CreateProjectInput{Title: "P"})

	t.Run("positions are dense from zero", func(t *testing.T) {
		steps, err := s.CreateWorkflowSteps(ctx, project.ID, []StepDef{
			{Name: "One"}, {Name: "Two"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if steps[0].Position != 0 || steps[1].Position != 1 {
			t.Errorf("unexpected positions: %d, %d", steps[0].Position, steps[1].Position)
		}
	})

	t.Run("appending continues the sequence", func(t *testing.T) {
		steps, err := s.CreateWorkflowSteps(ctx, project.ID, []StepDef{{Name: "Three"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if steps[0].Position != 2 {
			t.Errorf("expected position 2, got %d", steps[0].Position)
		}
	})

	t.Run("empty list rejected", func(t *testing.T) {
		_, err := s.CreateWorkflowSteps(ctx, project.ID, nil)
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("missing name rejected", func(t *testing.T) {
		_, err := s.CreateWorkflowSteps(ctx, project.ID, []StepDef{{Name: ""}})
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("unknown project rejected", func(t *testing.T) {
		_, err := s.CreateWorkflowSteps(ctx, "missing", []StepDef{{Name: "X"}})
		if kindOf(t, err) != board.KindNotFound {
			t.Errorf("expected not_found")
		}
	})
}

func TestCreateTask(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)
	_, otherSteps := seedWorkflow(t, s)

	t.Run("success emits task_created", func(t *testing.T) {
		before := countEvents(t, s)
		task := mustCreateTask(t, s, CreateTaskInput{
			Title: "T", StepID: steps[0].ID, ProjectID: project.ID,
		})
		if task.Type != board.TypeTask {
			t.Errorf("expected default type task, got %s", task.Type)
		}
		if got := countEvents(t, s); got != before+1 {
			t.Errorf("expected exactly one event, got %d", got-before)
		}
	})

	t.Run("cross-project step rejected", func(t *testing.T) {
		_, err := s.CreateTask(ctx, CreateTaskInput{
			Title: "T", StepID: otherSteps[0].ID, ProjectID: project.ID,
		})
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("unknown parent rejected", func(t *testing.T) {
		_, err := s.CreateTask(ctx, CreateTaskInput{
			Title: "T", StepID: steps[0].ID, ProjectID: project.ID, ParentTaskID: "missing",
		})
		if kindOf(t, err) != board.KindNotFound {
			t.Errorf("expected not_found")
		}
	})

	t.Run("invalid type rejected", func(t *testing.T) {
		_, err := s.CreateTask(ctx, CreateTaskInput{
			Title: "T", StepID: steps[0].ID, ProjectID: project.ID, Type: "epic",
		})
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})
}

func TestMoveTask(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)

	t.Run("skip from position 0 to 2 rejected", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		_, err := s.MoveTask(ctx, task.ID, steps[2].ID)
		if kindOf(t, err) != board.KindInvalidTransition {
			t.Errorf("expected invalid_transition")
		}
	})

	t.Run("forward then backward", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		moved, err := s.MoveTask(ctx, task.ID, steps[1].ID)
		if err != nil {
			t.Fatalf("forward move failed: %v", err)
		}
		if moved.StepID != steps[1].ID {
			t.Errorf("task not at Implement")
		}
		if _, err := s.MoveTask(ctx, task.ID, steps[0].ID); err != nil {
			t.Fatalf("backward move failed: %v", err)
		}
	})

	t.Run("move emits exactly one task_moved", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		before := countEvents(t, s)
		if _, err := s.MoveTask(ctx, task.ID, steps[1].ID); err != nil {
			t.Fatalf("move failed: %v", err)
		}
		if got := countEvents(t, s); got != before+1 {
			t.Errorf("expected exactly one event, got %d", got-before)
		}
	})

	t.Run("unknown task not_found", func(t *testing.T) {
		_, err := s.MoveTask(ctx, "missing", steps[1].ID)
		if kindOf(t, err) != board.KindNotFound {
			t.Errorf("expected not_found")
		}
	})
}

func TestCancelUncancelRoundTrip(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)
	task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})

	cancelled, err := s.CancelTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !cancelled.Cancelled {
		t.Error("cancelled flag not set")
	}

	t.Run("double cancel rejected", func(t *testing.T) {
		_, err := s.CancelTask(ctx, task.ID)
		if kindOf(t, err) != board.KindInvalidTransition {
			t.Errorf("expected invalid_transition")
		}
	})

	restored, err := s.UncancelTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("uncancel failed: %v", err)
	}
	if restored.Cancelled {
		t.Error("cancelled flag not cleared")
	}
	if restored.StepID != task.StepID || restored.Title != task.Title {
		t.Error("cancel/uncancel changed unrelated columns")
	}

	t.Run("uncancel active task rejected", func(t *testing.T) {
		_, err := s.UncancelTask(ctx, task.ID)
		if kindOf(t, err) != board.KindInvalidTransition {
			t.Errorf("expected invalid_transition")
		}
	})
}

func TestAddComment(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)
	task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})

	t.Run("any non-empty role accepted", func(t *testing.T) {
		comment, err := s.AddComment(ctx, task.ID, "looks good", "custom-reviewer")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if comment.AuthorRole != "custom-reviewer" {
			t.Errorf("role changed: %s", comment.AuthorRole)
		}
	})

	t.Run("empty role rejected", func(t *testing.T) {
		_, err := s.AddComment(ctx, task.ID, "hi", "  ")
		if kindOf(t, err) != board.KindInvalidRole {
			t.Errorf("expected invalid_role")
		}
	})

	t.Run("unknown task rejected", func(t *testing.T) {
		_, err := s.AddComment(ctx, "missing", "hi", "coder")
		if kindOf(t, err) != board.KindNotFound {
			t.Errorf("expected not_found")
		}
	})
}

func TestDependencyRules(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)
	a := mustCreateTask(t, s, CreateTaskInput{Title: "A", StepID: steps[0].ID, ProjectID: project.ID})
	b := mustCreateTask(t, s, CreateTaskInput{Title: "B", StepID: steps[0].ID, ProjectID: project.ID})
	c := mustCreateTask(t, s, CreateTaskInput{Title: "C", StepID: steps[0].ID, ProjectID: project.ID})

	if _, err := s.AddDependency(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("A->B failed: %v", err)
	}
	if _, err := s.AddDependency(ctx, b.ID, c.ID); err != nil {
		t.Fatalf("B->C failed: %v", err)
	}

	t.Run("self-loop rejected", func(t *testing.T) {
		_, err := s.AddDependency(ctx, a.ID, a.ID)
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		_, err := s.AddDependency(ctx, a.ID, b.ID)
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("cycle rejected and graph unchanged", func(t *testing.T) {
		_, err := s.AddDependency(ctx, c.ID, a.ID)
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
		deps, err := s.GetDependencies(ctx, a.ID)
		if err != nil {
			t.Fatalf("failed to read deps: %v", err)
		}
		if len(deps.Predecessors) != 0 {
			t.Errorf("graph changed by rejected edge: %+v", deps.Predecessors)
		}
	})

	t.Run("remove then re-add", func(t *testing.T) {
		deps, err := s.GetDependencies(ctx, b.ID)
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if len(deps.Predecessors) != 1 {
			t.Fatalf("expected one predecessor edge, got %d", len(deps.Predecessors))
		}
		if _, err := s.RemoveDependency(ctx, deps.Predecessors[0].ID); err != nil {
			t.Fatalf("remove failed: %v", err)
		}
		if _, err := s.AddDependency(ctx, a.ID, b.ID); err != nil {
			t.Fatalf("re-add failed: %v", err)
		}
	})
}

func TestApprovePlan(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)

	t.Run("non-milestone rejected", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		_, err := s.ApprovePlan(ctx, task.ID)
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("childless milestone rejected", func(t *testing.T) {
		m := mustCreateTask(t, s, CreateTaskInput{
			Title: "M", StepID: steps[0].ID, ProjectID: project.ID, Type: "milestone",
		})
		_, err := s.ApprovePlan(ctx, m.ID)
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("approval emits plan_approved plus ready per open child", func(t *testing.T) {
		m := mustCreateTask(t, s, CreateTaskInput{
			Title: "M", StepID: steps[0].ID, ProjectID: project.ID, Type: "milestone",
		})
		c1 := mustCreateTask(t, s, CreateTaskInput{
			Title: "C1", StepID: steps[1].ID, ProjectID: project.ID, ParentTaskID: m.ID,
		})
		c2 := mustCreateTask(t, s, CreateTaskInput{
			Title: "C2", StepID: steps[1].ID, ProjectID: project.ID, ParentTaskID: m.ID,
		})
		if _, err := s.CancelTask(ctx, c2.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		_ = c1

		before := countEvents(t, s)
		approved, err := s.ApprovePlan(ctx, m.ID)
		if err != nil {
			t.Fatalf("approve failed: %v", err)
		}
		if !approved.PlanApproved {
			t.Error("plan_approved flag not set")
		}
		// plan_approved + task_ready for the one non-cancelled child.
		if got := countEvents(t, s); got != before+2 {
			t.Errorf("expected 2 events, got %d", got-before)
		}

		t.Run("second approval rejected", func(t *testing.T) {
			_, err := s.ApprovePlan(ctx, m.ID)
			if kindOf(t, err) != board.KindInvalidTransition {
				t.Errorf("expected invalid_transition")
			}
		})
	})
}

func TestCompleteTask(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)
	terminalID := steps[3].ID

	t.Run("walks to terminal and emits task_moved", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		before := countEvents(t, s)
		done, err := s.CompleteTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("complete failed: %v", err)
		}
		if done.StepID != terminalID {
			t.Errorf("task not at terminal step")
		}
		if got := countEvents(t, s); got != before+1 {
			t.Errorf("expected 1 event, got %d", got-before)
		}

		t.Run("completing again rejected", func(t *testing.T) {
			_, err := s.CompleteTask(ctx, task.ID)
			if kindOf(t, err) != board.KindInvalidTransition {
				t.Errorf("expected invalid_transition")
			}
		})
	})

	t.Run("cancelled task rejected", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		if _, err := s.CancelTask(ctx, task.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		_, err := s.CompleteTask(ctx, task.ID)
		if kindOf(t, err) != board.KindInvalidTransition {
			t.Errorf("expected invalid_transition")
		}
	})

	t.Run("completion unblocks dependents", func(t *testing.T) {
		a := mustCreateTask(t, s, CreateTaskInput{Title: "A", StepID: steps[0].ID, ProjectID: project.ID})
		b := mustCreateTask(t, s, CreateTaskInput{Title: "B", StepID: steps[0].ID, ProjectID: project.ID})
		if _, err := s.AddDependency(ctx, a.ID, b.ID); err != nil {
			t.Fatalf("dependency failed: %v", err)
		}

		before := countEvents(t, s)
		if _, err := s.CompleteTask(ctx, a.ID); err != nil {
			t.Fatalf("complete failed: %v", err)
		}
		// task_moved for A + task_ready for B.
		if got := countEvents(t, s); got != before+2 {
			t.Errorf("expected 2 events, got %d", got-before)
		}

		events, err := s.Store().Reader().UnconsumedTriggerEvents([]event.Type{event.TaskReadyType})
		if err != nil {
			t.Fatalf("failed to read events: %v", err)
		}
		found := false
		for _, ev := range events {
			if id, ok := event.TaskID(ev.Payload); ok && id == b.ID {
				found = true
			}
		}
		if !found {
			t.Error("no task_ready emitted for B")
		}
	})
}

func TestSiblingAutoAdvance(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)

	m := mustCreateTask(t, s, CreateTaskInput{
		Title: "M", StepID: steps[0].ID, ProjectID: project.ID, Type: "milestone",
	})
	c1 := mustCreateTask(t, s, CreateTaskInput{
		Title: "C1", StepID: steps[0].ID, ProjectID: project.ID, ParentTaskID: m.ID,
	})
	c2 := mustCreateTask(t, s, CreateTaskInput{
		Title: "C2", StepID: steps[0].ID, ProjectID: project.ID, ParentTaskID: m.ID,
	})

	stepOf := func(taskID string) string {
		t.Helper()
		detail, err := s.GetTask(ctx, taskID)
		if err != nil {
			t.Fatalf("failed to load task: %v", err)
		}
		return detail.StepID
	}

	if _, err := s.CompleteTask(ctx, c1.ID); err != nil {
		t.Fatalf("complete C1 failed: %v", err)
	}
	if stepOf(m.ID) != steps[0].ID {
		t.Fatal("parent advanced on first completion")
	}

	if _, err := s.CompleteTask(ctx, c2.ID); err != nil {
		t.Fatalf("complete C2 failed: %v", err)
	}
	if stepOf(m.ID) != steps[1].ID {
		t.Fatal("parent did not advance exactly one step on second completion")
	}
}

func TestSiblingAdvanceEmitsMilestoneCompleted(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()

	// Two-step workflow: the parent's single forward move lands terminal.
	project, err := s.CreateProject(ctx, CreateProjectInput{Title: "Short"})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	prompt := "agent"
	steps, err := s.CreateWorkflowSteps(ctx, project.ID, []StepDef{
		{Name: "Work", SystemPrompt: &prompt},
		{Name: "Done"},
	})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}

	m := mustCreateTask(t, s, CreateTaskInput{
		Title: "M", StepID: steps[0].ID, ProjectID: project.ID, Type: "milestone",
	})
	c := mustCreateTask(t, s, CreateTaskInput{
		Title: "C", StepID: steps[0].ID, ProjectID: project.ID, ParentTaskID: m.ID,
	})

	if _, err := s.CompleteTask(ctx, c.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	events, err := s.Store().Reader().UnconsumedTriggerEvents([]event.Type{event.MilestoneCompletedType})
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one milestone_completed, got %d", len(events))
	}
	if id, _ := event.TaskID(events[0].Payload); id != m.ID {
		t.Errorf("milestone_completed for wrong task: %s", id)
	}
}

func TestCreateSubtasks(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)

	t.Run("defaults to parent's next step", func(t *testing.T) {
		parent := mustCreateTask(t, s, CreateTaskInput{Title: "P", StepID: steps[0].ID, ProjectID: project.ID})
		created, err := s.CreateSubtasks(ctx, CreateSubtasksInput{
			ParentTaskID: parent.ID,
			Tasks:        []SubtaskSpec{{Title: "S1"}, {Title: "S2"}},
		})
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		for _, c := range created {
			if c.StepID != steps[1].ID {
				t.Errorf("child not at parent's next step")
			}
			if c.ParentTaskID == nil || *c.ParentTaskID != parent.ID {
				t.Errorf("child missing parent link")
			}
		}
	})

	t.Run("terminal parent defaults to first agent step", func(t *testing.T) {
		parent := mustCreateTask(t, s, CreateTaskInput{Title: "P", StepID: steps[0].ID, ProjectID: project.ID})
		if _, err := s.CompleteTask(ctx, parent.ID); err != nil {
			t.Fatalf("complete failed: %v", err)
		}
		created, err := s.CreateSubtasks(ctx, CreateSubtasksInput{
			ParentTaskID: parent.ID,
			Tasks:        []SubtaskSpec{{Title: "S"}},
		})
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if created[0].StepID != steps[0].ID {
			t.Error("child not at first agent step")
		}
	})

	t.Run("intra-batch dependencies land before task_created events", func(t *testing.T) {
		parent := mustCreateTask(t, s, CreateTaskInput{Title: "P", StepID: steps[0].ID, ProjectID: project.ID})
		before := countEvents(t, s)
		created, err := s.CreateSubtasks(ctx, CreateSubtasksInput{
			ParentTaskID: parent.ID,
			Tasks:        []SubtaskSpec{{Title: "First"}, {Title: "Second"}},
			Dependencies: []BatchDep{{FromIndex: 0, ToIndex: 1}},
		})
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		// subtasks_created + 2x task_created; edges are silent.
		if got := countEvents(t, s); got != before+3 {
			t.Errorf("expected 3 events, got %d", got-before)
		}

		deps, err := s.GetDependencies(ctx, created[1].ID)
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if !deps.Blocked {
			t.Error("second child should be blocked by the first")
		}

		// The batch event precedes the per-child events.
		events, err := s.Store().Reader().UnconsumedBroadcastEvents()
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		sawBatch := false
		for _, ev := range events {
			if ev.Type == event.SubtasksCreatedType {
				sawBatch = true
			}
			if ev.Type == event.TaskCreatedType {
				if id, _ := event.TaskID(ev.Payload); id == created[0].ID && !sawBatch {
					t.Error("task_created observed before subtasks_created")
				}
			}
		}
	})

	t.Run("dependency index out of range rejected", func(t *testing.T) {
		parent := mustCreateTask(t, s, CreateTaskInput{Title: "P", StepID: steps[0].ID, ProjectID: project.ID})
		_, err := s.CreateSubtasks(ctx, CreateSubtasksInput{
			ParentTaskID: parent.ID,
			Tasks:        []SubtaskSpec{{Title: "Only"}},
			Dependencies: []BatchDep{{FromIndex: 0, ToIndex: 5}},
		})
		if kindOf(t, err) != board.KindInvalidInput {
			t.Errorf("expected invalid_input")
		}
	})

	t.Run("cascade re-blocks downstream successors", func(t *testing.T) {
		parent := mustCreateTask(t, s, CreateTaskInput{Title: "P", StepID: steps[0].ID, ProjectID: project.ID})
		upstream := mustCreateTask(t, s, CreateTaskInput{Title: "U", StepID: steps[0].ID, ProjectID: project.ID})
		downstream := mustCreateTask(t, s, CreateTaskInput{Title: "D", StepID: steps[0].ID, ProjectID: project.ID})
		if _, err := s.AddDependency(ctx, upstream.ID, downstream.ID); err != nil {
			t.Fatalf("failed: %v", err)
		}

		created, err := s.CreateSubtasks(ctx, CreateSubtasksInput{
			ParentTaskID:    parent.ID,
			Tasks:           []SubtaskSpec{{Title: "New"}},
			CascadeDepsFrom: upstream.ID,
		})
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		deps, err := s.GetDependencies(ctx, downstream.ID)
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		foundNew := false
		for _, d := range deps.Predecessors {
			if d.PredecessorID == created[0].ID {
				foundNew = true
			}
		}
		if !foundNew {
			t.Error("downstream successor not re-blocked on the new child")
		}
	})
}

func TestSetTaskOutputAndUpdate(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)
	task := mustCreateTask(t, s, CreateTaskInput{
		Title: "R", StepID: steps[0].ID, ProjectID: project.ID, Type: "research",
	})

	updated, err := s.SetTaskOutput(ctx, task.ID, "findings")
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if updated.Output == nil || *updated.Output != "findings" {
		t.Error("output not stored")
	}

	title := "Renamed"
	renamed, err := s.UpdateTask(ctx, task.ID, &title, nil)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if renamed.Title != "Renamed" {
		t.Error("title not updated")
	}
	if renamed.Output == nil || *renamed.Output != "findings" {
		t.Error("update clobbered output")
	}
}

func TestAdvanceToNextAgentStep(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)

	t.Run("moves to the next agent step", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		moved, err := s.AdvanceToNextAgentStep(ctx, task.ID)
		if err != nil || !moved {
			t.Fatalf("expected move, got moved=%v err=%v", moved, err)
		}
		detail, err := s.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if detail.StepID != steps[1].ID {
			t.Error("task not at Implement")
		}
	})

	t.Run("no agent step ahead is a no-op", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[2].ID, ProjectID: project.ID})
		moved, err := s.AdvanceToNextAgentStep(ctx, task.ID)
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if moved {
			t.Error("expected no move past the last agent step")
		}
	})

	t.Run("cancelled task is a no-op", func(t *testing.T) {
		task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
		if _, err := s.CancelTask(ctx, task.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		moved, err := s.AdvanceToNextAgentStep(ctx, task.ID)
		if err != nil || moved {
			t.Fatalf("expected no-op, got moved=%v err=%v", moved, err)
		}
	})
}

func TestGetBoardAndProjectDetail(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	project, steps := seedWorkflow(t, s)
	task := mustCreateTask(t, s, CreateTaskInput{Title: "T", StepID: steps[0].ID, ProjectID: project.ID})
	if _, err := s.AddComment(ctx, task.ID, "note", "planner"); err != nil {
		t.Fatalf("failed: %v", err)
	}

	b, err := s.GetBoard(ctx, project.ID)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if len(b.Steps) != 4 || len(b.Tasks) != 1 {
		t.Fatalf("unexpected board shape: %d steps, %d tasks", len(b.Steps), len(b.Tasks))
	}
	if b.Tasks[0].CommentCount != 1 {
		t.Errorf("expected comment count 1, got %d", b.Tasks[0].CommentCount)
	}

	detail, err := s.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if detail.TaskCounts["Plan"] != 1 || detail.TaskCounts["Done"] != 0 {
		t.Errorf("unexpected counts: %+v", detail.TaskCounts)
	}
}
