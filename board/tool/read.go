package tool

import (
	"context"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/store"
)

// BoardTask is a task row enriched for board display.
type BoardTask struct {
	board.Task
	CommentCount int `json:"comment_count"`
}

// Board is the full state of one project's board.
type Board struct {
	Project *board.Project       `json:"project"`
	Steps   []board.WorkflowStep `json:"steps"`
	Tasks   []BoardTask          `json:"tasks"`
}

// GetBoard returns the project, its ordered steps, and every task with a
// comment count.
func (s *Surface) GetBoard(ctx context.Context, projectID string) (*Board, error) {
	tx := s.store.ReaderCtx(ctx)
	project, err := tx.GetProject(projectID)
	if err != nil {
		return nil, mapNotFound(err, board.NotFoundf("project %q not found", projectID))
	}
	steps, err := tx.StepsByProject(projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := tx.TasksByProject(projectID)
	if err != nil {
		return nil, err
	}
	counts, err := tx.CommentCounts(projectID)
	if err != nil {
		return nil, err
	}
	b := &Board{Project: project, Steps: steps, Tasks: make([]BoardTask, 0, len(tasks))}
	for _, t := range tasks {
		b.Tasks = append(b.Tasks, BoardTask{Task: t, CommentCount: counts[t.ID]})
	}
	return b, nil
}

// TaskDetail is a task with its comment thread and legal move targets.
type TaskDetail struct {
	board.Task
	Comments   []board.Comment      `json:"comments"`
	ValidSteps []board.WorkflowStep `json:"valid_steps"`
}

// GetTask returns a task with its full comment thread and valid step
// targets.
func (s *Surface) GetTask(ctx context.Context, taskID string) (*TaskDetail, error) {
	tx := s.store.ReaderCtx(ctx)
	task, err := tx.GetTask(taskID)
	if err != nil {
		return nil, mapNotFound(err, board.NotFoundf("task %q not found", taskID))
	}
	comments, err := tx.CommentsByTask(taskID)
	if err != nil {
		return nil, err
	}
	current, err := tx.GetStep(task.StepID)
	if err != nil {
		return nil, err
	}
	all, err := tx.StepsByProject(task.ProjectID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{
		Task:       *task,
		Comments:   comments,
		ValidSteps: board.ValidSteps(task, current, all),
	}, nil
}

// GetMyTasks returns non-cancelled tasks sitting at a step, optionally
// scoped to a project.
func (s *Surface) GetMyTasks(ctx context.Context, stepID, projectID string) ([]board.Task, error) {
	tx := s.store.ReaderCtx(ctx)
	if _, err := tx.GetStep(stepID); err != nil {
		return nil, mapNotFound(err, board.NotFoundf("workflow step %q not found", stepID))
	}
	return tx.TasksAtStep(stepID, projectID)
}

// GetWorkflowSteps returns a project's ordered step sequence.
func (s *Surface) GetWorkflowSteps(ctx context.Context, projectID string) ([]board.WorkflowStep, error) {
	tx := s.store.ReaderCtx(ctx)
	if _, err := tx.GetProject(projectID); err != nil {
		return nil, mapNotFound(err, board.NotFoundf("project %q not found", projectID))
	}
	return tx.StepsByProject(projectID)
}

// ListProjects returns every project, newest first.
func (s *Surface) ListProjects(ctx context.Context) ([]board.Project, error) {
	return s.store.ReaderCtx(ctx).ListProjects()
}

// ProjectDetail is a project with its per-step task counts.
type ProjectDetail struct {
	board.Project
	TaskCounts map[string]int `json:"task_counts"`
}

// GetProject returns a project with the number of non-cancelled tasks at
// each step, keyed by step name.
func (s *Surface) GetProject(ctx context.Context, projectID string) (*ProjectDetail, error) {
	tx := s.store.ReaderCtx(ctx)
	project, err := tx.GetProject(projectID)
	if err != nil {
		return nil, mapNotFound(err, board.NotFoundf("project %q not found", projectID))
	}
	steps, err := tx.StepsByProject(projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := tx.TasksByProject(projectID)
	if err != nil {
		return nil, err
	}
	stepNames := make(map[string]string, len(steps))
	counts := make(map[string]int, len(steps))
	for _, step := range steps {
		stepNames[step.ID] = step.Name
		counts[step.Name] = 0
	}
	for _, t := range tasks {
		if t.Cancelled {
			continue
		}
		counts[stepNames[t.StepID]]++
	}
	return &ProjectDetail{Project: *project, TaskCounts: counts}, nil
}

// GetAgentRuns returns a task's run history.
func (s *Surface) GetAgentRuns(ctx context.Context, taskID string) ([]board.AgentRun, error) {
	tx := s.store.ReaderCtx(ctx)
	if _, err := tx.GetTask(taskID); err != nil {
		return nil, mapNotFound(err, board.NotFoundf("task %q not found", taskID))
	}
	return tx.RunsByTask(taskID)
}

// Dependencies lists a task's predecessor and successor edges.
type Dependencies struct {
	TaskID       string                 `json:"task_id"`
	Predecessors []board.TaskDependency `json:"predecessors"`
	Successors   []board.TaskDependency `json:"successors"`
	Blocked      bool                   `json:"blocked"`
}

// GetDependencies returns a task's incoming and outgoing edges plus its
// current blocked state.
func (s *Surface) GetDependencies(ctx context.Context, taskID string) (*Dependencies, error) {
	tx := s.store.ReaderCtx(ctx)
	task, err := tx.GetTask(taskID)
	if err != nil {
		return nil, mapNotFound(err, board.NotFoundf("task %q not found", taskID))
	}
	preds, err := tx.PredecessorsOf(taskID)
	if err != nil {
		return nil, err
	}
	succs, err := tx.SuccessorsOf(taskID)
	if err != nil {
		return nil, err
	}
	blocked, err := tx.IsBlocked(taskID, task.ProjectID)
	if err != nil {
		return nil, err
	}
	return &Dependencies{
		TaskID:       taskID,
		Predecessors: preds,
		Successors:   succs,
		Blocked:      blocked,
	}, nil
}

// Reader exposes a snapshot read handle for scheduler components that
// evaluate gates without mutating.
func (s *Surface) Reader(ctx context.Context) *store.Tx {
	return s.store.ReaderCtx(ctx)
}
