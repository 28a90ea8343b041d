package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/event"
	"github.com/dshills/taskrelay/board/store"
)

// CreateProjectInput carries create_project parameters.
type CreateProjectInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	RepoPath    string `json:"repo_path,omitempty"`
	BaseBranch  string `json:"base_branch,omitempty"`
}

// CreateProject creates an active project. When RepoPath is set it must
// be a git working tree, and BaseBranch defaults to the repository's
// current branch.
func (s *Surface) CreateProject(ctx context.Context, in CreateProjectInput) (*board.Project, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, board.InvalidInputf("title is required")
	}

	repoPath := strings.TrimSpace(in.RepoPath)
	baseBranch := strings.TrimSpace(in.BaseBranch)
	if repoPath != "" && s.git != nil {
		ok, err := s.git.IsWorkTree(ctx, repoPath)
		if err != nil || !ok {
			return nil, board.InvalidInputf("repo_path %q is not a git working tree", repoPath)
		}
		if baseBranch == "" {
			branch, err := s.git.CurrentBranch(ctx, repoPath)
			if err != nil {
				return nil, board.InvalidInputf("could not detect default branch for %q: %v", repoPath, err)
			}
			baseBranch = branch
		}
	}

	now := s.now().UTC()
	project := &board.Project{
		ID:          newID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      board.ProjectActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if repoPath != "" {
		project.RepoPath = &repoPath
	}
	if baseBranch != "" {
		project.BaseBranch = &baseBranch
	}

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertProject(project); err != nil {
			return err
		}
		_, err := tx.EmitEvent(event.ProjectCreated{ProjectID: project.ID}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// CancelProject marks a project cancelled (terminal).
func (s *Surface) CancelProject(ctx context.Context, projectID string) (*board.Project, error) {
	now := s.now().UTC()
	var project *board.Project
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetProject(projectID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("project %q not found", projectID))
		}
		if err := tx.SetProjectStatus(projectID, board.ProjectCancelled, now); err != nil {
			return err
		}
		if _, err := tx.EmitEvent(event.ProjectUpdated{ProjectID: projectID, Status: string(board.ProjectCancelled)}, now); err != nil {
			return err
		}
		p.Status = board.ProjectCancelled
		p.UpdatedAt = now
		project = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// StepDef is one workflow step definition for create_workflow_steps.
type StepDef struct {
	Name         string  `json:"name"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
	Model        *string `json:"model,omitempty"`
	Color        *string `json:"color,omitempty"`
}

// CreateWorkflowSteps creates the ordered step sequence for a project.
// Positions continue after any existing steps so the per-project sequence
// stays dense.
func (s *Surface) CreateWorkflowSteps(ctx context.Context, projectID string, defs []StepDef) ([]board.WorkflowStep, error) {
	if len(defs) == 0 {
		return nil, board.InvalidInputf("at least one step definition is required")
	}
	for i, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			return nil, board.InvalidInputf("step at index %d is missing a name", i)
		}
	}

	now := s.now().UTC()
	var created []board.WorkflowStep
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetProject(projectID); err != nil {
			return mapNotFound(err, board.NotFoundf("project %q not found", projectID))
		}
		base := 0
		if terminal, err := tx.TerminalPosition(projectID); err == nil {
			base = terminal + 1
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		for i, def := range defs {
			step := board.WorkflowStep{
				ID:           newID(),
				ProjectID:    projectID,
				Name:         def.Name,
				Position:     base + i,
				SystemPrompt: def.SystemPrompt,
				Model:        def.Model,
				Color:        def.Color,
				CreatedAt:    now,
			}
			if err := tx.InsertStep(&step); err != nil {
				return err
			}
			created = append(created, step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateTaskInput carries create_task parameters.
type CreateTaskInput struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	StepID       string `json:"step_id"`
	ProjectID    string `json:"project_id"`
	ParentTaskID string `json:"parent_task_id,omitempty"`
	Type         string `json:"type,omitempty"`
}

// CreateTask creates a task at the given step. The step must belong to
// the project, the parent (when given) must exist, and the type defaults
// to "task".
func (s *Surface) CreateTask(ctx context.Context, in CreateTaskInput) (*board.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, board.InvalidInputf("title is required")
	}
	typ := board.TaskType(in.Type)
	if in.Type == "" {
		typ = board.TypeTask
	}
	if !typ.Valid() {
		return nil, board.InvalidInputf("unknown task type %q", in.Type)
	}

	now := s.now().UTC()
	var task *board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetProject(in.ProjectID); err != nil {
			return mapNotFound(err, board.NotFoundf("project %q not found", in.ProjectID))
		}
		step, err := tx.GetStep(in.StepID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("workflow step %q not found", in.StepID))
		}
		if step.ProjectID != in.ProjectID {
			return board.InvalidInputf("step %q belongs to a different project", in.StepID)
		}
		if in.ParentTaskID != "" {
			if _, err := tx.GetTask(in.ParentTaskID); err != nil {
				return mapNotFound(err, board.NotFoundf("parent task %q not found", in.ParentTaskID))
			}
		}

		t := &board.Task{
			ID:          newID(),
			ProjectID:   in.ProjectID,
			Title:       in.Title,
			Description: in.Description,
			StepID:      in.StepID,
			Type:        typ,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if in.ParentTaskID != "" {
			parentID := in.ParentTaskID
			t.ParentTaskID = &parentID
		}
		if err := tx.InsertTask(t); err != nil {
			return err
		}
		if _, err := tx.EmitEvent(event.TaskCreated{TaskID: t.ID, ProjectID: t.ProjectID}, now); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// SubtaskSpec is one child task in a create_subtasks batch.
type SubtaskSpec struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StepID      string `json:"step_id,omitempty"`
	Type        string `json:"type,omitempty"`
}

// BatchDep wires a dependency between two tasks of the same batch by
// index: the task at FromIndex blocks the task at ToIndex.
type BatchDep struct {
	FromIndex int `json:"from_index"`
	ToIndex   int `json:"to_index"`
}

// CreateSubtasksInput carries create_subtasks parameters.
type CreateSubtasksInput struct {
	ParentTaskID   string        `json:"parent_task_id"`
	Tasks          []SubtaskSpec `json:"tasks"`
	DefaultStepID  string        `json:"default_step_id,omitempty"`
	Dependencies   []BatchDep    `json:"dependencies,omitempty"`
	CascadeDepsFrom string       `json:"cascade_deps_from,omitempty"`
}

// CreateSubtasks bulk-creates children under a parent.
//
// The default child step is the parent's next step; when the parent is at
// the terminal step, the project's first agent step. Intra-batch
// dependency edges are written before any task_created event so the
// trigger processor never dispatches a child whose blocking edge has not
// landed yet. CascadeDepsFrom re-blocks that task's successors on every
// newly created child.
func (s *Surface) CreateSubtasks(ctx context.Context, in CreateSubtasksInput) ([]board.Task, error) {
	if len(in.Tasks) == 0 {
		return nil, board.InvalidInputf("at least one subtask is required")
	}
	for i, spec := range in.Tasks {
		if strings.TrimSpace(spec.Title) == "" {
			return nil, board.InvalidInputf("subtask at index %d is missing a title", i)
		}
		if spec.Type != "" && !board.TaskType(spec.Type).Valid() {
			return nil, board.InvalidInputf("subtask at index %d has unknown type %q", i, spec.Type)
		}
	}
	for _, dep := range in.Dependencies {
		if dep.FromIndex < 0 || dep.FromIndex >= len(in.Tasks) ||
			dep.ToIndex < 0 || dep.ToIndex >= len(in.Tasks) {
			return nil, board.InvalidInputf("dependency index out of range: %d -> %d", dep.FromIndex, dep.ToIndex)
		}
		if dep.FromIndex == dep.ToIndex {
			return nil, board.InvalidInputf("a task cannot depend on itself")
		}
	}

	now := s.now().UTC()
	var created []board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		parent, err := tx.GetTask(in.ParentTaskID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("parent task %q not found", in.ParentTaskID))
		}

		defaultStep, terr := s.resolveDefaultStep(tx, parent, in.DefaultStepID)
		if terr != nil {
			return terr
		}

		created = created[:0]
		for _, spec := range in.Tasks {
			stepID := defaultStep.ID
			if spec.StepID != "" {
				step, err := tx.GetStep(spec.StepID)
				if err != nil {
					return mapNotFound(err, board.NotFoundf("workflow step %q not found", spec.StepID))
				}
				if step.ProjectID != parent.ProjectID {
					return board.InvalidInputf("step %q belongs to a different project", spec.StepID)
				}
				stepID = step.ID
			}
			typ := board.TaskType(spec.Type)
			if spec.Type == "" {
				typ = board.TypeTask
			}
			parentID := parent.ID
			child := board.Task{
				ID:           newID(),
				ProjectID:    parent.ProjectID,
				ParentTaskID: &parentID,
				Title:        spec.Title,
				Description:  spec.Description,
				StepID:       stepID,
				Type:         typ,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.InsertTask(&child); err != nil {
				return err
			}
			created = append(created, child)
		}

		// Blocking edges land before any task_created event row.
		for _, dep := range in.Dependencies {
			edge := board.TaskDependency{
				ID:            newID(),
				PredecessorID: created[dep.FromIndex].ID,
				SuccessorID:   created[dep.ToIndex].ID,
				CreatedAt:     now,
			}
			if err := tx.InsertDependency(&edge); err != nil {
				return err
			}
		}
		if in.CascadeDepsFrom != "" {
			if _, err := tx.GetTask(in.CascadeDepsFrom); err != nil {
				return mapNotFound(err, board.NotFoundf("cascade_deps_from task %q not found", in.CascadeDepsFrom))
			}
			succs, err := tx.SuccessorsOf(in.CascadeDepsFrom)
			if err != nil {
				return err
			}
			for _, edge := range succs {
				for _, child := range created {
					if edge.SuccessorID == child.ID {
						continue
					}
					exists, err := tx.DependencyExists(child.ID, edge.SuccessorID)
					if err != nil {
						return err
					}
					if exists {
						continue
					}
					newEdge := board.TaskDependency{
						ID:            newID(),
						PredecessorID: child.ID,
						SuccessorID:   edge.SuccessorID,
						CreatedAt:     now,
					}
					if err := tx.InsertDependency(&newEdge); err != nil {
						return err
					}
				}
			}
		}

		ids := make([]string, len(created))
		for i, c := range created {
			ids[i] = c.ID
		}
		if _, err := tx.EmitEvent(event.SubtasksCreated{ParentTaskID: parent.ID, TaskIDs: ids}, now); err != nil {
			return err
		}
		for _, c := range created {
			if _, err := tx.EmitEvent(event.TaskCreated{TaskID: c.ID, ProjectID: c.ProjectID}, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// resolveDefaultStep picks the step children land on when a batch spec
// does not name one.
func (s *Surface) resolveDefaultStep(tx *store.Tx, parent *board.Task, defaultStepID string) (*board.WorkflowStep, error) {
	if defaultStepID != "" {
		step, err := tx.GetStep(defaultStepID)
		if err != nil {
			return nil, mapNotFound(err, board.NotFoundf("workflow step %q not found", defaultStepID))
		}
		if step.ProjectID != parent.ProjectID {
			return nil, board.InvalidInputf("step %q belongs to a different project", defaultStepID)
		}
		return step, nil
	}

	parentStep, err := tx.GetStep(parent.StepID)
	if err != nil {
		return nil, err
	}
	terminal, err := tx.TerminalPosition(parent.ProjectID)
	if err != nil {
		return nil, err
	}
	if parentStep.Position < terminal {
		next, err := tx.StepAtPosition(parent.ProjectID, parentStep.Position+1)
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	first, err := tx.FirstAgentStep(parent.ProjectID)
	if err != nil {
		return nil, mapNotFound(err, board.InvalidInputf("project has no agent step to default subtasks onto"))
	}
	return first, nil
}

// MoveTask moves a task to a target step, enforcing the transition rules.
func (s *Surface) MoveTask(ctx context.Context, taskID, targetStepID string) (*board.Task, error) {
	now := s.now().UTC()
	var task *board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.GetTask(taskID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", taskID))
		}
		target, err := tx.GetStep(targetStepID)
		if err != nil {
			return mapNotFound(err, board.InvalidTransitionf("target step %q not found", targetStepID))
		}
		current, err := tx.GetStep(t.StepID)
		if err != nil {
			return err
		}
		move, terr := board.ValidateMove(t, current, target)
		if terr != nil {
			return terr
		}
		if err := tx.UpdateTaskStep(taskID, target.ID, now); err != nil {
			return err
		}
		if _, err := tx.EmitEvent(movedPayload(move), now); err != nil {
			return err
		}
		t.StepID = target.ID
		t.UpdatedAt = now
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func movedPayload(m *board.Move) event.TaskMoved {
	return event.TaskMoved{
		TaskID:       m.TaskID,
		OldStepID:    m.FromStepID,
		NewStepID:    m.ToStepID,
		ProjectID:    m.ProjectID,
		FromStepName: m.FromStepName,
		ToStepName:   m.ToStepName,
		FromPosition: m.FromPosition,
		ToPosition:   m.ToPosition,
		Direction:    string(m.Direction),
	}
}

// CancelTask sets the cancelled flag. Rejected when already cancelled.
func (s *Surface) CancelTask(ctx context.Context, taskID string) (*board.Task, error) {
	return s.setCancelled(ctx, taskID, true)
}

// UncancelTask clears the cancelled flag. Rejected when not cancelled.
func (s *Surface) UncancelTask(ctx context.Context, taskID string) (*board.Task, error) {
	return s.setCancelled(ctx, taskID, false)
}

func (s *Surface) setCancelled(ctx context.Context, taskID string, cancelled bool) (*board.Task, error) {
	now := s.now().UTC()
	var task *board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.GetTask(taskID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", taskID))
		}
		if cancelled {
			if terr := board.ValidateCancel(t); terr != nil {
				return terr
			}
		} else if terr := board.ValidateUncancel(t); terr != nil {
			return terr
		}
		if err := tx.SetTaskCancelled(taskID, cancelled, now); err != nil {
			return err
		}
		var payload event.Payload = event.TaskCancelled{TaskID: taskID}
		if !cancelled {
			payload = event.TaskUncancelled{TaskID: taskID}
		}
		if _, err := tx.EmitEvent(payload, now); err != nil {
			return err
		}
		t.Cancelled = cancelled
		t.UpdatedAt = now
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// AddComment appends to a task's comment thread. Any non-empty author
// role is accepted.
func (s *Surface) AddComment(ctx context.Context, taskID, content, authorRole string) (*board.Comment, error) {
	if strings.TrimSpace(authorRole) == "" {
		return nil, board.InvalidRolef("author_role must not be empty")
	}
	now := s.now().UTC()
	comment := &board.Comment{
		ID:         newID(),
		TaskID:     taskID,
		AuthorRole: authorRole,
		Content:    content,
		CreatedAt:  now,
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTask(taskID); err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", taskID))
		}
		if err := tx.InsertComment(comment); err != nil {
			return err
		}
		_, err := tx.EmitEvent(event.CommentAdded{CommentID: comment.ID, TaskID: taskID}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// AddDependency records predecessor -> successor. Self-loops, duplicates,
// and cycle-introducing edges are rejected as invalid_input.
func (s *Surface) AddDependency(ctx context.Context, predecessorID, successorID string) (*board.TaskDependency, error) {
	now := s.now().UTC()
	dep := &board.TaskDependency{
		ID:            newID(),
		PredecessorID: predecessorID,
		SuccessorID:   successorID,
		CreatedAt:     now,
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTask(predecessorID); err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", predecessorID))
		}
		if _, err := tx.GetTask(successorID); err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", successorID))
		}
		exists, err := tx.DependencyExists(predecessorID, successorID)
		if err != nil {
			return err
		}
		graph, err := tx.DepGraph()
		if err != nil {
			return err
		}
		if terr := board.ValidateEdge(graph, predecessorID, successorID, exists); terr != nil {
			return terr
		}
		if err := tx.InsertDependency(dep); err != nil {
			return err
		}
		_, err = tx.EmitEvent(event.DependencyCreated{
			DependencyID:  dep.ID,
			PredecessorID: predecessorID,
			SuccessorID:   successorID,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// RemoveDependency deletes an edge by id.
func (s *Surface) RemoveDependency(ctx context.Context, dependencyID string) (*board.TaskDependency, error) {
	now := s.now().UTC()
	var dep *board.TaskDependency
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		d, err := tx.GetDependency(dependencyID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("dependency %q not found", dependencyID))
		}
		if err := tx.DeleteDependency(dependencyID); err != nil {
			return err
		}
		if _, err := tx.EmitEvent(event.DependencyRemoved{
			DependencyID:  d.ID,
			PredecessorID: d.PredecessorID,
			SuccessorID:   d.SuccessorID,
		}, now); err != nil {
			return err
		}
		dep = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// ApprovePlan flips a milestone's plan_approved flag and emits task_ready
// for each child whose gates are already open.
//
// Rejections: non-milestones and childless milestones are invalid_input;
// an already-approved milestone is invalid_transition (the flag only
// moves false to true).
func (s *Surface) ApprovePlan(ctx context.Context, taskID string) (*board.Task, error) {
	now := s.now().UTC()
	var task *board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.GetTask(taskID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", taskID))
		}
		if t.Type != board.TypeMilestone {
			return board.InvalidInputf("task %q is not a milestone", taskID)
		}
		if t.PlanApproved {
			return board.InvalidTransitionf("milestone %q is already approved", taskID)
		}
		children, err := tx.ChildrenOf(taskID)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return board.InvalidInputf("milestone %q has no children to approve", taskID)
		}
		if err := tx.SetPlanApproved(taskID, now); err != nil {
			return err
		}
		if _, err := tx.EmitEvent(event.PlanApproved{TaskID: taskID, ProjectID: t.ProjectID}, now); err != nil {
			return err
		}
		for _, child := range children {
			if child.Cancelled {
				continue
			}
			blocked, err := tx.IsBlocked(child.ID, child.ProjectID)
			if err != nil {
				return err
			}
			if blocked {
				continue
			}
			if _, err := tx.EmitEvent(event.TaskReady{TaskID: child.ID, ProjectID: child.ProjectID}, now); err != nil {
				return err
			}
		}
		t.PlanApproved = true
		t.UpdatedAt = now
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CompleteTask walks a task to its project's terminal step, unblocks
// dependents, and runs the sibling-completion check up the parent chain.
func (s *Surface) CompleteTask(ctx context.Context, taskID string) (*board.Task, error) {
	now := s.now().UTC()
	var task *board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.GetTask(taskID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", taskID))
		}
		if t.Cancelled {
			return board.InvalidTransitionf("task %q is cancelled", taskID)
		}
		current, err := tx.GetStep(t.StepID)
		if err != nil {
			return err
		}
		terminal, err := tx.TerminalPosition(t.ProjectID)
		if err != nil {
			return err
		}
		if current.Position == terminal {
			return board.InvalidTransitionf("task %q is already at the terminal step", taskID)
		}
		target, err := tx.StepAtPosition(t.ProjectID, terminal)
		if err != nil {
			return err
		}
		if err := s.moveDirect(tx, t, current, target, now); err != nil {
			return err
		}
		if err := s.cascadeUnblock(tx, t, terminal, now); err != nil {
			return err
		}
		if err := s.checkSiblingCompletion(tx, t, terminal, now); err != nil {
			return err
		}
		t.StepID = target.ID
		t.UpdatedAt = now
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// moveDirect performs a system-initiated move without the forward-only
// restriction and emits the task_moved event.
func (s *Surface) moveDirect(tx *store.Tx, t *board.Task, from, to *board.WorkflowStep, now time.Time) error {
	if err := tx.UpdateTaskStep(t.ID, to.ID, now); err != nil {
		return err
	}
	dir := board.DirectionForward
	if to.Position < from.Position {
		dir = board.DirectionBackward
	}
	_, err := tx.EmitEvent(event.TaskMoved{
		TaskID:       t.ID,
		OldStepID:    from.ID,
		NewStepID:    to.ID,
		ProjectID:    t.ProjectID,
		FromStepName: from.Name,
		ToStepName:   to.Name,
		FromPosition: from.Position,
		ToPosition:   to.Position,
		Direction:    string(dir),
	}, now)
	return err
}

// cascadeUnblock emits task_ready for every successor of done whose
// predecessors are all terminal, whose parent milestone (if any) is
// approved, and which is not cancelled.
func (s *Surface) cascadeUnblock(tx *store.Tx, done *board.Task, terminal int, now time.Time) error {
	succs, err := tx.SuccessorsOf(done.ID)
	if err != nil {
		return err
	}
	for _, edge := range succs {
		succ, err := tx.GetTask(edge.SuccessorID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
		if succ.Cancelled {
			continue
		}
		blocked, err := tx.IsBlocked(succ.ID, succ.ProjectID)
		if err != nil {
			return err
		}
		if blocked {
			continue
		}
		approved, err := parentApproved(tx, succ)
		if err != nil {
			return err
		}
		if !approved {
			continue
		}
		if _, err := tx.EmitEvent(event.TaskReady{TaskID: succ.ID, ProjectID: succ.ProjectID}, now); err != nil {
			return err
		}
	}
	return nil
}

// checkSiblingCompletion advances the parent by one step when every
// non-cancelled child sits at the terminal position, then recurses when
// the parent itself lands terminal.
func (s *Surface) checkSiblingCompletion(tx *store.Tx, t *board.Task, terminal int, now time.Time) error {
	if t.ParentTaskID == nil {
		return nil
	}
	parent, err := tx.GetTask(*t.ParentTaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if parent.Cancelled {
		return nil
	}
	children, err := tx.ChildrenOf(parent.ID)
	if err != nil {
		return err
	}
	live := 0
	for _, child := range children {
		if child.Cancelled {
			continue
		}
		live++
		step, err := tx.GetStep(child.StepID)
		if err != nil {
			return err
		}
		if child.ID == t.ID {
			// The completing task is already repositioned in this
			// transaction; trust the caller's move.
			continue
		}
		if step.Position != terminal {
			return nil
		}
	}
	if live == 0 {
		return nil
	}

	parentStep, err := tx.GetStep(parent.StepID)
	if err != nil {
		return err
	}
	if parentStep.Position >= terminal {
		return nil
	}
	next, err := tx.StepAtPosition(parent.ProjectID, parentStep.Position+1)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.moveDirect(tx, parent, parentStep, next, now); err != nil {
		return err
	}
	if next.Position == terminal {
		if _, err := tx.EmitEvent(event.MilestoneCompleted{TaskID: parent.ID, ProjectID: parent.ProjectID}, now); err != nil {
			return err
		}
		return s.checkSiblingCompletion(tx, parent, terminal, now)
	}
	return nil
}

// SetTaskOutput stores output text on a task (research findings).
func (s *Surface) SetTaskOutput(ctx context.Context, taskID, output string) (*board.Task, error) {
	now := s.now().UTC()
	var task *board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.GetTask(taskID)
		if err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", taskID))
		}
		if err := tx.SetTaskOutput(taskID, output, now); err != nil {
			return err
		}
		if _, err := tx.EmitEvent(event.TaskUpdated{TaskID: taskID}, now); err != nil {
			return err
		}
		t.Output = &output
		t.UpdatedAt = now
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateTask edits a task's title and/or description.
func (s *Surface) UpdateTask(ctx context.Context, taskID string, title, description *string) (*board.Task, error) {
	if title == nil && description == nil {
		return nil, board.InvalidInputf("nothing to update")
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return nil, board.InvalidInputf("title must not be empty")
	}
	now := s.now().UTC()
	var task *board.Task
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTask(taskID); err != nil {
			return mapNotFound(err, board.NotFoundf("task %q not found", taskID))
		}
		if err := tx.UpdateTaskText(taskID, title, description, now); err != nil {
			return err
		}
		if _, err := tx.EmitEvent(event.TaskUpdated{TaskID: taskID}, now); err != nil {
			return err
		}
		t, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// AdvanceToNextAgentStep moves a task forward to the next agent step
// after its current position, used by the trigger processor to enact
// task_ready events. Returns false without error when the task is
// cancelled, missing, or has no agent step ahead of it.
func (s *Surface) AdvanceToNextAgentStep(ctx context.Context, taskID string) (bool, error) {
	now := s.now().UTC()
	moved := false
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.GetTask(taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if t.Cancelled {
			return nil
		}
		current, err := tx.GetStep(t.StepID)
		if err != nil {
			return err
		}
		next, err := tx.NextAgentStepAfter(t.ProjectID, current.Position)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := s.moveDirect(tx, t, current, next, now); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to advance task %s: %w", taskID, err)
	}
	return moved, nil
}
