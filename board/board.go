// Package board defines the domain model for the taskrelay orchestration
// engine: projects, workflow steps, tasks, comments, agent runs, and the
// dependency graph between tasks.
//
// The board is a directed workflow: each project owns an ordered sequence
// of workflow steps, and tasks move through those steps one position at a
// time (forward) or back to any earlier position. Steps that carry a
// system prompt are agent steps; a task arriving at one is dispatched to
// an external agent subprocess by the trigger processor.
package board

import "time"

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	// ProjectActive is the initial status of every project.
	ProjectActive ProjectStatus = "active"

	// ProjectCancelled is terminal; a cancelled project is never reactivated.
	ProjectCancelled ProjectStatus = "cancelled"
)

// TaskType distinguishes how a task participates in orchestration.
type TaskType string

const (
	// TypeTask is a regular unit of work.
	TypeTask TaskType = "task"

	// TypeResearch is a task whose deliverable is its output field rather
	// than code.
	TypeResearch TaskType = "research"

	// TypeMilestone is a grouping task that gates dispatch of its children
	// until its plan is approved.
	TypeMilestone TaskType = "milestone"
)

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TypeTask, TypeResearch, TypeMilestone:
		return true
	}
	return false
}

// Project is the root entity; it owns workflow steps and tasks.
type Project struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	RepoPath    *string       `json:"repo_path,omitempty"`
	BaseBranch  *string       `json:"base_branch,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// WorkflowStep is one position in a project's ordered step sequence.
//
// Positions are dense and zero-based per project: position 0 is where new
// work conventionally enters, and the highest position is the terminal
// step ("done"). A step with a non-nil SystemPrompt is an agent step.
type WorkflowStep struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	Position     int       `json:"position"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	Model        *string   `json:"model,omitempty"`
	Color        *string   `json:"color,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasAgent reports whether the step dispatches an agent when a task
// arrives at it.
func (s *WorkflowStep) HasAgent() bool {
	return s.SystemPrompt != nil
}

// Task is a unit of work at exactly one workflow step.
//
// Cancellation is a flag orthogonal to step position: a cancelled task
// keeps its step but is excluded from movement, dispatch, and sibling
// completion checks until uncancelled.
type Task struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	ParentTaskID *string   `json:"parent_task_id,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	StepID       string    `json:"step_id"`
	Cancelled    bool      `json:"cancelled"`
	Type         TaskType  `json:"type"`
	PlanApproved bool      `json:"plan_approved"`
	Output       *string   `json:"output,omitempty"`
	WorktreePath *string   `json:"worktree_path,omitempty"`
	Branch       *string   `json:"branch,omitempty"`
	SessionID    *string   `json:"session_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Comment is one entry in a task's append-only discussion thread.
// AuthorRole is free-form but must be non-empty.
type Comment struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	AuthorRole string    `json:"author_role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// AgentRun records one supervised agent subprocess execution for a task.
// A run is active while CompletedAt is nil; at most one run per task is
// active at any time.
type AgentRun struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	StepID      string     `json:"step_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Active reports whether the run's subprocess has not yet terminated.
func (r *AgentRun) Active() bool {
	return r.CompletedAt == nil
}

// TaskDependency is a directed edge predecessor -> successor. The
// successor is blocked until the predecessor reaches its project's
// terminal step. The induced graph is kept acyclic.
type TaskDependency struct {
	ID            string    `json:"id"`
	PredecessorID string    `json:"predecessor_id"`
	SuccessorID   string    `json:"successor_id"`
	CreatedAt     time.Time `json:"created_at"`
}
