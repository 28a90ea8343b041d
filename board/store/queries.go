package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/taskrelay/board"
)

// ErrNotFound is returned when a requested row does not exist. The tool
// surface maps it to a not_found ToolError.
var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Accept second-precision timestamps written by other tooling.
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ── Projects ──────────────────────────────────────────────────────────

const projectCols = "id, title, description, repo_path, base_branch, status, created_at, updated_at"

// InsertProject writes a new project row.
func (t *Tx) InsertProject(p *board.Project) error {
	_, err := t.q.ExecContext(t.ctx,
		"INSERT INTO projects ("+projectCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Title, p.Description, nullStr(p.RepoPath), nullStr(p.BaseBranch),
		string(p.Status), fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func scanProject(row interface{ Scan(...any) error }) (*board.Project, error) {
	var (
		p                    board.Project
		repoPath, baseBranch sql.NullString
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &repoPath, &baseBranch,
		&status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.RepoPath = strPtr(repoPath)
	p.BaseBranch = strPtr(baseBranch)
	p.Status = board.ProjectStatus(status)
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject loads a project by id. Returns ErrNotFound if absent.
func (t *Tx) GetProject(id string) (*board.Project, error) {
	row := t.q.QueryRowContext(t.ctx, "SELECT "+projectCols+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects, newest first.
func (t *Tx) ListProjects() ([]board.Project, error) {
	rows, err := t.q.QueryContext(t.ctx, "SELECT "+projectCols+" FROM projects ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []board.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// SetProjectStatus updates a project's status and updated_at.
func (t *Tx) SetProjectStatus(id string, status board.ProjectStatus, at time.Time) error {
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE projects SET status = ?, updated_at = ? WHERE id = ?",
		string(status), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	return nil
}

// ── Workflow steps ────────────────────────────────────────────────────

const stepCols = "id, project_id, name, position, system_prompt, model, color, created_at"

// InsertStep writes a new workflow step row.
func (t *Tx) InsertStep(s *board.WorkflowStep) error {
	_, err := t.q.ExecContext(t.ctx,
		"INSERT INTO workflow_steps ("+stepCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.ID, s.ProjectID, s.Name, s.Position, nullStr(s.SystemPrompt),
		nullStr(s.Model), nullStr(s.Color), fmtTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert workflow step: %w", err)
	}
	return nil
}

func scanStep(row interface{ Scan(...any) error }) (*board.WorkflowStep, error) {
	var (
		s                    board.WorkflowStep
		prompt, model, color sql.NullString
		createdAt            string
	)
	if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Position, &prompt,
		&model, &color, &createdAt); err != nil {
		return nil, err
	}
	s.SystemPrompt = strPtr(prompt)
	s.Model = strPtr(model)
	s.Color = strPtr(color)
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStep loads a step by id. Returns ErrNotFound if absent.
func (t *Tx) GetStep(id string) (*board.WorkflowStep, error) {
	row := t.q.QueryRowContext(t.ctx, "SELECT "+stepCols+" FROM workflow_steps WHERE id = ?", id)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow step: %w", err)
	}
	return s, nil
}

// StepsByProject returns all steps of a project ordered by position.
func (t *Tx) StepsByProject(projectID string) ([]board.WorkflowStep, error) {
	rows, err := t.q.QueryContext(t.ctx,
		"SELECT "+stepCols+" FROM workflow_steps WHERE project_id = ? ORDER BY position", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []board.WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step row: %w", err)
		}
		steps = append(steps, *s)
	}
	return steps, rows.Err()
}

// TerminalPosition returns the highest step position in a project.
// Returns ErrNotFound when the project has no steps.
func (t *Tx) TerminalPosition(projectID string) (int, error) {
	var pos sql.NullInt64
	err := t.q.QueryRowContext(t.ctx,
		"SELECT MAX(position) FROM workflow_steps WHERE project_id = ?", projectID).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to query terminal position: %w", err)
	}
	if !pos.Valid {
		return 0, ErrNotFound
	}
	return int(pos.Int64), nil
}

// StepAtPosition loads the step at an exact position in a project.
func (t *Tx) StepAtPosition(projectID string, position int) (*board.WorkflowStep, error) {
	row := t.q.QueryRowContext(t.ctx,
		"SELECT "+stepCols+" FROM workflow_steps WHERE project_id = ? AND position = ?",
		projectID, position)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load step at position %d: %w", position, err)
	}
	return s, nil
}

// NextAgentStepAfter returns the lowest-position agent step strictly
// after position, or ErrNotFound when none exists.
func (t *Tx) NextAgentStepAfter(projectID string, position int) (*board.WorkflowStep, error) {
	row := t.q.QueryRowContext(t.ctx,
		"SELECT "+stepCols+` FROM workflow_steps
		 WHERE project_id = ? AND position > ? AND system_prompt IS NOT NULL
		 ORDER BY position LIMIT 1`, projectID, position)
	s, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find next agent step: %w", err)
	}
	return s, nil
}

// FirstAgentStep returns the lowest-position agent step in a project, or
// ErrNotFound when the project has no agent steps.
func (t *Tx) FirstAgentStep(projectID string) (*board.WorkflowStep, error) {
	return t.NextAgentStepAfter(projectID, -1)
}

// ── Tasks ─────────────────────────────────────────────────────────────

const taskCols = "id, project_id, parent_task_id, title, description, step_id, cancelled, type, plan_approved, output, worktree_path, branch, session_id, created_at, updated_at"

// InsertTask writes a new task row.
func (t *Tx) InsertTask(task *board.Task) error {
	_, err := t.q.ExecContext(t.ctx,
		"INSERT INTO tasks ("+taskCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		task.ID, task.ProjectID, nullStr(task.ParentTaskID), task.Title, task.Description,
		task.StepID, boolInt(task.Cancelled), string(task.Type), boolInt(task.PlanApproved),
		nullStr(task.Output), nullStr(task.WorktreePath), nullStr(task.Branch),
		nullStr(task.SessionID), fmtTime(task.CreatedAt), fmtTime(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*board.Task, error) {
	var (
		task                              board.Task
		parent, output, worktree          sql.NullString
		branch, session                   sql.NullString
		cancelled, approved               int
		typ                               string
		createdAt, updatedAt              string
	)
	if err := row.Scan(&task.ID, &task.ProjectID, &parent, &task.Title, &task.Description,
		&task.StepID, &cancelled, &typ, &approved, &output, &worktree, &branch,
		&session, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	task.ParentTaskID = strPtr(parent)
	task.Cancelled = cancelled != 0
	task.Type = board.TaskType(typ)
	task.PlanApproved = approved != 0
	task.Output = strPtr(output)
	task.WorktreePath = strPtr(worktree)
	task.Branch = strPtr(branch)
	task.SessionID = strPtr(session)
	var err error
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask loads a task by id. Returns ErrNotFound if absent.
func (t *Tx) GetTask(id string) (*board.Task, error) {
	row := t.q.QueryRowContext(t.ctx, "SELECT "+taskCols+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return task, nil
}

func (t *Tx) queryTasks(query string, args ...any) ([]board.Task, error) {
	rows, err := t.q.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []board.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// TasksByProject returns all tasks of a project in creation order.
func (t *Tx) TasksByProject(projectID string) ([]board.Task, error) {
	return t.queryTasks("SELECT "+taskCols+" FROM tasks WHERE project_id = ? ORDER BY created_at", projectID)
}

// TasksAtStep returns non-cancelled tasks sitting at a step, optionally
// filtered by project, in creation order.
func (t *Tx) TasksAtStep(stepID, projectID string) ([]board.Task, error) {
	query := "SELECT " + taskCols + " FROM tasks WHERE step_id = ? AND cancelled = 0"
	args := []any{stepID}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	return t.queryTasks(query+" ORDER BY created_at", args...)
}

// ChildrenOf returns the direct children of a parent task in creation
// order.
func (t *Tx) ChildrenOf(parentTaskID string) ([]board.Task, error) {
	return t.queryTasks("SELECT "+taskCols+" FROM tasks WHERE parent_task_id = ? ORDER BY created_at", parentTaskID)
}

// CommentCounts returns the comment count per task for a project.
func (t *Tx) CommentCounts(projectID string) (map[string]int, error) {
	rows, err := t.q.QueryContext(t.ctx,
		`SELECT c.task_id, COUNT(*) FROM comments c
		 JOIN tasks t ON c.task_id = t.id
		 WHERE t.project_id = ?
		 GROUP BY c.task_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var taskID string
		var n int
		if err := rows.Scan(&taskID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan comment count: %w", err)
		}
		counts[taskID] = n
	}
	return counts, rows.Err()
}

// UpdateTaskStep moves a task to a step and bumps updated_at.
func (t *Tx) UpdateTaskStep(taskID, stepID string, at time.Time) error {
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE tasks SET step_id = ?, updated_at = ? WHERE id = ?",
		stepID, fmtTime(at), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task step: %w", err)
	}
	return nil
}

// SetTaskCancelled sets the cancelled flag and bumps updated_at.
func (t *Tx) SetTaskCancelled(taskID string, cancelled bool, at time.Time) error {
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE tasks SET cancelled = ?, updated_at = ? WHERE id = ?",
		boolInt(cancelled), fmtTime(at), taskID)
	if err != nil {
		return fmt.Errorf("failed to update task cancelled flag: %w", err)
	}
	return nil
}

// SetPlanApproved flips a milestone's plan_approved to true.
func (t *Tx) SetPlanApproved(taskID string, at time.Time) error {
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE tasks SET plan_approved = 1, updated_at = ? WHERE id = ?",
		fmtTime(at), taskID)
	if err != nil {
		return fmt.Errorf("failed to approve plan: %w", err)
	}
	return nil
}

// SetTaskOutput stores a task's output text.
func (t *Tx) SetTaskOutput(taskID, output string, at time.Time) error {
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE tasks SET output = ?, updated_at = ? WHERE id = ?",
		output, fmtTime(at), taskID)
	if err != nil {
		return fmt.Errorf("failed to set task output: %w", err)
	}
	return nil
}

// UpdateTaskText updates title and/or description; nil leaves a field
// unchanged.
func (t *Tx) UpdateTaskText(taskID string, title, description *string, at time.Time) error {
	if title == nil && description == nil {
		return nil
	}
	query := "UPDATE tasks SET updated_at = ?"
	args := []any{fmtTime(at)}
	if title != nil {
		query += ", title = ?"
		args = append(args, *title)
	}
	if description != nil {
		query += ", description = ?"
		args = append(args, *description)
	}
	query += " WHERE id = ?"
	args = append(args, taskID)
	if _, err := t.q.ExecContext(t.ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update task text: %w", err)
	}
	return nil
}

// SetTaskWorktree persists the worktree path and branch for a task.
// Clearing both (empty strings write NULL) records worktree removal.
func (t *Tx) SetTaskWorktree(taskID, worktreePath, branch string, at time.Time) error {
	var pathArg, branchArg any
	if worktreePath != "" {
		pathArg = worktreePath
	}
	if branch != "" {
		branchArg = branch
	}
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE tasks SET worktree_path = ?, branch = ?, updated_at = ? WHERE id = ?",
		pathArg, branchArg, fmtTime(at), taskID)
	if err != nil {
		return fmt.Errorf("failed to set task worktree: %w", err)
	}
	return nil
}

// SetTaskSession persists a captured agent session id.
func (t *Tx) SetTaskSession(taskID, sessionID string, at time.Time) error {
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE tasks SET session_id = ?, updated_at = ? WHERE id = ?",
		sessionID, fmtTime(at), taskID)
	if err != nil {
		return fmt.Errorf("failed to set task session id: %w", err)
	}
	return nil
}

// ── Comments ──────────────────────────────────────────────────────────

// InsertComment writes a comment row.
func (t *Tx) InsertComment(c *board.Comment) error {
	_, err := t.q.ExecContext(t.ctx,
		"INSERT INTO comments (id, task_id, author_role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.TaskID, c.AuthorRole, c.Content, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// GetComment loads a comment by id. Returns ErrNotFound if absent.
func (t *Tx) GetComment(id string) (*board.Comment, error) {
	var (
		c         board.Comment
		createdAt string
	)
	err := t.q.QueryRowContext(t.ctx,
		"SELECT id, task_id, author_role, content, created_at FROM comments WHERE id = ?", id).
		Scan(&c.ID, &c.TaskID, &c.AuthorRole, &c.Content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load comment: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CommentsByTask returns a task's comments in chronological order.
func (t *Tx) CommentsByTask(taskID string) ([]board.Comment, error) {
	rows, err := t.q.QueryContext(t.ctx,
		"SELECT id, task_id, author_role, content, created_at FROM comments WHERE task_id = ? ORDER BY created_at", taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []board.Comment
	for rows.Next() {
		var (
			c         board.Comment
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorRole, &c.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment row: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ── Agent runs ────────────────────────────────────────────────────────

// InsertRun opens an agent run row.
func (t *Tx) InsertRun(r *board.AgentRun) error {
	_, err := t.q.ExecContext(t.ctx,
		"INSERT INTO agent_runs (id, task_id, step_id, started_at) VALUES (?, ?, ?, ?)",
		r.ID, r.TaskID, r.StepID, fmtTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to insert agent run: %w", err)
	}
	return nil
}

// CloseRun records subprocess termination: exit code, optional error, and
// the completion timestamp.
func (t *Tx) CloseRun(runID string, exitCode int, errMsg *string, at time.Time) error {
	_, err := t.q.ExecContext(t.ctx,
		"UPDATE agent_runs SET completed_at = ?, exit_code = ?, error = ? WHERE id = ?",
		fmtTime(at), exitCode, nullStr(errMsg), runID)
	if err != nil {
		return fmt.Errorf("failed to close agent run: %w", err)
	}
	return nil
}

// RunsByTask returns a task's run history, oldest first.
func (t *Tx) RunsByTask(taskID string) ([]board.AgentRun, error) {
	rows, err := t.q.QueryContext(t.ctx,
		"SELECT id, task_id, step_id, started_at, completed_at, exit_code, error FROM agent_runs WHERE task_id = ? ORDER BY started_at", taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []board.AgentRun
	for rows.Next() {
		var (
			r                    board.AgentRun
			startedAt            string
			completedAt, errText sql.NullString
			exitCode             sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.StepID, &startedAt, &completedAt,
			&exitCode, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan agent run row: %w", err)
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			done, err := parseTime(completedAt.String)
			if err != nil {
				return nil, err
			}
			r.CompletedAt = &done
		}
		r.ExitCode = intPtr(exitCode)
		r.Error = strPtr(errText)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TaskHasActiveRun reports whether a task has a run with no completion.
func (t *Tx) TaskHasActiveRun(taskID string) (bool, error) {
	var n int
	err := t.q.QueryRowContext(t.ctx,
		"SELECT COUNT(*) FROM agent_runs WHERE task_id = ? AND completed_at IS NULL", taskID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count active runs for task: %w", err)
	}
	return n > 0, nil
}

// ActiveRunCount returns the number of active runs across all tasks.
func (t *Tx) ActiveRunCount() (int, error) {
	var n int
	err := t.q.QueryRowContext(t.ctx,
		"SELECT COUNT(*) FROM agent_runs WHERE completed_at IS NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active runs: %w", err)
	}
	return n, nil
}

// ── Dependencies ──────────────────────────────────────────────────────

// InsertDependency writes a dependency edge.
func (t *Tx) InsertDependency(d *board.TaskDependency) error {
	_, err := t.q.ExecContext(t.ctx,
		"INSERT INTO task_dependencies (id, predecessor_id, successor_id, created_at) VALUES (?, ?, ?, ?)",
		d.ID, d.PredecessorID, d.SuccessorID, fmtTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert dependency: %w", err)
	}
	return nil
}

// GetDependency loads an edge by id. Returns ErrNotFound if absent.
func (t *Tx) GetDependency(id string) (*board.TaskDependency, error) {
	var (
		d         board.TaskDependency
		createdAt string
	)
	err := t.q.QueryRowContext(t.ctx,
		"SELECT id, predecessor_id, successor_id, created_at FROM task_dependencies WHERE id = ?", id).
		Scan(&d.ID, &d.PredecessorID, &d.SuccessorID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency: %w", err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDependency removes an edge by id.
func (t *Tx) DeleteDependency(id string) error {
	if _, err := t.q.ExecContext(t.ctx, "DELETE FROM task_dependencies WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete dependency: %w", err)
	}
	return nil
}

// DependencyExists reports whether the exact edge is stored.
func (t *Tx) DependencyExists(predecessorID, successorID string) (bool, error) {
	var n int
	err := t.q.QueryRowContext(t.ctx,
		"SELECT COUNT(*) FROM task_dependencies WHERE predecessor_id = ? AND successor_id = ?",
		predecessorID, successorID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check dependency existence: %w", err)
	}
	return n > 0, nil
}

// DepGraph loads the full dependency adjacency map.
func (t *Tx) DepGraph() (board.DepGraph, error) {
	rows, err := t.q.QueryContext(t.ctx,
		"SELECT predecessor_id, successor_id FROM task_dependencies")
	if err != nil {
		return nil, fmt.Errorf("failed to load dependency graph: %w", err)
	}
	defer func() { _ = rows.Close() }()

	graph := make(board.DepGraph)
	for rows.Next() {
		var pred, succ string
		if err := rows.Scan(&pred, &succ); err != nil {
			return nil, fmt.Errorf("failed to scan dependency row: %w", err)
		}
		graph[pred] = append(graph[pred], succ)
	}
	return graph, rows.Err()
}

// PredecessorsOf returns the tasks a task depends on, with the edge id.
func (t *Tx) PredecessorsOf(taskID string) ([]board.TaskDependency, error) {
	return t.queryDeps("SELECT id, predecessor_id, successor_id, created_at FROM task_dependencies WHERE successor_id = ? ORDER BY created_at", taskID)
}

// SuccessorsOf returns the edges where the task is the predecessor.
func (t *Tx) SuccessorsOf(taskID string) ([]board.TaskDependency, error) {
	return t.queryDeps("SELECT id, predecessor_id, successor_id, created_at FROM task_dependencies WHERE predecessor_id = ? ORDER BY created_at", taskID)
}

func (t *Tx) queryDeps(query string, args ...any) ([]board.TaskDependency, error) {
	rows, err := t.q.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deps []board.TaskDependency
	for rows.Next() {
		var (
			d         board.TaskDependency
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.PredecessorID, &d.SuccessorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency row: %w", err)
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// PredecessorPositions returns the step positions of every predecessor of
// a task, for block evaluation.
func (t *Tx) PredecessorPositions(taskID string) ([]int, error) {
	rows, err := t.q.QueryContext(t.ctx,
		`SELECT ws.position FROM task_dependencies d
		 JOIN tasks p ON d.predecessor_id = p.id
		 JOIN workflow_steps ws ON p.step_id = ws.id
		 WHERE d.successor_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load predecessor positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []int
	for rows.Next() {
		var pos int
		if err := rows.Scan(&pos); err != nil {
			return nil, fmt.Errorf("failed to scan predecessor position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// IsBlocked reports whether any predecessor of the task sits below its
// project's terminal position.
func (t *Tx) IsBlocked(taskID, projectID string) (bool, error) {
	positions, err := t.PredecessorPositions(taskID)
	if err != nil {
		return false, err
	}
	if len(positions) == 0 {
		return false, nil
	}
	terminal, err := t.TerminalPosition(projectID)
	if err != nil {
		return false, err
	}
	return board.Blocked(positions, terminal), nil
}
