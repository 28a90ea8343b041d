package store

import (
	"context"
	"fmt"
	"strings"
)

// tables holds the schema DDL. Creation order respects foreign key
// dependencies. All statements are IF NOT EXISTS so migration is
// idempotent: applying twice produces the same schema.
var tables = []struct {
	name string
	ddl  string
}{
	{"projects", `
		CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			repo_path   TEXT,
			base_branch TEXT,
			status      TEXT NOT NULL DEFAULT 'active',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`},
	{"workflow_steps", `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id            TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL REFERENCES projects(id),
			name          TEXT NOT NULL,
			position      INTEGER NOT NULL,
			system_prompt TEXT,
			model         TEXT,
			color         TEXT,
			created_at    TEXT NOT NULL,
			UNIQUE(project_id, position),
			UNIQUE(project_id, name)
		)`},
	{"tasks", `
		CREATE TABLE IF NOT EXISTS tasks (
			id             TEXT PRIMARY KEY,
			project_id     TEXT NOT NULL REFERENCES projects(id),
			parent_task_id TEXT REFERENCES tasks(id),
			title          TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			step_id        TEXT NOT NULL REFERENCES workflow_steps(id),
			cancelled      INTEGER NOT NULL DEFAULT 0,
			type           TEXT NOT NULL DEFAULT 'task',
			plan_approved  INTEGER NOT NULL DEFAULT 0,
			output         TEXT,
			worktree_path  TEXT,
			branch         TEXT,
			session_id     TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`},
	{"comments", `
		CREATE TABLE IF NOT EXISTS comments (
			id          TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL REFERENCES tasks(id),
			author_role TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`},
	{"agent_runs", `
		CREATE TABLE IF NOT EXISTS agent_runs (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL REFERENCES tasks(id),
			step_id      TEXT NOT NULL REFERENCES workflow_steps(id),
			started_at   TEXT NOT NULL,
			completed_at TEXT,
			exit_code    INTEGER,
			error        TEXT
		)`},
	{"task_dependencies", `
		CREATE TABLE IF NOT EXISTS task_dependencies (
			id             TEXT PRIMARY KEY,
			predecessor_id TEXT NOT NULL REFERENCES tasks(id),
			successor_id   TEXT NOT NULL REFERENCES tasks(id),
			created_at     TEXT NOT NULL,
			UNIQUE(predecessor_id, successor_id)
		)`},
	{"events", `
		CREATE TABLE IF NOT EXISTS events (
			id                      TEXT PRIMARY KEY,
			type                    TEXT NOT NULL,
			payload                 TEXT NOT NULL,
			created_at              TEXT NOT NULL,
			consumed_by_broadcaster INTEGER NOT NULL DEFAULT 0,
			consumed_by_trigger     INTEGER NOT NULL DEFAULT 0
		)`},
}

var indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_steps_project ON workflow_steps(project_id, position)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_task_id)",
	"CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_runs_task ON agent_runs(task_id)",
	"CREATE INDEX IF NOT EXISTS idx_runs_active ON agent_runs(completed_at)",
	"CREATE INDEX IF NOT EXISTS idx_deps_pred ON task_dependencies(predecessor_id)",
	"CREATE INDEX IF NOT EXISTS idx_deps_succ ON task_dependencies(successor_id)",
	"CREATE INDEX IF NOT EXISTS idx_events_broadcast ON events(consumed_by_broadcaster, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_events_trigger ON events(consumed_by_trigger, created_at)",
}

// columnAdds are post-creation column migrations for databases created by
// earlier schema revisions. Duplicate-column errors are swallowed, which
// keeps the whole migration idempotent.
var columnAdds = []string{
	"ALTER TABLE tasks ADD COLUMN type TEXT NOT NULL DEFAULT 'task'",
	"ALTER TABLE tasks ADD COLUMN plan_approved INTEGER NOT NULL DEFAULT 0",
	"ALTER TABLE tasks ADD COLUMN output TEXT",
	"ALTER TABLE projects ADD COLUMN repo_path TEXT",
	"ALTER TABLE projects ADD COLUMN base_branch TEXT",
	"ALTER TABLE events ADD COLUMN consumed_by_trigger INTEGER NOT NULL DEFAULT 0",
}

// Migrate creates the schema. Safe to call any number of times.
func (s *Store) Migrate(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	for _, alter := range columnAdds {
		if _, err := s.db.ExecContext(ctx, alter); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("failed to run column migration: %w", err)
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
