// Package tool implements the board's tool surface: the single writer
// interface shared by the HTTP adapter and by in-flight agents (via the
// stdio tool server).
//
// Every mutating operation runs in one store transaction and emits its
// primary event inside that transaction, so consumers never observe data
// without its event or an event without its data. Domain failures are
// returned as *board.ToolError values tagged with a kind; the surface
// never panics across its boundary.
package tool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/store"
)

// GitProbe answers repository questions for create_project validation.
// The runner package provides the real implementation; tests stub it.
type GitProbe interface {
	// IsWorkTree reports whether path is inside a git working tree.
	IsWorkTree(ctx context.Context, path string) (bool, error)

	// CurrentBranch returns the checked-out branch of the repository at
	// path.
	CurrentBranch(ctx context.Context, path string) (string, error)
}

// Surface exposes the board operations. Construct with New; the zero
// value is not usable.
type Surface struct {
	store *store.Store
	git   GitProbe
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Surface.
type Option func(*Surface)

// WithGitProbe wires repository validation for create_project. Without
// it, repo_path inputs are stored unvalidated.
func WithGitProbe(g GitProbe) Option {
	return func(s *Surface) { s.git = g }
}

// WithClock overrides the timestamp source. Tests use this to make
// updated_at deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *Surface) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Surface) { s.log = log }
}

// New builds a Surface over the store.
func New(st *store.Store, opts ...Option) *Surface {
	s := &Surface{
		store: st,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for components that share it (the
// runner records runs and sessions directly).
func (s *Surface) Store() *store.Store {
	return s.store
}

func newID() string {
	return uuid.NewString()
}

// mapNotFound converts the store sentinel into a tagged ToolError.
func mapNotFound(err error, te *board.ToolError) error {
	if errors.Is(err, store.ErrNotFound) {
		return te
	}
	return err
}

// parentApproved reports whether the task's parent milestone, if any, is
// approved. Tasks without a parent, or with a non-milestone parent, pass.
func parentApproved(tx *store.Tx, task *board.Task) (bool, error) {
	if task.ParentTaskID == nil {
		return true, nil
	}
	parent, err := tx.GetTask(*task.ParentTaskID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if parent.Type != board.TypeMilestone {
		return true, nil
	}
	return parent.PlanApproved, nil
}

// ParentApproved is the dispatch-gate form of parentApproved for the
// trigger processor, evaluated on a snapshot reader.
func (s *Surface) ParentApproved(ctx context.Context, taskID string) (bool, error) {
	tx := s.store.ReaderCtx(ctx)
	task, err := tx.GetTask(taskID)
	if err != nil {
		return false, err
	}
	return parentApproved(tx, task)
}
