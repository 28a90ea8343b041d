package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/event"
	"github.com/dshills/taskrelay/board/store"
	"github.com/dshills/taskrelay/board/tool"
)

func newBoard(t *testing.T) (*tool.Surface, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "broadcast.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return tool.New(st), st
}

func seed(t *testing.T, s *tool.Surface) (*board.Project, *board.Task) {
	t.Helper()
	ctx := context.Background()
	project, err := s.CreateProject(ctx, tool.CreateProjectInput{Title: "P"})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	steps, err := s.CreateWorkflowSteps(ctx, project.ID, []tool.StepDef{{Name: "Work"}, {Name: "Done"}})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	task, err := s.CreateTask(ctx, tool.CreateTaskInput{
		Title: "T", StepID: steps[0].ID, ProjectID: project.ID,
	})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	return project, task
}

func TestBroadcastEnrichesAndConsumes(t *testing.T) {
	surface, st := newBoard(t)
	project, task := seed(t, surface)
	ctx := context.Background()

	b := New(st)
	buf := NewBufferListener()
	b.Register(buf)
	b.drainMembership()

	if err := b.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	messages := buf.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	t.Run("project payload is the full row", func(t *testing.T) {
		p, ok := messages[0].Payload.(*board.Project)
		if !ok {
			t.Fatalf("expected *board.Project, got %T", messages[0].Payload)
		}
		if p.ID != project.ID || p.Title != "P" {
			t.Errorf("wrong project payload: %+v", p)
		}
	})

	t.Run("task payload is the full row", func(t *testing.T) {
		tk, ok := messages[1].Payload.(*board.Task)
		if !ok {
			t.Fatalf("expected *board.Task, got %T", messages[1].Payload)
		}
		if tk.ID != task.ID {
			t.Errorf("wrong task payload: %+v", tk)
		}
	})

	t.Run("events marked consumed", func(t *testing.T) {
		pending, err := st.Reader().UnconsumedBroadcastEvents()
		if err != nil {
			t.Fatalf("failed: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("expected none pending, got %d", len(pending))
		}
	})

	t.Run("no duplicate delivery on next tick", func(t *testing.T) {
		buf.Clear()
		if err := b.Tick(ctx); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		if got := buf.Messages(); len(got) != 0 {
			t.Errorf("expected no redelivery, got %d", len(got))
		}
	})
}

func TestCommentEnrichment(t *testing.T) {
	surface, st := newBoard(t)
	_, task := seed(t, surface)
	ctx := context.Background()

	comment, err := surface.AddComment(ctx, task.ID, "hello", "reviewer")
	if err != nil {
		t.Fatalf("failed: %v", err)
	}

	b := New(st)
	buf := NewBufferListener()
	b.Register(buf)
	b.drainMembership()
	if err := b.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	var got *board.Comment
	for _, msg := range buf.Messages() {
		if msg.Type == event.CommentAddedType {
			if c, ok := msg.Payload.(*board.Comment); ok {
				got = c
			}
		}
	}
	if got == nil || got.ID != comment.ID || got.Content != "hello" {
		t.Errorf("comment not enriched: %+v", got)
	}
}

type failingListener struct{}

func (failingListener) Send(context.Context, Message) error {
	return errors.New("broken pipe")
}

func TestFailingListenerIsDropped(t *testing.T) {
	surface, st := newBoard(t)
	seed(t, surface)
	ctx := context.Background()

	b := New(st)
	bad := failingListener{}
	buf := NewBufferListener()
	b.Register(bad)
	b.Register(buf)
	b.drainMembership()

	if err := b.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if len(b.listeners) != 1 {
		t.Errorf("failing listener should be dropped, have %d listeners", len(b.listeners))
	}
	if len(buf.Messages()) == 0 {
		t.Error("healthy listener should keep receiving")
	}
}
