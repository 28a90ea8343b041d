package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/dshills/taskrelay/board/event"
	"github.com/dshills/taskrelay/board/tool"
)

// Launcher runs an agent for a task. The call blocks for the lifetime of
// the subprocess; the processor invokes it from its own goroutine so the
// scheduling loop never waits on a runner.
type Launcher interface {
	Launch(ctx context.Context, taskID string) error
}

// Cleaner removes a task's worktree. Blocking, invoked off the loop.
type Cleaner interface {
	Cleanup(ctx context.Context, taskID string) error
}

// Processor is the single-threaded trigger scheduler.
//
// Each tick reads every unconsumed trigger event in insertion order,
// decides an action per event (Decide), and enacts it. A dispatch that
// fails only the global capacity gate leaves its event unconsumed so the
// next tick retries it: that unconsumed backlog is the backpressure
// mechanism.
type Processor struct {
	surface     *tool.Surface
	launcher    Launcher
	cleaner     Cleaner
	maxParallel int
	interval    time.Duration
	log         *slog.Logger
	metrics     *Metrics
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithInterval overrides the poll interval (default 1s).
func WithInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.interval = d }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.log = log }
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor builds a Processor. maxParallel is the global cap on
// concurrently active agent runs.
func NewProcessor(surface *tool.Surface, launcher Launcher, cleaner Cleaner, maxParallel int, opts ...ProcessorOption) *Processor {
	p := &Processor{
		surface:     surface,
		launcher:    launcher,
		cleaner:     cleaner,
		maxParallel: maxParallel,
		interval:    time.Second,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled. Errors inside a tick are logged and
// never stop the loop.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("trigger tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick processes every currently unconsumed trigger event once. Exported
// so tests and the one-shot CLI path can drive the scheduler manually.
func (p *Processor) Tick(ctx context.Context) error {
	start := time.Now()
	tx := p.surface.Reader(ctx)
	events, err := tx.UnconsumedTriggerEvents(TriggerTypes)
	if err != nil {
		return err
	}

	// Runners open their AgentRun rows asynchronously, so dispatches made
	// earlier in this same tick are counted here until the rows land.
	dispatched := 0

	for _, ev := range events {
		if ev.Payload == nil {
			if err := tx.MarkTriggerConsumed(ev.ID); err != nil {
				return err
			}
			continue
		}
		action, err := Decide(ev, tx)
		if err != nil {
			p.log.Error("trigger decision failed", "event", ev.ID, "type", ev.Type, "error", err)
			if err := tx.MarkTriggerConsumed(ev.ID); err != nil {
				return err
			}
			continue
		}
		if err := p.enact(ctx, ev, action, &dispatched); err != nil {
			return err
		}
	}

	if p.metrics != nil {
		p.metrics.observeTick(time.Since(start))
		if active, err := tx.ActiveRunCount(); err == nil {
			p.metrics.setActiveRuns(active)
		}
	}
	return nil
}

// enact applies one action. Only the capacity-gated dispatch path leaves
// the event unconsumed.
func (p *Processor) enact(ctx context.Context, ev event.Event, action Action, dispatched *int) error {
	tx := p.surface.Reader(ctx)

	switch action.Kind {
	case ActionDispatch:
		ok, retry, err := p.dispatchGate(ctx, action.TaskID, *dispatched)
		if err != nil {
			return err
		}
		if retry {
			// At global capacity: leave unconsumed, retry next tick.
			if p.metrics != nil {
				p.metrics.capacityDeferred()
			}
			return nil
		}
		if err := tx.MarkTriggerConsumed(ev.ID); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.consumed(string(ev.Type))
		}
		if !ok {
			return nil
		}
		*dispatched++
		if p.metrics != nil {
			p.metrics.dispatched()
		}
		p.log.Info("dispatching agent", "task", action.TaskID)
		go func(taskID string) {
			if err := p.launcher.Launch(ctx, taskID); err != nil {
				p.log.Error("agent launch failed", "task", taskID, "error", err)
			}
		}(action.TaskID)
		return nil

	case ActionCleanup:
		if err := tx.MarkTriggerConsumed(ev.ID); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.consumed(string(ev.Type))
		}
		go func(taskID string) {
			if err := p.cleaner.Cleanup(ctx, taskID); err != nil {
				p.log.Warn("worktree cleanup failed", "task", taskID, "error", err)
			}
		}(action.TaskID)
		return nil

	case ActionAdvanceReady:
		moved, err := p.surface.AdvanceToNextAgentStep(ctx, action.TaskID)
		if err != nil {
			p.log.Error("ready propagation failed", "task", action.TaskID, "error", err)
		} else if moved {
			p.log.Info("task advanced to next agent step", "task", action.TaskID)
		}
		if err := tx.MarkTriggerConsumed(ev.ID); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.consumed(string(ev.Type))
		}
		return nil

	default:
		if err := tx.MarkTriggerConsumed(ev.ID); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.consumed(string(ev.Type))
		}
		return nil
	}
}

// dispatchGate evaluates the dispatch conditions for a task.
//
// Returns ok=true when the task should launch. retry=true means the only
// failing condition was global capacity, so the event must stay
// unconsumed. Any other failing gate consumes the event: the next
// relevant event will re-evaluate.
func (p *Processor) dispatchGate(ctx context.Context, taskID string, dispatchedThisTick int) (ok, retry bool, err error) {
	tx := p.surface.Reader(ctx)

	task, err := tx.GetTask(taskID)
	if err != nil {
		return false, false, nil //nolint:nilerr // vanished task: consume
	}
	if task.Cancelled {
		return false, false, nil
	}
	active, err := tx.TaskHasActiveRun(taskID)
	if err != nil {
		return false, false, err
	}
	if active {
		return false, false, nil
	}
	approved, err := p.surface.ParentApproved(ctx, taskID)
	if err != nil {
		return false, false, err
	}
	if !approved {
		return false, false, nil
	}
	blocked, err := tx.IsBlocked(taskID, task.ProjectID)
	if err != nil {
		return false, false, err
	}
	if blocked {
		return false, false, nil
	}
	count, err := tx.ActiveRunCount()
	if err != nil {
		return false, false, err
	}
	if count+dispatchedThisTick >= p.maxParallel {
		return false, true, nil
	}
	return true, false, nil
}
