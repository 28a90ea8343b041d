package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/taskrelay/board/event"
	"github.com/dshills/taskrelay/board/store"
)

// Broadcaster is the event fan-out loop.
//
// The listener set is owned by the loop goroutine: Register and
// Unregister hand listeners over through channels, so no mutex guards the
// set and sends never race with membership changes.
type Broadcaster struct {
	store     *store.Store
	interval  time.Duration
	log       *slog.Logger
	addCh     chan Listener
	removeCh  chan Listener
	listeners map[Listener]struct{}

	listenerGauge prometheus.Gauge
	pushCounter   prometheus.Counter
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithInterval overrides the poll interval (default 500ms).
func WithInterval(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.interval = d }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.log = log }
}

// WithRegisterer attaches prometheus collectors.
func WithRegisterer(reg prometheus.Registerer) BroadcasterOption {
	return func(b *Broadcaster) {
		factory := promauto.With(reg)
		b.listenerGauge = factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskrelay",
			Name:      "broadcast_listeners",
			Help:      "Currently connected broadcast listeners.",
		})
		b.pushCounter = factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "broadcast_pushes_total",
			Help:      "Messages pushed to listeners.",
		})
	}
}

// New builds a Broadcaster over the store.
func New(st *store.Store, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		store:     st,
		interval:  500 * time.Millisecond,
		log:       slog.Default(),
		addCh:     make(chan Listener, 16),
		removeCh:  make(chan Listener, 16),
		listeners: make(map[Listener]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register queues a listener for addition at the loop's next iteration.
func (b *Broadcaster) Register(l Listener) {
	b.addCh <- l
}

// Unregister queues a listener for removal.
func (b *Broadcaster) Unregister(l Listener) {
	b.removeCh <- l
}

// Run polls until ctx is cancelled. Errors are logged and the loop
// continues.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		b.drainMembership()
		if err := b.Tick(ctx); err != nil && ctx.Err() == nil {
			b.log.Error("broadcast tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) drainMembership() {
	for {
		select {
		case l := <-b.addCh:
			b.listeners[l] = struct{}{}
		case l := <-b.removeCh:
			delete(b.listeners, l)
		default:
			if b.listenerGauge != nil {
				b.listenerGauge.Set(float64(len(b.listeners)))
			}
			return
		}
	}
}

// Tick reads every event unconsumed by the broadcaster cursor, enriches
// it, pushes it to all listeners, and marks it consumed. Exported for
// tests.
func (b *Broadcaster) Tick(ctx context.Context) error {
	tx := b.store.ReaderCtx(ctx)
	events, err := tx.UnconsumedBroadcastEvents()
	if err != nil {
		return err
	}
	for _, ev := range events {
		msg := b.enrich(tx, ev)
		for l := range b.listeners {
			if err := l.Send(ctx, msg); err != nil {
				// A broken listener is dropped, not retried.
				delete(b.listeners, l)
				continue
			}
			if b.pushCounter != nil {
				b.pushCounter.Inc()
			}
		}
		if err := tx.MarkBroadcastConsumed(ev.ID); err != nil {
			return err
		}
	}
	return nil
}

// enrich replaces bare entity ids with full rows so clients receive
// complete objects. Unknown or vanished entities fall back to the raw
// payload.
func (b *Broadcaster) enrich(tx *store.Tx, ev event.Event) Message {
	msg := Message{Type: ev.Type, Payload: ev.Payload}

	if taskID, ok := event.TaskID(ev.Payload); ok {
		if task, err := tx.GetTask(taskID); err == nil {
			msg.Payload = task
			return msg
		}
		return msg
	}

	switch p := ev.Payload.(type) {
	case event.CommentAdded:
		if comment, err := tx.GetComment(p.CommentID); err == nil {
			msg.Payload = comment
		}
	case event.ProjectCreated:
		if project, err := tx.GetProject(p.ProjectID); err == nil {
			msg.Payload = project
		}
	case event.ProjectUpdated:
		if project, err := tx.GetProject(p.ProjectID); err == nil {
			msg.Payload = project
		}
	}
	return msg
}
