package trigger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes trigger scheduler observability, namespaced with
// "taskrelay_".
//
//   - active_agent_runs (gauge): open AgentRun rows. Never exceeds the
//     configured max_parallel_agents.
//   - dispatches_total (counter): agent launches started.
//   - trigger_events_consumed_total (counter, by type): events the
//     processor marked consumed.
//   - capacity_deferrals_total (counter): dispatch events left unconsumed
//     because the global cap was reached.
//   - trigger_tick_seconds (histogram): wall time of one poll iteration.
type Metrics struct {
	activeRuns        prometheus.Gauge
	dispatches        prometheus.Counter
	eventsConsumed    *prometheus.CounterVec
	capacityDeferrals prometheus.Counter
	tickDuration      prometheus.Histogram
}

// NewMetrics registers the trigger collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskrelay",
			Name:      "active_agent_runs",
			Help:      "Number of agent runs with no completion recorded.",
		}),
		dispatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "dispatches_total",
			Help:      "Total agent launches started by the trigger processor.",
		}),
		eventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "trigger_events_consumed_total",
			Help:      "Events marked consumed by the trigger processor.",
		}, []string{"type"}),
		capacityDeferrals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "taskrelay",
			Name:      "capacity_deferrals_total",
			Help:      "Dispatch events left unconsumed due to the global agent cap.",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskrelay",
			Name:      "trigger_tick_seconds",
			Help:      "Duration of one trigger poll iteration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) setActiveRuns(n int)            { m.activeRuns.Set(float64(n)) }
func (m *Metrics) dispatched()                    { m.dispatches.Inc() }
func (m *Metrics) consumed(eventType string)      { m.eventsConsumed.WithLabelValues(eventType).Inc() }
func (m *Metrics) capacityDeferred()              { m.capacityDeferrals.Inc() }
func (m *Metrics) observeTick(d time.Duration)    { m.tickDuration.Observe(d.Seconds()) }
