// Package observability serves the ops endpoints: health, prometheus metrics
// and pprof.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cartobot/internal/eventbus"
	"cartobot/internal/lifecycle"
	"cartobot/internal/task/engine"
)

// Metrics holds the bot's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskSkipped  *prometheus.CounterVec
	dispatchFail prometheus.Counter
	state        prometheus.Gauge
	busDropped   prometheus.GaugeFunc
}

func NewMetrics(bus eventbus.Bus) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartobot",
			Name:      "job_runs_total",
			Help:      "Daily job executions by outcome.",
		}, []string{"job", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cartobot",
			Name:      "job_duration_seconds",
			Help:      "Daily job execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		taskSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartobot",
			Name:      "job_skipped_total",
			Help:      "Fires dropped because the previous run was still going or the queue was full.",
		}, []string{"job", "reason"}),
		dispatchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cartobot",
			Name:      "platform_call_failures_total",
			Help:      "Fire-and-forget platform calls that failed.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cartobot",
			Name:      "lifecycle_state",
			Help:      "0=not_started 1=resolving 2=running 3=draining 4=stopped 5=fatal",
		}),
	}
	m.busDropped = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cartobot",
		Name:      "eventbus_dropped_events",
		Help:      "Events dropped because a subscriber was slow.",
	}, func() float64 { return float64(eventbus.Dropped(bus)) })

	m.reg.MustRegister(
		m.taskRuns, m.taskDuration, m.taskSkipped, m.dispatchFail, m.state, m.busDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe folds one bus event into the collectors.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeTaskFinished, eventbus.TypeTaskFailed:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		outcome := "ok"
		if e.Type == eventbus.TypeTaskFailed {
			outcome = "error"
		}
		m.taskRuns.WithLabelValues(ev.Name, outcome).Inc()
		m.taskDuration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
	case eventbus.TypeTaskSkipped:
		if ev, ok := e.Data.(engine.TaskEvent); ok {
			m.taskSkipped.WithLabelValues(ev.Name, ev.Error).Inc()
		}
	case eventbus.TypeDispatchFailed:
		m.dispatchFail.Inc()
	case eventbus.TypeLifecycleState:
		if s, ok := e.Data.(lifecycle.State); ok {
			m.state.Set(float64(s))
		}
	}
}

// Collect feeds bus events into m until ctx is done.
func (m *Metrics) Collect(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
