package task

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phrazzld/offload/internal/events"
)

// Metrics holds the Prometheus collectors for envelopes and the worker pool.
type Metrics struct {
	events        *prometheus.CounterVec
	workDuration  *prometheus.HistogramVec
	activeWorkers prometheus.Gauge
	queueDepth    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelope_events_total",
				Help:      "Lifecycle events emitted by task envelopes",
			},
			[]string{"kind"},
		),
		workDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "envelope_work_duration_seconds",
				Help:      "Time spent running envelope work",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"outcome"},
		),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_active_workers",
			Help:      "Workers currently running a task",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queue_depth",
			Help:      "Tasks waiting in the queue",
		}),
	}

	for _, c := range []prometheus.Collector{m.events, m.workDuration, m.activeWorkers, m.queueDepth} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// Observe subscribes counting observers to every lifecycle event of env.
func (m *Metrics) Observe(env *Envelope) ([]events.Subscription, error) {
	subs := make([]events.Subscription, 0, len(events.Kinds))
	for _, kind := range events.Kinds {
		sub, err := env.Notifier().Subscribe(kind, m.record)
		if err != nil {
			for _, s := range subs {
				env.Notifier().Unsubscribe(s)
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (m *Metrics) record(_ context.Context, ev events.Event) error {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case events.KindFinished:
		m.workDuration.WithLabelValues("finished").Observe(ev.Duration.Seconds())
	case events.KindFailed:
		m.workDuration.WithLabelValues("failed").Observe(ev.Duration.Seconds())
	}
	return nil
}
