// Package metrics exposes Prometheus collectors for crossfix runs.
//
// Collectors live on a dedicated registry rather than the global default so
// tests and repeated runs in one process never collide on registration.
// Most collectors are fed from the event bus via [Metrics.Attach]; the
// backend switch counter is incremented directly by the router because
// switches are counted even when no transition event is announced.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/logging"
)

const namespace = "crossfix"

// Metrics holds every collector crossfix reports.
type Metrics struct {
	registry *prometheus.Registry

	BackendSwitches     prometheus.Counter
	Rounds              *prometheus.CounterVec
	RoundDuration       *prometheus.HistogramVec
	WriteActions        prometheus.Counter
	Stalls              prometheus.Counter
	ReviewerScore       *prometheus.GaugeVec
	AggregateScore      prometheus.Gauge
	ConsensusIssues     prometheus.Gauge
	ReviewerUnavailable *prometheus.CounterVec
	FixBatches          prometheus.Counter
}

// New creates a Metrics instance on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BackendSwitches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_switches_total",
			Help:      "Rounds whose selected backend differed from the current backend",
		}),
		Rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Implementation rounds by phase and task type",
		}, []string{"phase", "task_type"}),
		RoundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Implementation round duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
		}, []string{"backend"}),
		WriteActions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_actions_total",
			Help:      "Write actions observed across implementation rounds",
		}),
		Stalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stalls_total",
			Help:      "Runs terminated by the stall detector",
		}),
		ReviewerScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reviewer_score",
			Help:      "Most recent quality score reported by each reviewer",
		}, []string{"reviewer"}),
		AggregateScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregate_score",
			Help:      "Most recent aggregate quality score",
		}),
		ConsensusIssues: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consensus_issues",
			Help:      "Consensus issues found by the most recent review pass",
		}),
		ReviewerUnavailable: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviewer_unavailable_total",
			Help:      "Review passes in which a reviewer could not be reached",
		}, []string{"reviewer"}),
		FixBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fix_batches_total",
			Help:      "Fix batches dispatched by the improvement loop",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncSwitch increments the backend switch counter. Safe on a nil receiver.
func (m *Metrics) IncSwitch() {
	if m == nil {
		return
	}
	m.BackendSwitches.Inc()
}

// Attach subscribes the collectors to bus and returns the subscription ID.
func (m *Metrics) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(m.observe)
}

func (m *Metrics) observe(e event.Event) {
	switch ev := e.(type) {
	case event.RoundCompletedEvent:
		m.Rounds.WithLabelValues(ev.Phase, ev.TaskType).Inc()
		m.RoundDuration.WithLabelValues(ev.Backend).Observe(ev.Duration.Seconds())
		m.WriteActions.Add(float64(ev.WriteActions))
	case event.StallDetectedEvent:
		m.Stalls.Inc()
	case event.ReviewCompletedEvent:
		for reviewer, score := range ev.Scores {
			m.ReviewerScore.WithLabelValues(reviewer).Set(score)
		}
		if ev.HasAggregate {
			m.AggregateScore.Set(ev.Aggregate)
		}
		m.ConsensusIssues.Set(float64(ev.ConsensusCount))
	case event.ReviewerUnavailableEvent:
		m.ReviewerUnavailable.WithLabelValues(ev.Reviewer).Inc()
	case event.FixAppliedEvent:
		m.FixBatches.Inc()
	}
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
