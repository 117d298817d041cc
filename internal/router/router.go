// Package router selects a backend for each round from the task type.
//
// Selection is a pure lookup in the routing strategy. The router keeps a
// monotonic switch counter and announces a transition only when the
// (task type, backend) pair differs from the last pair it announced, so a
// long run of identical rounds produces a single log line and event.
package router

import (
	"sync/atomic"

	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/metrics"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// Assignment is the outcome of one selection.
type Assignment struct {
	Backend  string
	Previous string
	Switched bool
}

// Memo is the last announced (task type, backend) pair. It lives in the run
// state so change detection survives across rounds without global state.
type Memo struct {
	TaskType task.Type
	Backend  string
}

// Config holds the routing strategy.
type Config struct {
	// Strategy maps task type to backend id.
	Strategy map[task.Type]string
	// DefaultBackend serves task types absent from Strategy.
	DefaultBackend string
}

// Router selects backends.
type Router struct {
	config   Config
	switches atomic.Int64
	bus      *event.Bus
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithBus publishes transition events on bus.
func WithBus(bus *event.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// WithMetrics counts switches on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLogger sets the logger for transition announcements.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l.WithComponent("router")
		}
	}
}

// New creates a Router for cfg.
func New(cfg Config, opts ...Option) *Router {
	strategy := make(map[task.Type]string, len(cfg.Strategy))
	for k, v := range cfg.Strategy {
		strategy[k] = v
	}
	cfg.Strategy = strategy

	r := &Router{
		config: cfg,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the backend the strategy names for taskType, falling back
// to the default backend and then to current.
func (r *Router) Resolve(taskType task.Type, current string) string {
	if id, ok := r.config.Strategy[taskType]; ok && id != "" {
		return id
	}
	if r.config.DefaultBackend != "" {
		return r.config.DefaultBackend
	}
	return current
}

// Select picks the backend for a round of taskType. With routing disabled
// the current backend is kept. memo is updated when a transition is
// announced and may be nil to suppress announcements entirely.
func (r *Router) Select(memo *Memo, taskType task.Type, routingEnabled bool, current string) Assignment {
	selected := current
	if routingEnabled || current == "" {
		selected = r.Resolve(taskType, current)
	}

	a := Assignment{
		Backend:  selected,
		Previous: current,
		Switched: current != "" && selected != current,
	}

	count := r.switches.Load()
	if a.Switched {
		count = r.switches.Add(1)
		r.metrics.IncSwitch()
	}

	if memo != nil && (memo.TaskType != taskType || memo.Backend != selected) {
		memo.TaskType = taskType
		memo.Backend = selected
		r.logger.Info("backend selected",
			"task_type", string(taskType),
			"backend", selected,
			"previous", current,
			"switched", a.Switched,
			"switch_count", count)
		if r.bus != nil {
			r.bus.Publish(event.NewBackendTransitionEvent(string(taskType), selected, current, a.Switched, count))
		}
	}

	return a
}

// SwitchCount returns the number of switches since the router was created.
func (r *Router) SwitchCount() int64 {
	return r.switches.Load()
}
