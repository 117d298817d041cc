// Package budget decides, before and after every round, whether the
// implementation loop may continue.
package budget

import (
	"time"

	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/logging"
)

// Reason names why the implementation loop stopped.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonTimeLimitExceeded      Reason = "time_limit_exceeded"
	ReasonIterationLimitExceeded Reason = "iteration_limit_exceeded"
	ReasonDeclaredComplete       Reason = "declared_complete"
	ReasonStallDetected          Reason = "stall_detected"
	ReasonScheduleExhausted      Reason = "schedule_exhausted"
	ReasonCanceled               Reason = "canceled"
)

// String returns the reason code.
func (r Reason) String() string { return string(r) }

// Err maps the reason to its sentinel error. Declared completion is not an
// error and maps to nil.
func (r Reason) Err() error {
	switch r {
	case ReasonTimeLimitExceeded, ReasonIterationLimitExceeded:
		return errors.ErrBudgetExceeded
	case ReasonStallDetected:
		return errors.ErrStallDetected
	case ReasonScheduleExhausted:
		return errors.ErrScheduleExhausted
	case ReasonCanceled:
		return errors.ErrCanceled
	default:
		return nil
	}
}

// Decision is the outcome of ShouldContinue.
type Decision struct {
	Continue bool
	Reason   Reason
}

// Snapshot is the run state the budget decision depends on.
type Snapshot struct {
	// Iteration is the number of rounds completed so far.
	Iteration int
	Elapsed   time.Duration
	// LastCompletion is the completion signal of the most recent round.
	LastCompletion bool
	Stalled        bool
}

// Config holds the iteration and time limits.
type Config struct {
	MaxIterations int
	// MaxTime of 0 disables the time limit.
	MaxTime time.Duration
}

// Callbacks defines callbacks for budget events.
type Callbacks struct {
	// OnStop is called once per decision that stops the loop.
	OnStop func(Reason)
}

// Manager evaluates the continuation predicate.
type Manager struct {
	config    Config
	callbacks Callbacks
	logger    *logging.Logger
}

// NewManager creates a new budget manager.
func NewManager(cfg Config, callbacks Callbacks, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		config:    cfg,
		callbacks: callbacks,
		logger:    logger.WithComponent("budget"),
	}
}

// NewManagerFromConfig creates a budget manager from application config.
func NewManagerFromConfig(appCfg *config.Config, callbacks Callbacks, logger *logging.Logger) *Manager {
	cfg := Config{}
	if appCfg != nil {
		cfg.MaxIterations = appCfg.Run.MaxIterations
		cfg.MaxTime = appCfg.Run.MaxTime
	}
	return NewManager(cfg, callbacks, logger)
}

// Config returns the limits in effect.
func (m *Manager) Config() Config {
	return m.config
}

// ShouldContinue evaluates the limits in precedence order: time, then
// iterations, then declared completion, then stall. Only the first matching
// reason is reported.
func (m *Manager) ShouldContinue(s Snapshot) Decision {
	d := Evaluate(s, m.config)
	if !d.Continue {
		m.logger.Info("budget stop",
			"reason", d.Reason.String(),
			"iteration", s.Iteration,
			"elapsed", s.Elapsed.String())
		if m.callbacks.OnStop != nil {
			m.callbacks.OnStop(d.Reason)
		}
	}
	return d
}

// Evaluate is the pure continuation predicate behind ShouldContinue.
func Evaluate(s Snapshot, cfg Config) Decision {
	switch {
	case cfg.MaxTime > 0 && s.Elapsed > cfg.MaxTime:
		return Decision{Reason: ReasonTimeLimitExceeded}
	case s.Iteration >= cfg.MaxIterations:
		return Decision{Reason: ReasonIterationLimitExceeded}
	case s.LastCompletion:
		return Decision{Reason: ReasonDeclaredComplete}
	case s.Stalled:
		return Decision{Reason: ReasonStallDetected}
	default:
		return Decision{Continue: true}
	}
}

// Deadline returns the absolute time at which the run's time budget ends,
// or the zero time when no time limit is set.
func (m *Manager) Deadline(start time.Time) time.Time {
	if m.config.MaxTime <= 0 {
		return time.Time{}
	}
	return start.Add(m.config.MaxTime)
}
