// Package improve runs the fix-apply-verify loop: review the artifact set,
// dispatch the top consensus issues to a mutation-capable backend, and
// review again until the target score or the iteration limit is reached.
package improve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/crossfix/internal/artifact"
	"github.com/Iron-Ham/crossfix/internal/backend"
	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/router"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// Reason names why the improvement loop stopped.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonTargetReached      Reason = "target_reached"
	ReasonMaxIterations      Reason = "max_iterations_reached"
	ReasonNoImprovement      Reason = "no_improvement"
	ReasonNoActionableIssues Reason = "no_actionable_issues"
	ReasonCanceled           Reason = "canceled"
)

// String returns the reason code.
func (r Reason) String() string { return string(r) }

// Success reports whether the loop reached its target.
func (r Reason) Success() bool { return r == ReasonTargetReached }

// Verifier reviews an artifact set.
type Verifier interface {
	Review(ctx context.Context, set artifact.Set, iteration int) (*review.Result, error)
}

// Collector produces the current artifact set.
type Collector interface {
	Collect() (artifact.Set, error)
}

// Executors resolves backend ids for fix dispatch.
type Executors interface {
	Get(id string) (backend.Backend, error)
}

// Config holds the loop settings.
type Config struct {
	// BatchSize is the number of consensus issues dispatched per fix round.
	BatchSize int
	// EarlyStop ends the loop after Patience consecutive non-improving
	// iterations.
	EarlyStop bool
	Patience  int
	// Backend pins the fix backend; empty routes a generation task.
	Backend string
	// RoutingEnabled and Current are passed to the router when Backend is empty.
	RoutingEnabled bool
	Current        string
}

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 5

// DefaultPatience is used when Config.Patience is not positive.
const DefaultPatience = 2

// ConfigFromApp derives the loop config from application config.
func ConfigFromApp(cfg *config.Config) Config {
	return Config{
		BatchSize:      cfg.Improve.BatchSize,
		EarlyStop:      cfg.Improve.EarlyStop,
		Patience:       cfg.Improve.Patience,
		Backend:        cfg.Improve.Backend,
		RoutingEnabled: cfg.Routing.Enabled,
		Current:        cfg.Routing.DefaultBackend,
	}
}

// Callbacks defines callbacks for loop progress.
type Callbacks struct {
	// OnStep is called once per iteration after its outcome is known. The
	// final step carries the stop reason.
	OnStep func(Step)
}

// Loop is the fix-apply-verify loop.
type Loop struct {
	cfg       Config
	verifier  Verifier
	source    Collector
	executors Executors
	router    *router.Router
	memo      *router.Memo
	bus       *event.Bus
	callbacks Callbacks
	logger    *logging.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithRouter routes fix tasks through r, announcing transitions against memo.
func WithRouter(r *router.Router, memo *router.Memo) Option {
	return func(l *Loop) {
		l.router = r
		l.memo = memo
	}
}

// WithBus publishes fix events on bus.
func WithBus(bus *event.Bus) Option {
	return func(l *Loop) { l.bus = bus }
}

// WithCallbacks sets the progress callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(l *Loop) { l.callbacks = cb }
}

// WithLogger sets the loop logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Loop.
func New(cfg Config, verifier Verifier, source Collector, executors Executors, opts ...Option) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Patience <= 0 {
		cfg.Patience = DefaultPatience
	}
	l := &Loop{
		cfg:       cfg,
		verifier:  verifier,
		source:    source,
		executors: executors,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithLoop("improvement")
	return l
}

// Verify collects the artifact set and reviews it. It has no side effects on
// the artifacts, so repeated calls over an unchanged set yield the same
// scores from deterministic reviewers.
func (l *Loop) Verify(ctx context.Context) (*review.Result, error) {
	return l.verify(ctx, 0)
}

func (l *Loop) verify(ctx context.Context, iteration int) (*review.Result, error) {
	set, err := l.source.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect artifacts: %w", err)
	}
	return l.verifier.Review(ctx, set, iteration)
}

// Run alternates verification and fix rounds for at most maxIterations
// verifications. initial, when non-nil, stands in for the first
// verification. Only a failure to collect the artifacts or cancellation of
// ctx returns an error; the trace is valid either way.
func (l *Loop) Run(ctx context.Context, initial *review.Result, target float64, maxIterations int) (Trace, error) {
	trace := Trace{Target: target, MaxIterations: maxIterations}
	if maxIterations < 1 {
		return trace, errors.NewValidationError("max iterations must be at least 1").
			WithField("improve.max_iterations").
			WithValue(maxIterations)
	}

	var prev *Step
	nonImproving := 0

	for i := 1; i <= maxIterations; i++ {
		start := time.Now()

		result := initial
		if i > 1 || result == nil {
			var err error
			result, err = l.verify(ctx, i)
			if err != nil {
				if ctx.Err() != nil {
					trace.Reason = ReasonCanceled
					return trace, ctx.Err()
				}
				return trace, err
			}
		}
		result.Iteration = i

		step := Step{Iteration: i, Result: result}
		step.Score, step.HasScore = result.Score()
		if prev != nil && prev.HasScore && step.HasScore {
			step.Delta = step.Score - prev.Score
			step.HasDelta = true
			if step.Delta > 0 {
				nonImproving = 0
			} else {
				nonImproving++
			}
		}

		reason := l.stopReason(step, i, maxIterations, target, nonImproving)
		if reason == ReasonNone {
			l.fix(ctx, &step)
			if ctx.Err() != nil {
				reason = ReasonCanceled
			}
		}
		step.Reason = reason
		step.Elapsed = time.Since(start)

		l.logger.Info("improvement iteration",
			"iteration", i,
			"score", step.Score,
			"has_score", step.HasScore,
			"delta", step.Delta,
			"consensus", len(result.Consensus),
			"fixed", step.Fixed,
			"reason", reason.String(),
		)

		trace.Steps = append(trace.Steps, step)
		if l.callbacks.OnStep != nil {
			l.callbacks.OnStep(step)
		}
		prev = &trace.Steps[len(trace.Steps)-1]

		if reason != ReasonNone {
			trace.Reason = reason
			if reason == ReasonCanceled {
				return trace, ctx.Err()
			}
			return trace, nil
		}
	}
	return trace, nil
}

func (l *Loop) stopReason(step Step, i, maxIterations int, target float64, nonImproving int) Reason {
	switch {
	case step.HasScore && step.Score >= target:
		return ReasonTargetReached
	case i >= maxIterations:
		return ReasonMaxIterations
	case l.cfg.EarlyStop && nonImproving >= l.cfg.Patience:
		return ReasonNoImprovement
	case len(step.Result.Consensus) == 0:
		return ReasonNoActionableIssues
	default:
		return ReasonNone
	}
}

// fix dispatches the top consensus issues as a generation task. Dispatch
// failures are recorded on the step and the loop continues.
func (l *Loop) fix(ctx context.Context, step *Step) {
	issues := step.Result.Top(l.cfg.BatchSize)
	id := l.selectBackend()
	step.Backend = id
	step.Fixed = len(issues)

	t := task.Task{
		Type:      task.Generation,
		Phase:     "improvement",
		Iteration: step.Iteration,
		Objective: fixObjective,
		Payload:   FormatIssues(issues),
		WorkDir:   step.Result.Artifacts.Root,
	}

	exec, err := l.executors.Get(id)
	if err != nil {
		step.Err = err
		l.logger.Warn("fix backend unavailable", "backend", id, "error", err)
		return
	}
	res, err := exec.Execute(ctx, t)
	step.WriteActions = res.WriteCount()
	if err != nil {
		step.Err = err
		l.logger.Warn("fix round failed", "backend", id, "error", err)
	}
	if l.bus != nil {
		l.bus.Publish(event.NewFixAppliedEvent(step.Iteration, len(issues), id, step.WriteActions))
	}
}

func (l *Loop) selectBackend() string {
	if l.cfg.Backend != "" {
		return l.cfg.Backend
	}
	if l.router == nil {
		return l.cfg.Current
	}
	a := l.router.Select(l.memo, task.Generation, l.cfg.RoutingEnabled, l.cfg.Current)
	l.cfg.Current = a.Backend
	return a.Backend
}

const fixObjective = "Two independent reviewers agreed on the issues below. " +
	"Fix each one in place, keeping unrelated code unchanged. " +
	"Edit the files directly; do not only describe the changes."

// FormatIssues renders issues as a numbered fix list.
func FormatIssues(issues []review.ConsensusIssue) string {
	if len(issues) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Issues to fix\n")
	for n, ci := range issues {
		fmt.Fprintf(&sb, "\n%d. [%s] %s: %s\n", n+1, ci.Severity, ci.Location(), ci.Description)
		if ci.Suggestion != "" {
			fmt.Fprintf(&sb, "   Suggested fix: %s\n", ci.Suggestion)
		}
		if len(ci.Sources) > 0 {
			fmt.Fprintf(&sb, "   Reported by: %s\n", strings.Join(ci.Sources, ", "))
		}
	}
	return sb.String()
}
