package review

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/crossfix/internal/artifact"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/logging"
)

// Request is what a reviewer is asked to evaluate
type Request struct {
	Iteration int
	Artifacts artifact.Set
	Prompt    string
}

// Reviewer returns a raw review of the request's artifact set
type Reviewer interface {
	Review(ctx context.Context, req Request) (string, error)
}

// Slot names a reviewer position. A nil Reviewer marks the slot unavailable
// for the whole run, with Reason saying why.
type Slot struct {
	Name     string
	Reviewer Reviewer
	Reason   string
}

// Engine runs the two reviewers and builds the consensus
type Engine struct {
	slots  [2]Slot
	match  MatchConfig
	bus    *event.Bus
	logger *logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithBus publishes review events on bus
func WithBus(bus *event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine for reviewers a and b
func NewEngine(a, b Slot, match MatchConfig, opts ...Option) *Engine {
	if b.Name == a.Name {
		b.Name += "-b"
	}
	e := &Engine{
		slots:  [2]Slot{a, b},
		match:  match,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("review")
	return e
}

// Names returns the reviewer names in slot order
func (e *Engine) Names() [2]string {
	return [2]string{e.slots[0].Name, e.slots[1].Name}
}

// Review runs both reviewers concurrently over set and reconciles their
// reports. Unavailable reviewers and unparseable responses degrade the
// result instead of failing it; only cancellation of ctx is returned as an
// error. Review has no side effects on the artifacts.
func (e *Engine) Review(ctx context.Context, set artifact.Set, iteration int) (*Result, error) {
	req := Request{Iteration: iteration, Artifacts: set, Prompt: BuildPrompt(set)}

	var reports [2]*Report
	var errs [2]error

	var wg conc.WaitGroup
	for i, slot := range e.slots {
		if slot.Reviewer == nil {
			reason := slot.Reason
			if reason == "" {
				reason = "not configured"
			}
			errs[i] = fmt.Errorf("%s: %w", reason, errors.ErrReviewerUnavailable)
			continue
		}
		wg.Go(func() {
			var pc panics.Catcher
			pc.Try(func() {
				raw, err := slot.Reviewer.Review(ctx, req)
				if err != nil {
					errs[i] = err
					return
				}
				reports[i] = Parse(slot.Name, raw)
			})
			if rec := pc.Recovered(); rec != nil {
				errs[i] = rec.AsError()
			}
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Iteration: iteration,
		Reports:   make(map[string]*Report),
		Artifacts: set,
	}

	var usable []*Report
	for i, slot := range e.slots {
		if errs[i] != nil {
			e.unavailable(slot.Name, iteration, errs[i])
			result.Unavailable = append(result.Unavailable, slot.Name)
			continue
		}
		rep := reports[i]
		result.Reports[slot.Name] = rep
		if rep.ParseStatus == ParseEmpty {
			err := errors.NewReviewError("reviewer response not understood", errors.ErrParseFailure).
				WithReviewer(slot.Name).
				WithIteration(iteration)
			e.logger.Warn("review parse failed", "reviewer", slot.Name, "error", err.Error())
			continue
		}
		if rep.ParseStatus == ParseFallback {
			e.logger.Info("review parsed from free text", "reviewer", slot.Name, "issues", len(rep.Issues))
		}
		usable = append(usable, rep)
	}

	switch len(usable) {
	case 2:
		result.Consensus = Consensus(usable[0], usable[1], set, e.match)
	case 1:
		result.SingleSource = true
		result.Consensus = Consensus(usable[0], nil, set, e.match)
	default:
		e.logger.Warn("no reviewer produced usable data", "iteration", iteration, "error", errors.ErrNoReviewData.Error())
	}
	result.Aggregate, result.HasAggregate = Aggregate(usable...)

	e.logger.Info("review completed",
		"iteration", iteration,
		"aggregate", result.Aggregate,
		"has_aggregate", result.HasAggregate,
		"consensus", len(result.Consensus),
		"single_source", result.SingleSource,
	)
	if e.bus != nil {
		e.bus.Publish(event.NewReviewCompletedEvent(
			iteration, result.Scores(), result.Aggregate, result.HasAggregate,
			len(result.Consensus), result.SingleSource,
		))
	}
	return result, nil
}

func (e *Engine) unavailable(name string, iteration int, cause error) {
	err := errors.NewReviewError("reviewer unavailable", cause).
		WithReviewer(name).
		WithIteration(iteration)
	e.logger.Warn("reviewer unavailable", "reviewer", name, "error", err.Error())
	if e.bus != nil {
		e.bus.Publish(event.NewReviewerUnavailableEvent(name, cause.Error()))
	}
}
