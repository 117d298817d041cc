// Package engine runs a crossfix orchestration: the bounded implementation
// loop followed by the cross-review improvement loop, with every iteration
// recorded in the run history.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/crossfix/internal/artifact"
	"github.com/Iron-Ham/crossfix/internal/budget"
	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/history"
	"github.com/Iron-Ham/crossfix/internal/improve"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/phase"
	"github.com/Iron-Ham/crossfix/internal/router"
	"github.com/Iron-Ham/crossfix/internal/stall"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// Plan describes one run.
type Plan struct {
	// Text is the plan or specification every implementation round works from.
	Text string
	// WorkDir is the artifact root.
	WorkDir string
	// RunID names the run; a random id is generated when empty.
	RunID string
}

// Engine wires the loop components together.
type Engine struct {
	cfg       *config.Config
	executors improve.Executors
	reviewer  improve.Verifier
	router    *router.Router
	fs        afero.Fs
	outputDir string
	bus       *event.Bus
	logger    *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRouter sets the backend router. By default one is built from config.
func WithRouter(r *router.Router) Option {
	return func(e *Engine) { e.router = r }
}

// WithFS sets the file system used for artifacts and history.
func WithFS(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithOutputDir persists each run's history under dir/<run-id>.
func WithOutputDir(dir string) Option {
	return func(e *Engine) { e.outputDir = dir }
}

// WithBus publishes run events on bus.
func WithBus(bus *event.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
func New(cfg *config.Config, executors improve.Executors, reviewer improve.Verifier, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		executors: executors,
		reviewer:  reviewer,
		fs:        afero.NewOsFs(),
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bus == nil {
		e.bus = event.NewBus()
	}
	if e.router == nil {
		e.router = router.New(RouterConfig(cfg), router.WithBus(e.bus), router.WithLogger(e.logger))
	}
	return e
}

// RouterConfig converts the routing section of cfg.
func RouterConfig(cfg *config.Config) router.Config {
	strategy := make(map[task.Type]string, len(cfg.Routing.Strategy))
	for k, v := range cfg.Routing.Strategy {
		strategy[task.Type(k)] = v
	}
	return router.Config{Strategy: strategy, DefaultBackend: cfg.Routing.DefaultBackend}
}

// Run drives the implementation loop and then, when enabled, the improvement
// loop. Budget exhaustion, stalls and cancellation end the run with a
// report; the returned error is non-nil only when ctx was canceled or the
// artifact root cannot be read.
func (e *Engine) Run(ctx context.Context, plan Plan) (*Report, error) {
	state, rec, logger := e.begin(plan)
	report := &Report{RunID: state.ID, WorkDir: plan.WorkDir, Target: e.cfg.Improve.TargetScore}

	e.implement(ctx, plan, state, rec, logger)
	report.StopReason = state.TerminalReason
	report.StopCause = stopCause(state)
	report.Iterations = state.Iteration
	report.Produced = state.Produced
	report.TotalWrites = state.TotalWrites
	if state.TerminalReason == budget.ReasonStallDetected {
		report.StallEvidence = state.Stall.Evidence()
	}
	if state.TotalWrites == 0 {
		msg := fmt.Sprintf("no write actions in %d implementation round(s)", state.Iteration)
		logger.Warn("no artifacts produced", "error", errors.ErrNoArtifactsProduced, "iterations", state.Iteration)
		report.Warnings = append(report.Warnings, WarningNoArtifactsProduced)
		e.bus.Publish(event.NewWarningEvent(WarningNoArtifactsProduced, msg))
	}

	// Once the time budget is spent only a single review pass runs, so the
	// report still carries scores without starting unbounded fix rounds.
	verifyOnly := state.TerminalReason == budget.ReasonTimeLimitExceeded && e.cfg.Improve.Enabled
	if verifyOnly {
		logger.Warn("time budget spent, skipping fix rounds", "elapsed", state.Elapsed.String())
		report.Warnings = append(report.Warnings, WarningImprovementSkipped)
		e.bus.Publish(event.NewWarningEvent(WarningImprovementSkipped, "time budget spent before improvement"))
	}

	var err error
	if ctx.Err() == nil {
		err = e.improve(ctx, plan, state, rec, report, logger, verifyOnly)
	} else {
		err = ctx.Err()
	}
	e.finish(state, rec, report, logger)
	return report, err
}

// stopCause describes why the implementation loop stopped when the reason
// is not declared completion.
func stopCause(state *RunState) error {
	cause := state.TerminalReason.Err()
	if cause == nil {
		return nil
	}
	severity := errors.SeverityWarning
	if state.TerminalReason == budget.ReasonScheduleExhausted || state.TerminalReason == budget.ReasonCanceled {
		severity = errors.SeverityInfo
	}
	return errors.NewRunError("implementation loop stopped: "+state.TerminalReason.String(), cause).
		WithRunID(state.ID).
		WithPhase(state.Phase).
		WithIteration(state.Iteration).
		WithSeverity(severity)
}

// Improve runs only the improvement loop over an existing artifact root.
func (e *Engine) Improve(ctx context.Context, plan Plan) (*Report, error) {
	state, rec, logger := e.begin(plan)
	report := &Report{RunID: state.ID, WorkDir: plan.WorkDir, Target: e.cfg.Improve.TargetScore}
	err := e.improve(ctx, plan, state, rec, report, logger, false)
	e.finish(state, rec, report, logger)
	return report, err
}

func (e *Engine) begin(plan Plan) (*RunState, *history.Recorder, *logging.Logger) {
	id := plan.RunID
	if id == "" {
		id = uuid.NewString()
	}
	logger := e.logger.WithRun(id)

	detector := stall.New(e.cfg.Run.StallThreshold, e.cfg.Run.LoopWarnThreshold)
	state := newRunState(id, time.Now(), detector, e.cfg.Routing.DefaultBackend)

	rec := history.NewRecorder(id, history.WithBus(e.bus), history.WithLogger(logger))
	rec.Limit(history.LoopImplementation, e.cfg.Run.MaxIterations)
	rec.Limit(history.LoopImprovement, e.cfg.Improve.MaxIterations)

	logger.Info("run started", "work_dir", plan.WorkDir)
	return state, rec, logger
}

// implement runs rounds until the budget, the stall detector, the schedule
// or ctx ends the loop. The stop decision is taken after each round so the
// last record carries the terminal reason.
func (e *Engine) implement(ctx context.Context, plan Plan, state *RunState, rec *history.Recorder, logger *logging.Logger) {
	logger = logger.WithLoop(string(history.LoopImplementation))
	machine := phase.NewMachine(phase.StagesFromConfig(e.cfg.Phases), e.bus, logger)
	manager := budget.NewManagerFromConfig(e.cfg, budget.Callbacks{}, logger)
	policy := phase.Policy{PlanningWindow: e.cfg.Run.PlanningWindow}
	deadline := manager.Deadline(state.Start)

	completionPhrase := ""
	if len(e.cfg.Run.CompletionPhrases) > 0 {
		completionPhrase = e.cfg.Run.CompletionPhrases[0]
	}

	state.tick(time.Now())
	if d := manager.ShouldContinue(state.Snapshot()); !d.Continue {
		state.TerminalReason = d.Reason
		return
	}

	for {
		if ctx.Err() != nil {
			state.TerminalReason = budget.ReasonCanceled
			return
		}
		stage, ok := machine.Current()
		if !ok {
			state.TerminalReason = budget.ReasonScheduleExhausted
			return
		}

		iteration := state.Iteration + 1
		inLoop := state.Stall.InLoop()
		if inLoop && !state.loopWarned {
			state.loopWarned = true
			logger.Warn("analysis loop detected, forcing generation", "iteration", iteration, "idle", state.Stall.Idle())
			e.bus.Publish(event.NewAnalysisLoopEvent(iteration, state.Stall.Idle()))
		}

		t, err := machine.BuildTask(policy, completionPhrase, phase.Input{
			Iteration: iteration,
			Plan:      plan.Text,
			WorkDir:   plan.WorkDir,
			Produced:  state.Produced,
			InLoop:    inLoop,
		})
		if err != nil {
			// A bad objective template cannot improve on retry.
			logger.Error("failed to build task", "phase", stage.Phase.String(), "error", err)
			state.TerminalReason = budget.ReasonScheduleExhausted
			return
		}

		assignment := e.router.Select(&state.Routing, t.Type, e.cfg.Routing.Enabled, state.Backend)
		state.Backend = assignment.Backend

		res, roundErr := e.execute(ctx, deadline, assignment.Backend, t)
		state.Iteration = iteration
		state.Phase = t.Phase
		state.observe(res)
		if roundErr != nil {
			logger.Warn("round failed",
				"iteration", iteration,
				"backend", assignment.Backend,
				"retryable", errors.IsRetryable(roundErr),
				"error", roundErr,
			)
		}

		switch {
		case res.CompletionSignal && !machine.HasNext():
			state.LastCompletion = true
		case res.CompletionSignal:
			state.LastCompletion = false
			machine.Advance(iteration)
		default:
			state.LastCompletion = false
			machine.CompleteRound(iteration)
		}

		state.tick(time.Now())
		reason := budget.ReasonNone
		if d := manager.ShouldContinue(state.Snapshot()); !d.Continue {
			reason = d.Reason
		} else if ctx.Err() != nil {
			reason = budget.ReasonCanceled
		} else if machine.Exhausted() {
			reason = budget.ReasonScheduleExhausted
		}
		if reason == budget.ReasonStallDetected {
			e.bus.Publish(event.NewStallDetectedEvent(iteration, state.Stall.Idle(), state.Stall.Threshold()))
		}

		e.publishRound(t, res, roundErr)
		record := history.IterationRecord{
			Loop:           history.LoopImplementation,
			Iteration:      iteration,
			Phase:          t.Phase,
			TaskType:       t.Type.String(),
			Backend:        assignment.Backend,
			SwitchCount:    e.router.SwitchCount(),
			WriteActions:   res.WriteCount(),
			Completion:     res.CompletionSignal,
			Elapsed:        state.Elapsed,
			TerminalReason: reason.String(),
		}
		if roundErr != nil {
			record.Error = roundErr.Error()
		}
		if err := rec.Append(record); err != nil {
			logger.Warn("failed to record iteration", "iteration", iteration, "error", err)
		}

		if reason != budget.ReasonNone {
			state.TerminalReason = reason
			return
		}
	}
}

// execute runs one task under the run deadline.
func (e *Engine) execute(ctx context.Context, deadline time.Time, backendID string, t task.Task) (task.RoundResult, error) {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	b, err := e.executors.Get(backendID)
	if err != nil {
		return task.RoundResult{Backend: backendID}, err
	}
	res, err := b.Execute(ctx, t)
	if res.Backend == "" {
		res.Backend = backendID
	}
	return res, err
}

func (e *Engine) publishRound(t task.Task, res task.RoundResult, err error) {
	ev := event.NewRoundCompletedEvent(t.Iteration, t.Phase, t.Type.String(), res.Backend)
	ev.WriteActions = res.WriteCount()
	ev.ReadActions = res.ReadCount()
	ev.Completion = res.CompletionSignal
	ev.Duration = res.Duration
	ev.Err = err
	e.bus.Publish(ev)
}

// improve runs the fix-apply-verify loop, or a single review pass when the
// loop is disabled or verifyOnly is set.
func (e *Engine) improve(ctx context.Context, plan Plan, state *RunState, rec *history.Recorder, report *Report, logger *logging.Logger, verifyOnly bool) error {
	logger = logger.WithLoop(string(history.LoopImprovement))
	source := artifact.Source{
		FS:      e.fs,
		Root:    plan.WorkDir,
		Include: e.cfg.Artifacts.Include,
		Exclude: e.cfg.Artifacts.Exclude,
	}

	cfg := improve.ConfigFromApp(e.cfg)
	cfg.Current = state.Backend
	loop := improve.New(cfg, e.reviewer, source, e.executors,
		improve.WithRouter(e.router, &state.Routing),
		improve.WithBus(e.bus),
		improve.WithLogger(logger),
		improve.WithCallbacks(improve.Callbacks{OnStep: func(step improve.Step) {
			state.tick(time.Now())
			state.observeScore(step.Score, step.HasScore)
			rec.AttachReview(step.Iteration, step.Result)
			record := history.IterationRecord{
				Loop:           history.LoopImprovement,
				Iteration:      step.Iteration,
				Phase:          string(history.LoopImprovement),
				TaskType:       task.Generation.String(),
				Backend:        step.Backend,
				Scores:         step.Result.Scores(),
				AggregateScore: step.Score,
				HasScore:       step.HasScore,
				ConsensusCount: len(step.Result.Consensus),
				SwitchCount:    e.router.SwitchCount(),
				WriteActions:   step.WriteActions,
				Elapsed:        state.Elapsed,
				TerminalReason: step.Reason.String(),
			}
			if step.Err != nil {
				record.Error = step.Err.Error()
			}
			if err := rec.Append(record); err != nil {
				logger.Warn("failed to record iteration", "iteration", step.Iteration, "error", err)
			}
		}}),
	)

	if !e.cfg.Improve.Enabled || verifyOnly {
		res, err := loop.Verify(ctx)
		if err != nil {
			return err
		}
		state.observeScore(res.Score())
		report.applyReview(res)
		return nil
	}

	trace, err := loop.Run(ctx, nil, e.cfg.Improve.TargetScore, e.cfg.Improve.MaxIterations)
	report.ImproveReason = trace.Reason
	report.ImproveSteps = trace.Len()
	report.ScoreProgress = trace.Scores()
	report.applyReview(trace.Final())
	return err
}

func (e *Engine) finish(state *RunState, rec *history.Recorder, report *Report, logger *logging.Logger) {
	state.tick(time.Now())
	report.Elapsed = state.Elapsed
	report.SwitchCount = e.router.SwitchCount()
	report.Records = rec.Records()

	if e.outputDir != "" {
		dir := filepath.Join(e.outputDir, state.ID)
		if err := rec.Persist(e.fs, dir); err != nil {
			logger.Warn("failed to persist history", "dir", dir, "error", err)
			report.Warnings = append(report.Warnings, WarningHistoryNotPersisted)
		} else {
			report.Dir = dir
		}
	}
	report.Summary = rec.Summary()

	logger.Info("run completed",
		"stop_reason", report.StopReason.String(),
		"improve_reason", report.ImproveReason.String(),
		"final_score", report.FinalScore,
		"has_score", report.HasScore,
		"iterations", report.Iterations,
		"elapsed", report.Elapsed.String(),
	)
	if report.StopCause != nil && errors.GetSeverity(report.StopCause) >= errors.SeverityWarning {
		logger.Warn("implementation loop stopped early", "error", report.StopCause)
	}
	e.bus.Publish(event.NewRunCompletedEvent(
		report.RunID, report.StopReason.String(), report.ImproveReason.String(),
		report.FinalScore, report.HasScore, report.Iterations+report.ImproveSteps,
	))
}
