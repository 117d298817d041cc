package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/crossfix/internal/artifact"
	"github.com/Iron-Ham/crossfix/internal/backend"
	"github.com/Iron-Ham/crossfix/internal/budget"
	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/history"
	"github.com/Iron-Ham/crossfix/internal/improve"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// scriptedBackend answers every task through fn, which receives the
// 1-based call number.
type scriptedBackend struct {
	id string
	fn func(ctx context.Context, n int, t task.Task) (task.RoundResult, error)

	mu    sync.Mutex
	tasks []task.Task
}

func (b *scriptedBackend) ID() string       { return b.id }
func (b *scriptedBackend) Available() error { return nil }
func (b *scriptedBackend) Review(context.Context, review.Request) (string, error) {
	return "", nil
}

func (b *scriptedBackend) Execute(ctx context.Context, t task.Task) (task.RoundResult, error) {
	b.mu.Lock()
	b.tasks = append(b.tasks, t)
	n := len(b.tasks)
	b.mu.Unlock()
	if b.fn == nil {
		return task.RoundResult{Backend: b.id}, nil
	}
	return b.fn(ctx, n, t)
}

func (b *scriptedBackend) calls() []task.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]task.Task(nil), b.tasks...)
}

func writes(target string) task.RoundResult {
	return task.RoundResult{Actions: []task.Action{task.NewAction("Write", target)}}
}

func reads() task.RoundResult {
	return task.RoundResult{Actions: []task.Action{task.NewAction("Read", "plan.md")}}
}

type scriptedVerifier struct {
	mu      sync.Mutex
	results []*review.Result
	calls   int
}

func (v *scriptedVerifier) Review(ctx context.Context, set artifact.Set, iteration int) (*review.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.calls >= len(v.results) {
		return nil, fmt.Errorf("unexpected review call %d", v.calls+1)
	}
	r := v.results[v.calls]
	v.calls++
	r.Artifacts = set
	return r, nil
}

func scored(score float64, issues int) *review.Result {
	r := &review.Result{
		Aggregate:    score,
		HasAggregate: true,
		Reports: map[string]*review.Report{
			"gemini": {Reviewer: "gemini", Overall: &score, ParseStatus: review.ParseStructured},
		},
	}
	for i := 0; i < issues; i++ {
		r.Consensus = append(r.Consensus, review.ConsensusIssue{
			Issue: review.Issue{
				File:        "app.py",
				LineStart:   10 * (i + 1),
				Severity:    review.SeverityMedium,
				Description: fmt.Sprintf("issue %d", i+1),
				Sources:     []string{"codex", "gemini"},
			},
			Agreement: 0.7,
		})
	}
	return r
}

// testConfig returns a config with improvement disabled and a single
// open-ended implementation phase.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Run.MaxIterations = 20
	cfg.Run.MaxTime = time.Minute
	cfg.Run.PlanningWindow = 0
	cfg.Phases = []config.PhaseConfig{{Kind: config.PhaseImplementation}}
	cfg.Improve.Enabled = false
	return cfg
}

type fixture struct {
	cfg      *config.Config
	fs       afero.Fs
	codex    *scriptedBackend
	gemini   *scriptedBackend
	verifier *scriptedVerifier
	bus      *event.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/gen/app.py", []byte("print('hi')\n"), 0o644))
	return &fixture{
		cfg:      testConfig(),
		fs:       fs,
		codex:    &scriptedBackend{id: "codex"},
		gemini:   &scriptedBackend{id: "gemini"},
		verifier: &scriptedVerifier{results: []*review.Result{scored(7.0, 0)}},
		bus:      event.NewBus(),
	}
}

func (f *fixture) engine(opts ...Option) *Engine {
	reg := backend.NewRegistry()
	reg.Register(f.codex)
	reg.Register(f.gemini)
	opts = append([]Option{WithFS(f.fs), WithBus(f.bus)}, opts...)
	return New(f.cfg, reg, f.verifier, opts...)
}

func (f *fixture) collect(eventType string) *[]event.Event {
	var mu sync.Mutex
	var out []event.Event
	f.bus.Subscribe(eventType, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, e)
	})
	return &out
}

func implementationRecords(report *Report) []history.IterationRecord {
	var out []history.IterationRecord
	for _, r := range report.Records {
		if r.Loop == history.LoopImplementation {
			out = append(out, r)
		}
	}
	return out
}

func TestEngine_StopsAtIterationLimit(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxIterations = 3
	f.codex.fn = func(_ context.Context, n int, _ task.Task) (task.RoundResult, error) {
		return writes(fmt.Sprintf("file%d.py", n)), nil
	}

	report, err := f.engine().Run(context.Background(), Plan{Text: "build it", WorkDir: "/gen", RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonIterationLimitExceeded, report.StopReason)
	assert.Equal(t, 3, report.Iterations)
	assert.Equal(t, []string{"file1.py", "file2.py", "file3.py"}, report.Produced)
	assert.Len(t, f.codex.calls(), 3)

	recs := implementationRecords(report)
	require.Len(t, recs, 3)
	assert.Empty(t, recs[0].TerminalReason)
	assert.Equal(t, "iteration_limit_exceeded", recs[2].TerminalReason)
	assert.Equal(t, 1, recs[2].WriteActions)
	assert.Equal(t, "codex", recs[2].Backend)
}

func TestEngine_StallStopsRunawayLoop(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxIterations = 500
	f.cfg.Run.StallThreshold = 10
	f.cfg.Run.LoopWarnThreshold = 5
	f.codex.fn = func(_ context.Context, n int, _ task.Task) (task.RoundResult, error) {
		if n <= 5 {
			return writes(fmt.Sprintf("file%d.py", n)), nil
		}
		return reads(), nil
	}
	stalls := f.collect(event.TypeStallDetected)
	loops := f.collect(event.TypeAnalysisLoop)

	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonStallDetected, report.StopReason)
	assert.Equal(t, 15, report.Iterations)
	assert.Len(t, report.StallEvidence, 10)
	assert.Len(t, *stalls, 1)
	assert.Len(t, *loops, 1)

	recs := implementationRecords(report)
	require.Len(t, recs, 15)
	assert.Equal(t, "stall_detected", recs[14].TerminalReason)
}

func TestEngine_TimeLimitBoundsSlowRound(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxTime = 50 * time.Millisecond
	f.codex.fn = func(ctx context.Context, _ int, _ task.Task) (task.RoundResult, error) {
		<-ctx.Done()
		return task.RoundResult{}, ctx.Err()
	}

	start := time.Now()
	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonTimeLimitExceeded, report.StopReason)
	assert.Equal(t, 1, report.Iterations)
	assert.Less(t, time.Since(start), 5*time.Second)

	recs := implementationRecords(report)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].Error)

	var runErr *errors.RunError
	require.ErrorAs(t, report.StopCause, &runErr)
	assert.ErrorIs(t, report.StopCause, errors.ErrBudgetExceeded)
	assert.Equal(t, "implementation", runErr.Phase)
	assert.Equal(t, 1, runErr.Iteration)
	assert.Equal(t, errors.SeverityWarning, errors.GetSeverity(report.StopCause))
}

func TestEngine_TimeLimitSkipsFixRounds(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxTime = 50 * time.Millisecond
	f.cfg.Improve.Enabled = true
	f.cfg.Improve.MaxIterations = 5
	f.verifier.results = []*review.Result{scored(5.0, 3)}
	f.codex.fn = func(ctx context.Context, _ int, _ task.Task) (task.RoundResult, error) {
		<-ctx.Done()
		return task.RoundResult{}, ctx.Err()
	}
	warnings := f.collect(event.TypeWarning)

	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonTimeLimitExceeded, report.StopReason)
	assert.True(t, report.HasWarning(WarningImprovementSkipped))
	assert.Len(t, *warnings, 2)
	assert.Equal(t, 1, f.verifier.calls, "a single review pass")
	assert.Len(t, f.codex.calls(), 1, "no fix rounds after the time budget")
	assert.Zero(t, report.ImproveSteps)
	assert.InDelta(t, 5.0, report.FinalScore, 1e-9)
	assert.Len(t, report.Unresolved, 3)
}

func TestEngine_CompletionAdvancesPhases(t *testing.T) {
	f := newFixture(t)
	f.cfg.Phases = []config.PhaseConfig{
		{Kind: config.PhaseImplementation},
		{Kind: config.PhaseSelfReviewAlignment, Rounds: 1},
	}
	f.codex.fn = func(_ context.Context, n int, _ task.Task) (task.RoundResult, error) {
		res := writes(fmt.Sprintf("file%d.py", n))
		res.CompletionSignal = n == 2
		return res, nil
	}
	changes := f.collect(event.TypePhaseChanged)

	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonScheduleExhausted, report.StopReason)
	assert.Equal(t, 3, report.Iterations)
	recs := implementationRecords(report)
	require.Len(t, recs, 3)
	assert.Equal(t, "implementation", recs[1].Phase)
	assert.True(t, recs[1].Completion)
	assert.Equal(t, "self_review_alignment", recs[2].Phase)
	assert.Equal(t, "schedule_exhausted", recs[2].TerminalReason)
	assert.Len(t, *changes, 2)
}

func TestEngine_CompletionInLastPhaseEndsRun(t *testing.T) {
	f := newFixture(t)
	f.codex.fn = func(_ context.Context, n int, _ task.Task) (task.RoundResult, error) {
		res := writes("app.py")
		res.CompletionSignal = n == 2
		return res, nil
	}

	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonDeclaredComplete, report.StopReason)
	assert.NoError(t, report.StopCause)
	assert.Equal(t, 2, report.Iterations)
	assert.Equal(t, 2, report.TotalWrites)
	assert.Equal(t, []string{"app.py"}, report.Produced)
}

func TestEngine_RoutesTaskTypes(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxIterations = 3
	f.cfg.Run.PlanningWindow = 1
	f.gemini.fn = func(context.Context, int, task.Task) (task.RoundResult, error) {
		return reads(), nil
	}
	f.codex.fn = func(_ context.Context, n int, _ task.Task) (task.RoundResult, error) {
		return writes(fmt.Sprintf("file%d.py", n)), nil
	}

	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	require.Len(t, f.gemini.calls(), 1)
	assert.Equal(t, task.Analysis, f.gemini.calls()[0].Type)
	assert.Len(t, f.codex.calls(), 2)
	assert.EqualValues(t, 2, report.SwitchCount)

	recs := implementationRecords(report)
	require.Len(t, recs, 3)
	assert.Equal(t, "gemini", recs[0].Backend)
	assert.Equal(t, "analysis", recs[0].TaskType)
	assert.Equal(t, "codex", recs[1].Backend)
}

func TestEngine_FullRunWithImprovement(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxIterations = 2
	f.cfg.Improve.Enabled = true
	f.cfg.Improve.TargetScore = 8.0
	f.cfg.Improve.MaxIterations = 5
	f.codex.fn = func(_ context.Context, n int, _ task.Task) (task.RoundResult, error) {
		return writes(fmt.Sprintf("file%d.py", n)), nil
	}
	f.verifier.results = []*review.Result{scored(5.8, 3), scored(7.48, 2), scored(8.2, 1)}
	completed := f.collect(event.TypeRunCompleted)

	e := f.engine(WithOutputDir("/runs"))
	report, err := e.Run(context.Background(), Plan{Text: "plan", WorkDir: "/gen", RunID: "run-42"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonIterationLimitExceeded, report.StopReason)
	assert.Equal(t, improve.ReasonTargetReached, report.ImproveReason)
	assert.Equal(t, 3, report.ImproveSteps)
	assert.Equal(t, []float64{5.8, 7.48, 8.2}, report.ScoreProgress)
	assert.InDelta(t, 8.2, report.FinalScore, 1e-9)
	assert.True(t, report.TargetReached())
	improvement, ok := report.Improvement()
	require.True(t, ok)
	assert.InDelta(t, 2.4, improvement, 1e-9)
	assert.Len(t, report.Unresolved, 1)
	assert.Empty(t, report.Warnings)

	// two implementation rounds plus two fix batches
	assert.Len(t, f.codex.calls(), 4)
	fix := f.codex.calls()[2]
	assert.Equal(t, "improvement", fix.Phase)
	assert.Contains(t, fix.Payload, "issue 1")

	require.Len(t, *completed, 1)
	ev := (*completed)[0].(event.RunCompletedEvent)
	assert.Equal(t, "run-42", ev.RunID)
	assert.Equal(t, 5, ev.Iterations)

	assert.Equal(t, filepath.Join("/runs", "run-42"), report.Dir)
	run, err := history.Load(f.fs, report.Dir)
	require.NoError(t, err)
	require.Len(t, run.Records, 5)
	assert.Equal(t, history.LoopImprovement, run.Records[4].Loop)
	assert.Equal(t, "target_reached", run.Records[4].TerminalReason)
	assert.Equal(t, 3, run.Summary.Improvement.Iterations)

	exists, err := afero.Exists(f.fs, filepath.Join(report.Dir, "iteration_1_consensus.json"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEngine_ReviewOnlyWhenImprovementDisabled(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxIterations = 1
	f.codex.fn = func(context.Context, int, task.Task) (task.RoundResult, error) {
		return writes("app.py"), nil
	}

	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.InDelta(t, 7.0, report.FinalScore, 1e-9)
	assert.True(t, report.HasScore)
	assert.Zero(t, report.ImproveSteps)
	assert.Equal(t, map[string]float64{"gemini": 7.0}, report.Scores)
	assert.Len(t, f.codex.calls(), 1)
}

func TestEngine_WarnsWhenNothingWritten(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxIterations = 2
	f.codex.fn = func(context.Context, int, task.Task) (task.RoundResult, error) {
		return reads(), nil
	}
	warnings := f.collect(event.TypeWarning)

	report, err := f.engine().Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.True(t, report.HasWarning(WarningNoArtifactsProduced))
	assert.Zero(t, report.TotalWrites)
	require.Len(t, *warnings, 1)
	assert.Equal(t, WarningNoArtifactsProduced, (*warnings)[0].(event.WarningEvent).Code)
}

func TestEngine_PersistFailureIsAWarning(t *testing.T) {
	f := newFixture(t)
	f.cfg.Run.MaxIterations = 1
	f.codex.fn = func(context.Context, int, task.Task) (task.RoundResult, error) {
		return writes("app.py"), nil
	}
	ro := afero.NewReadOnlyFs(f.fs)
	f.fs = ro

	report, err := f.engine(WithOutputDir("/runs")).Run(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.True(t, report.HasWarning(WarningHistoryNotPersisted))
	assert.Empty(t, report.Dir)
	assert.Len(t, report.Records, 1)
}

func TestEngine_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.codex.fn = func(_ context.Context, n int, _ task.Task) (task.RoundResult, error) {
		if n == 2 {
			cancel()
		}
		return writes("app.py"), nil
	}

	report, err := f.engine().Run(ctx, Plan{WorkDir: "/gen"})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, budget.ReasonCanceled, report.StopReason)
	assert.Equal(t, 2, report.Iterations)
	assert.Zero(t, f.verifier.calls)
	recs := implementationRecords(report)
	require.Len(t, recs, 2)
	assert.Equal(t, "canceled", recs[1].TerminalReason)
}

func TestEngine_ImproveOnly(t *testing.T) {
	f := newFixture(t)
	f.cfg.Improve.Enabled = true
	f.cfg.Improve.MaxIterations = 2
	f.verifier.results = []*review.Result{scored(6.0, 2), scored(6.5, 1)}

	report, err := f.engine().Improve(context.Background(), Plan{WorkDir: "/gen"})
	require.NoError(t, err)

	assert.Equal(t, budget.ReasonNone, report.StopReason)
	assert.Equal(t, improve.ReasonMaxIterations, report.ImproveReason)
	assert.Equal(t, 2, report.ImproveSteps)
	assert.Len(t, f.codex.calls(), 1)
	assert.Len(t, report.Records, 2)
}
