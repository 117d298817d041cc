package review

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/event"
)

type fakeReviewer struct {
	response string
	err      error
	panicMsg string
	calls    atomic.Int32
	lastReq  Request
}

func (f *fakeReviewer) Review(_ context.Context, req Request) (string, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.response, f.err
}

// barrierReviewer answers only once its peer has also started, so two of them
// complete only when the engine runs them at the same time.
type barrierReviewer struct {
	started  chan struct{}
	peer     chan struct{}
	response string
}

func (b *barrierReviewer) Review(ctx context.Context, _ Request) (string, error) {
	close(b.started)
	select {
	case <-b.peer:
		return b.response, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "", fmt.Errorf("peer reviewer never started")
	}
}

func jsonReview(score float64, issues string) string {
	return fmt.Sprintf("```json\n{\"overall_score\": %v, \"critical_issues\": [%s]}\n```", score, issues)
}

const validationIssue = `{"file": "api.py", "line": 12, "severity": "high", "description": "%s"}`

func TestEngine_BothReviewers(t *testing.T) {
	bus := event.NewBus()
	var completed []event.ReviewCompletedEvent
	bus.Subscribe(event.TypeReviewCompleted, func(e event.Event) {
		completed = append(completed, e.(event.ReviewCompletedEvent))
	})

	a := &fakeReviewer{response: jsonReview(6, fmt.Sprintf(validationIssue, "Missing input validation in handler")+`, {"file": "utils.py", "line": 3, "severity": "low", "description": "unused import"}`)}
	b := &fakeReviewer{response: jsonReview(8, fmt.Sprintf(validationIssue, "input validation missing"))}
	e := NewEngine(Slot{Name: "gemini", Reviewer: a}, Slot{Name: "codex", Reviewer: b}, DefaultMatchConfig(), WithBus(bus))

	res, err := e.Review(context.Background(), files, 1)
	require.NoError(t, err)

	assert.False(t, res.SingleSource)
	assert.Empty(t, res.Unavailable)
	require.Len(t, res.Consensus, 1)
	assert.Equal(t, "api.py", res.Consensus[0].File)
	assert.True(t, res.HasAggregate)
	assert.InDelta(t, 7.0, res.Aggregate, 1e-9)
	assert.Equal(t, map[string]float64{"gemini": 6, "codex": 8}, res.Scores())

	assert.Contains(t, a.lastReq.Prompt, "- api.py")
	assert.Equal(t, 1, a.lastReq.Iteration)

	require.Len(t, completed, 1)
	assert.Equal(t, 1, completed[0].ConsensusCount)
}

func TestEngine_ReviewersRunConcurrently(t *testing.T) {
	startedA, startedB := make(chan struct{}), make(chan struct{})
	a := &barrierReviewer{started: startedA, peer: startedB, response: jsonReview(6, "")}
	b := &barrierReviewer{started: startedB, peer: startedA, response: jsonReview(8, "")}
	e := NewEngine(Slot{Name: "gemini", Reviewer: a}, Slot{Name: "codex", Reviewer: b}, DefaultMatchConfig())

	res, err := e.Review(context.Background(), files, 1)
	require.NoError(t, err)

	assert.False(t, res.SingleSource)
	assert.Empty(t, res.Unavailable)
	assert.Equal(t, map[string]float64{"gemini": 6, "codex": 8}, res.Scores())
}

func TestEngine_OneReviewerUnavailable(t *testing.T) {
	bus := event.NewBus()
	var unavailable []string
	bus.Subscribe(event.TypeReviewerUnavailable, func(e event.Event) {
		unavailable = append(unavailable, e.(event.ReviewerUnavailableEvent).Reviewer)
	})

	a := &fakeReviewer{err: fmt.Errorf("upgrade to Plus: %w", errors.ErrReviewerUnavailable)}
	b := &fakeReviewer{response: jsonReview(7.5, fmt.Sprintf(validationIssue, "Missing input validation"))}
	e := NewEngine(Slot{Name: "codex", Reviewer: a}, Slot{Name: "gemini", Reviewer: b}, DefaultMatchConfig(), WithBus(bus))

	res, err := e.Review(context.Background(), files, 2)
	require.NoError(t, err)

	assert.True(t, res.SingleSource)
	assert.Equal(t, []string{"codex"}, res.Unavailable)
	assert.Equal(t, []string{"codex"}, unavailable)
	require.Len(t, res.Consensus, 1)
	assert.Zero(t, res.Consensus[0].Agreement)
	assert.InDelta(t, 7.5, res.Aggregate, 1e-9)
}

func TestEngine_UnparseableResponseDegradesToSingleSource(t *testing.T) {
	a := &fakeReviewer{response: "I'm sorry, I can't help with that."}
	b := &fakeReviewer{response: jsonReview(5, fmt.Sprintf(validationIssue, "Missing input validation"))}
	e := NewEngine(Slot{Name: "a", Reviewer: a}, Slot{Name: "b", Reviewer: b}, DefaultMatchConfig())

	res, err := e.Review(context.Background(), files, 1)
	require.NoError(t, err)

	assert.True(t, res.SingleSource)
	assert.Empty(t, res.Unavailable)
	require.Contains(t, res.Reports, "a")
	assert.Equal(t, ParseEmpty, res.Reports["a"].ParseStatus)
	assert.Equal(t, map[string]float64{"b": 5}, res.Scores())
}

func TestEngine_BothUnavailable(t *testing.T) {
	a := &fakeReviewer{panicMsg: "boom"}
	e := NewEngine(Slot{Name: "a", Reviewer: a}, Slot{Name: "b", Reason: "binary not found"}, DefaultMatchConfig())

	res, err := e.Review(context.Background(), files, 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, res.Unavailable)
	assert.Empty(t, res.Consensus)
	assert.False(t, res.HasAggregate)
	assert.False(t, res.SingleSource)
	_, ok := res.Score()
	assert.False(t, ok)
}

func TestEngine_VerifyIsRepeatable(t *testing.T) {
	a := &fakeReviewer{response: jsonReview(9, "")}
	b := &fakeReviewer{response: jsonReview(8.5, "")}
	e := NewEngine(Slot{Name: "a", Reviewer: a}, Slot{Name: "b", Reviewer: b}, DefaultMatchConfig())

	first, err := e.Review(context.Background(), files, 3)
	require.NoError(t, err)
	second, err := e.Review(context.Background(), files, 3)
	require.NoError(t, err)

	assert.Empty(t, first.Consensus)
	assert.Equal(t, first.Scores(), second.Scores())
	assert.Equal(t, first.Aggregate, second.Aggregate)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestEngine_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeReviewer{err: context.Canceled}
	b := &fakeReviewer{err: context.Canceled}
	e := NewEngine(Slot{Name: "a", Reviewer: a}, Slot{Name: "b", Reviewer: b}, DefaultMatchConfig())

	_, err := e.Review(ctx, files, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngine_DistinctNames(t *testing.T) {
	e := NewEngine(Slot{Name: "codex"}, Slot{Name: "codex"}, DefaultMatchConfig())
	assert.Equal(t, [2]string{"codex", "codex-b"}, e.Names())
}
