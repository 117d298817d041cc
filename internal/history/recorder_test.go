package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/event"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestRecorder returns a recorder whose clock advances one second per read.
func newTestRecorder(opts ...Option) *Recorder {
	r := NewRecorder("run-1", opts...)
	tick := 0
	r.now = func() time.Time {
		tick++
		return epoch.Add(time.Duration(tick) * time.Second)
	}
	r.startedAt = epoch
	return r
}

func TestRecorder_AppendInOrder(t *testing.T) {
	r := newTestRecorder()

	require.NoError(t, r.Append(IterationRecord{Loop: LoopImplementation, Iteration: 1}))
	require.NoError(t, r.Append(IterationRecord{Loop: LoopImplementation, Iteration: 2}))
	require.NoError(t, r.Append(IterationRecord{Loop: LoopImprovement, Iteration: 1}))

	err := r.Append(IterationRecord{Loop: LoopImplementation, Iteration: 4})
	assert.ErrorIs(t, err, errors.ErrRecordOutOfOrder)
	err = r.Append(IterationRecord{Loop: LoopImprovement, Iteration: 1})
	assert.ErrorIs(t, err, errors.ErrRecordOutOfOrder)

	recs := r.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, epoch.Add(time.Second), recs[0].RecordedAt)
	assert.Len(t, r.RecordsFor(LoopImplementation), 2)
	assert.Len(t, r.RecordsFor(LoopImprovement), 1)
}

func TestRecorder_LimitPerLoop(t *testing.T) {
	r := newTestRecorder()
	r.Limit(LoopImprovement, 2)

	for i := 1; i <= 2; i++ {
		require.NoError(t, r.Append(IterationRecord{Loop: LoopImprovement, Iteration: i}))
	}
	err := r.Append(IterationRecord{Loop: LoopImprovement, Iteration: 3})
	assert.ErrorIs(t, err, errors.ErrRecordLimit)
	assert.Len(t, r.Records(), 2)

	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Append(IterationRecord{Loop: LoopImplementation, Iteration: i}))
	}
}

func TestRecorder_PublishesEvents(t *testing.T) {
	bus := event.NewBus()
	var got []event.IterationRecordedEvent
	bus.Subscribe(event.TypeIterationRecorded, func(e event.Event) {
		got = append(got, e.(event.IterationRecordedEvent))
	})

	r := newTestRecorder(WithBus(bus))
	require.NoError(t, r.Append(IterationRecord{Loop: LoopImprovement, Iteration: 1, TerminalReason: "target_reached"}))

	require.Len(t, got, 1)
	assert.Equal(t, "improvement", got[0].Loop)
	assert.Equal(t, "target_reached", got[0].TerminalReason)
}

func TestRecorder_Summary(t *testing.T) {
	r := newTestRecorder()
	require.NoError(t, r.Append(IterationRecord{Loop: LoopImplementation, Iteration: 1, WriteActions: 3, SwitchCount: 1}))
	require.NoError(t, r.Append(IterationRecord{Loop: LoopImplementation, Iteration: 2, WriteActions: 2, SwitchCount: 2, TerminalReason: "declared_complete"}))
	for i, score := range []float64{5.8, 7.48, 8.2} {
		rec := IterationRecord{Loop: LoopImprovement, Iteration: i + 1, AggregateScore: score, HasScore: true}
		if i == 2 {
			rec.TerminalReason = "target_reached"
		}
		require.NoError(t, r.Append(rec))
	}

	s := r.Summary()
	assert.Equal(t, "run-1", s.RunID)
	assert.EqualValues(t, 2, s.SwitchCount)
	assert.Equal(t, 5*time.Second, s.Duration)

	assert.Equal(t, 2, s.Implementation.Iterations)
	assert.Equal(t, 5, s.Implementation.WriteActions)
	assert.Equal(t, "declared_complete", s.Implementation.TerminalReason)
	assert.Nil(t, s.Implementation.FinalScore)

	assert.Equal(t, 3, s.Improvement.Iterations)
	assert.Equal(t, "target_reached", s.Improvement.TerminalReason)
	assert.Equal(t, []float64{5.8, 7.48, 8.2}, s.Improvement.Scores)
	require.NotNil(t, s.Improvement.BestScore)
	assert.InDelta(t, 8.2, *s.Improvement.BestScore, 1e-9)
	d, ok := s.Improvement.Improvement()
	require.True(t, ok)
	assert.InDelta(t, 2.4, d, 1e-9)
}
