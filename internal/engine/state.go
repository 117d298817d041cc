package engine

import (
	"time"

	"github.com/Iron-Ham/crossfix/internal/budget"
	"github.com/Iron-Ham/crossfix/internal/router"
	"github.com/Iron-Ham/crossfix/internal/stall"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// RunState is the mutable working state of one run. It is owned by the
// control goroutine and discarded when the run ends.
type RunState struct {
	ID        string
	Iteration int
	// Phase is the phase of the most recent round.
	Phase     string
	Start     time.Time
	Elapsed   time.Duration

	// Routing is the last announced (task type, backend) pair.
	Routing router.Memo
	// Backend is the backend that ran the most recent round.
	Backend string
	Stall   *stall.Detector

	BestScore      float64
	HasBestScore   bool
	TerminalReason budget.Reason
	LastCompletion bool

	// Produced lists written artifacts in first-written order.
	Produced    []string
	produced    map[string]bool
	TotalWrites int

	loopWarned bool
}

func newRunState(id string, start time.Time, detector *stall.Detector, backend string) *RunState {
	return &RunState{
		ID:       id,
		Start:    start,
		Backend:  backend,
		Stall:    detector,
		produced: make(map[string]bool),
	}
}

// Snapshot returns the budget inputs.
func (s *RunState) Snapshot() budget.Snapshot {
	return budget.Snapshot{
		Iteration:      s.Iteration,
		Elapsed:        s.Elapsed,
		LastCompletion: s.LastCompletion,
		Stalled:        s.Stall.IsStalled(),
	}
}

// tick advances Elapsed; it never moves backwards.
func (s *RunState) tick(now time.Time) {
	if d := now.Sub(s.Start); d > s.Elapsed {
		s.Elapsed = d
	}
}

// observe folds a round's result into the state.
func (s *RunState) observe(res task.RoundResult) {
	s.Stall.Observe(res)
	s.TotalWrites += res.WriteCount()
	for _, target := range res.WrittenTargets() {
		if !s.produced[target] {
			s.produced[target] = true
			s.Produced = append(s.Produced, target)
		}
	}
	if res.WriteCount() > 0 {
		s.loopWarned = false
	}
}

// observeScore keeps the best aggregate score seen.
func (s *RunState) observeScore(score float64, ok bool) {
	if ok && (!s.HasBestScore || score > s.BestScore) {
		s.BestScore = score
		s.HasBestScore = true
	}
}
