// Package history records one entry per iteration of the implementation and
// improvement loops and persists the trace once per run.
package history

import "time"

// Loop identifies which bounded loop produced a record.
type Loop string

const (
	LoopImplementation Loop = "implementation"
	LoopImprovement    Loop = "improvement"
)

// IterationRecord is one append-only entry of the run history.
type IterationRecord struct {
	Loop      Loop   `json:"loop" yaml:"loop"`
	Iteration int    `json:"iteration" yaml:"iteration"`
	Phase     string `json:"phase,omitempty" yaml:"phase,omitempty"`
	TaskType  string `json:"task_type,omitempty" yaml:"task_type,omitempty"`
	Backend   string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// Scores holds per-reviewer scores for improvement iterations.
	Scores         map[string]float64 `json:"scores,omitempty" yaml:"scores,omitempty"`
	AggregateScore float64            `json:"aggregate_score" yaml:"aggregate_score"`
	HasScore       bool               `json:"has_score" yaml:"has_score"`
	ConsensusCount int                `json:"consensus_count" yaml:"consensus_count"`

	SwitchCount    int64         `json:"switch_count" yaml:"switch_count"`
	WriteActions   int           `json:"write_actions" yaml:"write_actions"`
	Completion     bool          `json:"completion,omitempty" yaml:"completion,omitempty"`
	Elapsed        time.Duration `json:"elapsed" yaml:"elapsed"`
	TerminalReason string        `json:"terminal_reason,omitempty" yaml:"terminal_reason,omitempty"`
	Error          string        `json:"error,omitempty" yaml:"error,omitempty"`
	RecordedAt     time.Time     `json:"recorded_at" yaml:"recorded_at"`
}

// LoopSummary condenses the records of one loop.
type LoopSummary struct {
	Iterations     int       `json:"iterations" yaml:"iterations"`
	TerminalReason string    `json:"terminal_reason,omitempty" yaml:"terminal_reason,omitempty"`
	WriteActions   int       `json:"write_actions" yaml:"write_actions"`
	Scores         []float64 `json:"scores,omitempty" yaml:"scores,omitempty"`
	FirstScore     *float64  `json:"first_score,omitempty" yaml:"first_score,omitempty"`
	FinalScore     *float64  `json:"final_score,omitempty" yaml:"final_score,omitempty"`
	BestScore      *float64  `json:"best_score,omitempty" yaml:"best_score,omitempty"`
}

// Improvement returns the score change across the loop.
func (s LoopSummary) Improvement() (float64, bool) {
	if s.FirstScore == nil || s.FinalScore == nil {
		return 0, false
	}
	return *s.FinalScore - *s.FirstScore, true
}

// Summary is the human-oriented digest persisted next to the records.
type Summary struct {
	RunID          string        `json:"run_id" yaml:"run_id"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
	SwitchCount    int64         `json:"switch_count" yaml:"switch_count"`
	Implementation LoopSummary   `json:"implementation" yaml:"implementation"`
	Improvement    LoopSummary   `json:"improvement" yaml:"improvement"`
}

func summarize(records []IterationRecord, loop Loop) LoopSummary {
	var s LoopSummary
	for _, r := range records {
		if r.Loop != loop {
			continue
		}
		s.Iterations++
		s.WriteActions += r.WriteActions
		if r.TerminalReason != "" {
			s.TerminalReason = r.TerminalReason
		}
		if !r.HasScore {
			continue
		}
		score := r.AggregateScore
		s.Scores = append(s.Scores, score)
		if s.FirstScore == nil {
			s.FirstScore = &score
		}
		s.FinalScore = &score
		if s.BestScore == nil || score > *s.BestScore {
			best := score
			s.BestScore = &best
		}
	}
	return s
}
