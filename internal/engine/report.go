package engine

import (
	"time"

	"github.com/Iron-Ham/crossfix/internal/budget"
	"github.com/Iron-Ham/crossfix/internal/history"
	"github.com/Iron-Ham/crossfix/internal/improve"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// Warning codes carried in Report.Warnings.
const (
	WarningNoArtifactsProduced = "no_artifacts_produced"
	WarningHistoryNotPersisted = "history_not_persisted"
	WarningImprovementSkipped  = "improvement_skipped"
)

// Report is the final outcome of a run. Every termination path produces one.
type Report struct {
	RunID   string
	// Dir is where the history was persisted; empty when it was not.
	Dir     string
	WorkDir string

	StopReason    budget.Reason
	// StopCause is a *errors.RunError describing any stop other than
	// declared completion; nil otherwise.
	StopCause     error
	ImproveReason improve.Reason
	Iterations    int
	ImproveSteps  int
	Elapsed       time.Duration
	SwitchCount   int64

	Target     float64
	Scores     map[string]float64
	FinalScore float64
	HasScore   bool
	// ScoreProgress lists the aggregate score of each improvement iteration.
	ScoreProgress []float64
	Unresolved    []review.ConsensusIssue
	SingleSource  bool
	Unavailable   []string

	Produced      []string
	TotalWrites   int
	Warnings      []string
	StallEvidence [][]task.Action

	Records []history.IterationRecord
	Summary history.Summary
}

// Improvement returns the score change across the improvement loop.
func (r *Report) Improvement() (float64, bool) {
	if len(r.ScoreProgress) == 0 {
		return 0, false
	}
	return r.ScoreProgress[len(r.ScoreProgress)-1] - r.ScoreProgress[0], true
}

// TargetReached reports whether the final score met the target.
func (r *Report) TargetReached() bool {
	return r.HasScore && r.FinalScore >= r.Target
}

// HasWarning reports whether code is among the warnings.
func (r *Report) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

func (r *Report) applyReview(res *review.Result) {
	if res == nil {
		return
	}
	r.Scores = res.Scores()
	r.FinalScore, r.HasScore = res.Score()
	r.Unresolved = res.Consensus
	r.SingleSource = res.SingleSource
	r.Unavailable = res.Unavailable
}
