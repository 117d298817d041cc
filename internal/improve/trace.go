package improve

import (
	"time"

	"github.com/Iron-Ham/crossfix/internal/review"
)

// Step is one iteration of the improvement loop: a verification and, unless
// the loop stopped there, the fix round that followed it.
type Step struct {
	Iteration int            `json:"iteration"`
	Result    *review.Result `json:"result"`
	Score     float64        `json:"score"`
	HasScore  bool           `json:"has_score"`
	// Delta is the score change from the previous iteration.
	Delta    float64 `json:"delta"`
	HasDelta bool    `json:"has_delta"`

	// Fix round; zero when the loop stopped at this iteration.
	Backend      string `json:"backend,omitempty"`
	Fixed        int    `json:"fixed"`
	WriteActions int    `json:"write_actions"`
	Err          error  `json:"-"`

	Reason  Reason        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Trace is the ordered record of an improvement run.
type Trace struct {
	Steps         []Step  `json:"steps"`
	Reason        Reason  `json:"reason"`
	Target        float64 `json:"target"`
	MaxIterations int     `json:"max_iterations"`
}

// Len returns the number of iterations run.
func (t Trace) Len() int { return len(t.Steps) }

// Last returns the final step.
func (t Trace) Last() (Step, bool) {
	if len(t.Steps) == 0 {
		return Step{}, false
	}
	return t.Steps[len(t.Steps)-1], true
}

// Final returns the last verification result, or nil.
func (t Trace) Final() *review.Result {
	last, ok := t.Last()
	if !ok {
		return nil
	}
	return last.Result
}

// Improvement returns the score change from the first scored iteration to the
// last scored one.
func (t Trace) Improvement() (float64, bool) {
	var first, last *Step
	for i := range t.Steps {
		if !t.Steps[i].HasScore {
			continue
		}
		if first == nil {
			first = &t.Steps[i]
		}
		last = &t.Steps[i]
	}
	if first == nil {
		return 0, false
	}
	return last.Score - first.Score, true
}

// Scores returns the score of every scored iteration in order.
func (t Trace) Scores() []float64 {
	var out []float64
	for _, s := range t.Steps {
		if s.HasScore {
			out = append(out, s.Score)
		}
	}
	return out
}
