package history

import (
	"sync"
	"time"

	"github.com/Iron-Ham/crossfix/internal/errors"
	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/review"
)

// Recorder accumulates iteration records in strict order. It is safe for
// concurrent use, though the engine appends from a single goroutine.
type Recorder struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	records   []IterationRecord
	limits    map[Loop]int
	last      map[Loop]int
	reviews   map[int]*review.Result
	persisted bool

	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBus publishes a history event for every appended record.
func WithBus(bus *event.Bus) Option {
	return func(r *Recorder) { r.bus = bus }
}

// WithLogger sets the recorder logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder creates an empty recorder for runID.
func NewRecorder(runID string, opts ...Option) *Recorder {
	r := &Recorder{
		runID:   runID,
		limits:  make(map[Loop]int),
		last:    make(map[Loop]int),
		reviews: make(map[int]*review.Result),
		logger:  logging.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startedAt = r.now()
	r.logger = r.logger.WithComponent("history")
	return r
}

// RunID returns the run id the recorder was created for.
func (r *Recorder) RunID() string { return r.runID }

// Limit caps the number of records loop may hold. Zero removes the cap.
func (r *Recorder) Limit(loop Loop, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[loop] = max
}

// Append adds rec. Iterations of a loop must be appended as 1, 2, 3, ...
// and never beyond the loop's limit.
func (r *Recorder) Append(rec IterationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if want := r.last[rec.Loop] + 1; rec.Iteration != want {
		return errors.Wrapf(errors.ErrRecordOutOfOrder, "%s iteration %d, expected %d", rec.Loop, rec.Iteration, want)
	}
	if limit := r.limits[rec.Loop]; limit > 0 && rec.Iteration > limit {
		return errors.Wrapf(errors.ErrRecordLimit, "%s iteration %d exceeds limit %d", rec.Loop, rec.Iteration, limit)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now()
	}

	r.records = append(r.records, rec)
	r.last[rec.Loop] = rec.Iteration

	r.logger.Debug("iteration recorded",
		"loop", string(rec.Loop),
		"iteration", rec.Iteration,
		"terminal_reason", rec.TerminalReason)
	if r.bus != nil {
		r.bus.Publish(event.NewIterationRecordedEvent(string(rec.Loop), rec.Iteration, rec.TerminalReason))
	}
	return nil
}

// AttachReview keeps the review result of an improvement iteration so its
// consensus and raw reviewer output are persisted with the run.
func (r *Recorder) AttachReview(iteration int, res *review.Result) {
	if res == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews[iteration] = res
}

// Records returns a copy of every record in append order.
func (r *Recorder) Records() []IterationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]IterationRecord(nil), r.records...)
}

// RecordsFor returns the records of one loop in order.
func (r *Recorder) RecordsFor(loop Loop) []IterationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []IterationRecord
	for _, rec := range r.records {
		if rec.Loop == loop {
			out = append(out, rec)
		}
	}
	return out
}

// Summary condenses the records.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Recorder) summaryLocked() Summary {
	s := Summary{
		RunID:          r.runID,
		StartedAt:      r.startedAt,
		Implementation: summarize(r.records, LoopImplementation),
		Improvement:    summarize(r.records, LoopImprovement),
	}
	if n := len(r.records); n > 0 {
		last := r.records[n-1]
		s.Duration = last.RecordedAt.Sub(r.startedAt)
		for _, rec := range r.records {
			if rec.SwitchCount > s.SwitchCount {
				s.SwitchCount = rec.SwitchCount
			}
		}
	}
	return s
}
