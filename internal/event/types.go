package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "backend.transition", "run.stalled")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers
const (
	TypeBackendTransition   = "backend.transition"
	TypePhaseChanged        = "phase.changed"
	TypeRoundCompleted      = "round.completed"
	TypeAnalysisLoop        = "run.analysis_loop"
	TypeStallDetected       = "run.stalled"
	TypeReviewerUnavailable = "review.reviewer_unavailable"
	TypeReviewCompleted     = "review.completed"
	TypeFixApplied          = "improve.fix_applied"
	TypeIterationRecorded   = "history.recorded"
	TypeWarning             = "run.warning"
	TypeRunCompleted        = "run.completed"
)

// -----------------------------------------------------------------------------
// Implementation Loop Events
// -----------------------------------------------------------------------------

// BackendTransitionEvent is emitted when the (task type, backend) pair
// differs from the last one announced.
type BackendTransitionEvent struct {
	baseEvent
	TaskType    string
	Backend     string
	Previous    string
	Switched    bool  // the backend itself changed, not only the task type
	SwitchCount int64 // process-wide switch count after this selection
}

// NewBackendTransitionEvent creates a BackendTransitionEvent.
func NewBackendTransitionEvent(taskType, backend, previous string, switched bool, switchCount int64) BackendTransitionEvent {
	return BackendTransitionEvent{
		baseEvent:   newBaseEvent(TypeBackendTransition),
		TaskType:    taskType,
		Backend:     backend,
		Previous:    previous,
		Switched:    switched,
		SwitchCount: switchCount,
	}
}

// PhaseChangedEvent is emitted when the phase state machine advances.
type PhaseChangedEvent struct {
	baseEvent
	From      string
	To        string // empty when the schedule is exhausted
	Iteration int
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(from, to string, iteration int) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		From:      from,
		To:        to,
		Iteration: iteration,
	}
}

// RoundCompletedEvent is emitted after every implementation round.
type RoundCompletedEvent struct {
	baseEvent
	Iteration    int
	Phase        string
	TaskType     string
	Backend      string
	WriteActions int
	ReadActions  int
	Completion   bool
	Duration     time.Duration
	Err          error
}

// NewRoundCompletedEvent creates a RoundCompletedEvent.
func NewRoundCompletedEvent(iteration int, phase, taskType, backend string) RoundCompletedEvent {
	return RoundCompletedEvent{
		baseEvent: newBaseEvent(TypeRoundCompleted),
		Iteration: iteration,
		Phase:     phase,
		TaskType:  taskType,
		Backend:   backend,
	}
}

// AnalysisLoopEvent is emitted once per idle streak when the number of
// consecutive non-writing rounds reaches the warning threshold.
type AnalysisLoopEvent struct {
	baseEvent
	Iteration       int
	ConsecutiveIdle int
}

// NewAnalysisLoopEvent creates an AnalysisLoopEvent.
func NewAnalysisLoopEvent(iteration, idle int) AnalysisLoopEvent {
	return AnalysisLoopEvent{
		baseEvent:       newBaseEvent(TypeAnalysisLoop),
		Iteration:       iteration,
		ConsecutiveIdle: idle,
	}
}

// StallDetectedEvent is emitted when the stall threshold is reached.
type StallDetectedEvent struct {
	baseEvent
	Iteration       int
	ConsecutiveIdle int
	Threshold       int
}

// NewStallDetectedEvent creates a StallDetectedEvent.
func NewStallDetectedEvent(iteration, idle, threshold int) StallDetectedEvent {
	return StallDetectedEvent{
		baseEvent:       newBaseEvent(TypeStallDetected),
		Iteration:       iteration,
		ConsecutiveIdle: idle,
		Threshold:       threshold,
	}
}

// -----------------------------------------------------------------------------
// Review Events
// -----------------------------------------------------------------------------

// ReviewerUnavailableEvent is emitted when a reviewer cannot be reached.
type ReviewerUnavailableEvent struct {
	baseEvent
	Reviewer string
	Reason   string
}

// NewReviewerUnavailableEvent creates a ReviewerUnavailableEvent.
func NewReviewerUnavailableEvent(reviewer, reason string) ReviewerUnavailableEvent {
	return ReviewerUnavailableEvent{
		baseEvent: newBaseEvent(TypeReviewerUnavailable),
		Reviewer:  reviewer,
		Reason:    reason,
	}
}

// ReviewCompletedEvent is emitted after each cross-review pass.
type ReviewCompletedEvent struct {
	baseEvent
	Iteration      int
	Scores         map[string]float64 // reviewers with data only
	Aggregate      float64
	HasAggregate   bool
	ConsensusCount int
	SingleSource   bool
}

// NewReviewCompletedEvent creates a ReviewCompletedEvent.
func NewReviewCompletedEvent(iteration int, scores map[string]float64, aggregate float64, hasAggregate bool, consensus int, singleSource bool) ReviewCompletedEvent {
	return ReviewCompletedEvent{
		baseEvent:      newBaseEvent(TypeReviewCompleted),
		Iteration:      iteration,
		Scores:         scores,
		Aggregate:      aggregate,
		HasAggregate:   hasAggregate,
		ConsensusCount: consensus,
		SingleSource:   singleSource,
	}
}

// FixAppliedEvent is emitted after a fix batch has been dispatched.
type FixAppliedEvent struct {
	baseEvent
	Iteration    int
	Issues       int
	Backend      string
	WriteActions int
}

// NewFixAppliedEvent creates a FixAppliedEvent.
func NewFixAppliedEvent(iteration, issues int, backend string, writes int) FixAppliedEvent {
	return FixAppliedEvent{
		baseEvent:    newBaseEvent(TypeFixApplied),
		Iteration:    iteration,
		Issues:       issues,
		Backend:      backend,
		WriteActions: writes,
	}
}

// -----------------------------------------------------------------------------
// Run Lifecycle Events
// -----------------------------------------------------------------------------

// IterationRecordedEvent is emitted when a history record is appended.
type IterationRecordedEvent struct {
	baseEvent
	Loop           string
	Iteration      int
	TerminalReason string
}

// NewIterationRecordedEvent creates an IterationRecordedEvent.
func NewIterationRecordedEvent(loop string, iteration int, terminalReason string) IterationRecordedEvent {
	return IterationRecordedEvent{
		baseEvent:      newBaseEvent(TypeIterationRecorded),
		Loop:           loop,
		Iteration:      iteration,
		TerminalReason: terminalReason,
	}
}

// WarningEvent carries a non-fatal run condition.
type WarningEvent struct {
	baseEvent
	Code    string
	Message string
}

// NewWarningEvent creates a WarningEvent.
func NewWarningEvent(code, message string) WarningEvent {
	return WarningEvent{
		baseEvent: newBaseEvent(TypeWarning),
		Code:      code,
		Message:   message,
	}
}

// RunCompletedEvent is emitted once the final report is assembled.
type RunCompletedEvent struct {
	baseEvent
	RunID         string
	StopReason    string
	ImproveReason string
	FinalScore    float64
	HasScore      bool
	Iterations    int
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(runID, stopReason, improveReason string, finalScore float64, hasScore bool, iterations int) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent:     newBaseEvent(TypeRunCompleted),
		RunID:         runID,
		StopReason:    stopReason,
		ImproveReason: improveReason,
		FinalScore:    finalScore,
		HasScore:      hasScore,
		Iterations:    iterations,
	}
}
