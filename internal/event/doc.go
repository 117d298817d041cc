// Package event provides a pub-sub event bus for decoupled communication
// between the crossfix control loops and their observers.
//
// The router, stall detector, consensus engine and history recorder publish
// events; the CLI, metrics and logging subscribe to them. Publishers never
// learn who is listening.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Implementation loop:
//   - [BackendTransitionEvent]: the (task type, backend) pair changed
//   - [PhaseChangedEvent]: the phase state machine advanced
//   - [RoundCompletedEvent]: one round finished
//   - [AnalysisLoopEvent]: consecutive non-writing rounds crossed the warning threshold
//   - [StallDetectedEvent]: consecutive non-writing rounds reached the stall threshold
//
// Review and improvement:
//   - [ReviewerUnavailableEvent]: a reviewer could not be reached
//   - [ReviewCompletedEvent]: a cross-review pass produced scores and consensus
//   - [FixAppliedEvent]: a fix batch was dispatched
//
// Run lifecycle:
//   - [IterationRecordedEvent]: a history record was appended
//   - [WarningEvent]: a non-fatal run condition such as no artifacts produced
//   - [RunCompletedEvent]: the run produced its final report
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine, and a panicking handler is
// recovered so it cannot block delivery to the others.
package event
