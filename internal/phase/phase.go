// Package phase implements the phase state machine that decides what each
// implementation round is asked to do.
package phase

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/event"
	"github.com/Iron-Ham/crossfix/internal/logging"
	"github.com/Iron-Ham/crossfix/internal/task"
)

// Phase identifies a stage of the implementation loop.
type Phase string

const (
	Implementation      Phase = "implementation"
	SelfReviewAlignment Phase = "self_review_alignment"
)

// Extension returns the phase name of a named extension stage.
func Extension(name string) Phase {
	return Phase("extension:" + name)
}

// IsExtension reports whether p is an extension stage.
func (p Phase) IsExtension() bool {
	return strings.HasPrefix(string(p), "extension:")
}

// String returns the phase name.
func (p Phase) String() string { return string(p) }

// Stage is one entry of the schedule.
type Stage struct {
	Phase Phase
	// Rounds is the number of iterations the stage runs; 0 runs it until a
	// round declares completion.
	Rounds int
	// TaskType pins the task type; empty lets the policy decide.
	TaskType task.Type
	// Objective overrides the built-in objective template.
	Objective string
}

// StagesFromConfig converts the configured schedule.
func StagesFromConfig(phases []config.PhaseConfig) []Stage {
	stages := make([]Stage, 0, len(phases))
	for _, p := range phases {
		s := Stage{
			Rounds:    p.Rounds,
			TaskType:  task.Type(p.TaskType),
			Objective: p.Objective,
		}
		switch p.Kind {
		case config.PhaseSelfReviewAlignment:
			s.Phase = SelfReviewAlignment
		case config.PhaseExtension:
			s.Phase = Extension(p.Name)
		default:
			s.Phase = Implementation
		}
		stages = append(stages, s)
	}
	return stages
}

// Machine walks the schedule. It is driven from the single control
// goroutine and is not safe for concurrent use.
type Machine struct {
	stages []Stage
	index  int
	rounds int
	bus    *event.Bus
	logger *logging.Logger
}

// NewMachine creates a Machine positioned at the first stage.
func NewMachine(stages []Stage, bus *event.Bus, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Machine{
		stages: append([]Stage(nil), stages...),
		bus:    bus,
		logger: logger.WithComponent("phase"),
	}
}

// Current returns the active stage; ok is false once the schedule is exhausted.
func (m *Machine) Current() (stage Stage, ok bool) {
	if m.Exhausted() {
		return Stage{}, false
	}
	return m.stages[m.index], true
}

// Exhausted reports whether every stage has run.
func (m *Machine) Exhausted() bool {
	return m.index >= len(m.stages)
}

// RoundsInStage returns how many rounds the active stage has run.
func (m *Machine) RoundsInStage() int {
	return m.rounds
}

// CompleteRound records a finished round of the active stage and advances
// when the stage's round allotment is used up. It returns true if the
// machine advanced.
func (m *Machine) CompleteRound(iteration int) bool {
	stage, ok := m.Current()
	if !ok {
		return false
	}
	m.rounds++
	if stage.Rounds > 0 && m.rounds >= stage.Rounds {
		m.Advance(iteration)
		return true
	}
	return false
}

// Advance moves to the next stage and reports whether one remains.
func (m *Machine) Advance(iteration int) bool {
	if m.Exhausted() {
		return false
	}
	from := m.stages[m.index].Phase
	m.index++
	m.rounds = 0

	to := Phase("")
	if !m.Exhausted() {
		to = m.stages[m.index].Phase
	}
	m.logger.Info("phase advanced", "from", from.String(), "to", to.String(), "iteration", iteration)
	if m.bus != nil {
		m.bus.Publish(event.NewPhaseChangedEvent(from.String(), to.String(), iteration))
	}
	return !m.Exhausted()
}

// HasNext reports whether a stage follows the active one.
func (m *Machine) HasNext() bool {
	return m.index+1 < len(m.stages)
}

// Policy decides the task type of a round.
type Policy struct {
	// PlanningWindow is the number of leading iterations that may run as
	// analysis while nothing has been written.
	PlanningWindow int
}

// TaskType returns the task type for a round of stage. inLoop forces
// generation so a backend stuck reading is pushed to write.
func (p Policy) TaskType(stage Stage, iteration, produced int, inLoop bool) task.Type {
	if stage.TaskType.IsValid() {
		return stage.TaskType
	}
	if inLoop {
		return task.Generation
	}
	if stage.Phase == Implementation && produced == 0 && iteration <= p.PlanningWindow {
		return task.Analysis
	}
	return task.Generation
}

// Input is what the machine needs to build a round's task.
type Input struct {
	Iteration int
	Plan      string
	WorkDir   string
	// Produced lists the artifacts written so far, in first-written order.
	Produced []string
	InLoop   bool
}

// BuildTask creates the task for the active stage.
func (m *Machine) BuildTask(policy Policy, completionPhrase string, in Input) (task.Task, error) {
	stage, ok := m.Current()
	if !ok {
		return task.Task{}, fmt.Errorf("phase schedule exhausted")
	}

	objective, err := renderObjective(stage, objectiveData{
		WorkDir:          in.WorkDir,
		ArtifactCount:    len(in.Produced),
		CompletionPhrase: completionPhrase,
		Iteration:        in.Iteration,
	})
	if err != nil {
		return task.Task{}, err
	}

	return task.Task{
		Type:      policy.TaskType(stage, in.Iteration, len(in.Produced), in.InLoop),
		Phase:     stage.Phase.String(),
		Iteration: in.Iteration,
		Objective: objective,
		Context:   in.Plan,
		Payload:   producedPayload(in.Produced, in.InLoop),
		WorkDir:   in.WorkDir,
	}, nil
}

func producedPayload(produced []string, inLoop bool) string {
	var sb strings.Builder
	if len(produced) > 0 {
		sb.WriteString("## Files written so far\n\n")
		for _, p := range produced {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}
	if inLoop {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Recent rounds only read files. Stop analyzing and write the next file now.\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
