// Package task defines the unit of work dispatched to a backend each round
// and the result a backend returns for it.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Type is the kind of work a task asks for. Routing selects a backend by Type.
type Type string

const (
	// Generation tasks create or modify artifacts.
	Generation Type = "generation"
	// Analysis tasks read and plan without being expected to write.
	Analysis Type = "analysis"
	// Auxiliary tasks cover everything else (summaries, docs, reviews).
	Auxiliary Type = "auxiliary"
)

// String returns the string representation of the task type.
func (t Type) String() string { return string(t) }

// IsValid reports whether t is a known task type.
func (t Type) IsValid() bool {
	switch t {
	case Generation, Analysis, Auxiliary:
		return true
	}
	return false
}

// ParseType converts a string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// Task is one round's request to a backend. It is created by the phase state
// machine and consumed exactly once.
type Task struct {
	Type      Type
	Phase     string
	Iteration int
	Objective string
	// Context carries the plan or prior-round summary the objective refers to.
	Context string
	// Payload carries phase-specific material such as a fix batch.
	Payload string
	// WorkDir is the artifact root the backend operates in.
	WorkDir string
}

// Prompt renders the task as a single prompt string.
func (t Task) Prompt() string {
	var sb strings.Builder
	sb.WriteString(t.Objective)
	if t.Context != "" {
		sb.WriteString("\n\n## Context\n\n")
		sb.WriteString(t.Context)
	}
	if t.Payload != "" {
		sb.WriteString("\n\n")
		sb.WriteString(t.Payload)
	}
	return sb.String()
}

// RoundResult is what a backend reports for one task.
type RoundResult struct {
	Backend          string
	Content          string
	Actions          []Action
	CompletionSignal bool
	Duration         time.Duration
}

// WriteCount returns the number of write actions in the round.
func (r RoundResult) WriteCount() int {
	return r.count(ActionWrite)
}

// ReadCount returns the number of read actions in the round.
func (r RoundResult) ReadCount() int {
	return r.count(ActionRead)
}

func (r RoundResult) count(kind ActionKind) int {
	n := 0
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// WrittenTargets returns the distinct non-empty targets of write actions in
// first-seen order.
func (r RoundResult) WrittenTargets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.Actions {
		if a.Kind != ActionWrite || a.Target == "" || seen[a.Target] {
			continue
		}
		seen[a.Target] = true
		out = append(out, a.Target)
	}
	return out
}
