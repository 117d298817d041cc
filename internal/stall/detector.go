// Package stall detects runs that keep executing rounds without writing
// anything.
package stall

import (
	"sync"

	"github.com/Iron-Ham/crossfix/internal/task"
)

// DefaultThreshold is the number of consecutive non-writing rounds after
// which a run is considered stalled.
const DefaultThreshold = 10

// Detector counts consecutive rounds whose action log contains no write.
// A single write resets the count. It is safe for concurrent use.
type Detector struct {
	mu            sync.Mutex
	threshold     int
	warnThreshold int
	idle          int
	window        [][]task.Action
}

// New creates a Detector. A threshold below 1 uses DefaultThreshold.
// warnThreshold enables InLoop once the idle count reaches it; 0 disables it.
func New(threshold, warnThreshold int) *Detector {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if warnThreshold < 0 || warnThreshold >= threshold {
		warnThreshold = 0
	}
	return &Detector{
		threshold:     threshold,
		warnThreshold: warnThreshold,
	}
}

// Observe records one round.
func (d *Detector) Observe(r task.RoundResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r.WriteCount() > 0 {
		d.idle = 0
		d.window = d.window[:0]
		return
	}

	d.idle++
	d.window = append(d.window, append([]task.Action(nil), r.Actions...))
	if len(d.window) > d.threshold {
		d.window = d.window[len(d.window)-d.threshold:]
	}
}

// IsStalled reports whether the idle count has reached the threshold.
func (d *Detector) IsStalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle >= d.threshold
}

// InLoop reports whether the idle count has reached the warning threshold,
// meaning the backend is reading and planning without producing output.
func (d *Detector) InLoop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.warnThreshold > 0 && d.idle >= d.warnThreshold
}

// Idle returns the current number of consecutive non-writing rounds.
func (d *Detector) Idle() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

// Threshold returns the stall threshold.
func (d *Detector) Threshold() int {
	return d.threshold
}

// WarnThreshold returns the loop warning threshold (0 when disabled).
func (d *Detector) WarnThreshold() int {
	return d.warnThreshold
}

// Evidence returns the action logs of the current idle streak, oldest first,
// capped at the threshold.
func (d *Detector) Evidence() [][]task.Action {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]task.Action, len(d.window))
	for i, actions := range d.window {
		out[i] = append([]task.Action(nil), actions...)
	}
	return out
}

// Reset clears the idle count.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idle = 0
	d.window = d.window[:0]
}
