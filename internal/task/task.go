// Package task provides the steppable unit of pipeline work and the background runner
// that executes an ordered chain of tasks with progress reporting and cooperative
// cancellation.
package task

import (
	"context"
	"time"
)

// Task is one stage of a pipeline. Its work is split into steps that each persist
// their own output, so a chain can stop between any two steps and resume later.
type Task interface {
	// Name is the progress label of the task.
	Name() string

	// Finished reports whether the task's outputs are already fully computed.
	Finished(ctx context.Context) bool

	// NumSteps returns the number of pending steps. Zero means nothing to do.
	NumSteps(ctx context.Context) int

	// DoStep performs step stepID in [0, NumSteps). Re-running a step must be safe.
	DoStep(ctx context.Context, stepID int) error
}

// Terminal progress labels.
const (
	LabelDone      = "Done"
	LabelCancelled = "Cancelled"
)

// Event is a progress notification. Index is the 1-based position of the task in the
// chain and Count the chain length. Terminal events use LabelDone or LabelCancelled.
type Event struct {
	RunID     string    `json:"run_id"`
	Label     string    `json:"label"`
	Index     int       `json:"index"`
	Count     int       `json:"count"`
	Percent   int       `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether e ends a run.
func (e Event) Terminal() bool {
	return e.Label == LabelDone || e.Label == LabelCancelled
}

// StepFailure records a step that returned an error. The chain continues after it.
type StepFailure struct {
	RunID     string    `json:"run_id"`
	Task      string    `json:"task"`
	Step      int       `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the runner state.
type State int

// Runner states.
const (
	StateIdle State = iota
	StateRunning
	StateCancelRequested
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelRequested:
		return "cancel_requested"
	default:
		return "unknown"
	}
}
