// SPDX-License-Identifier: Apache-2.0
// Package core defines the shared data model of the Triage orchestration
// layer: trajectories, leaf and composite results, and run identity.
package core

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTrajectoryClosed indicates an append was attempted after the owning
// reasoning loop declared completion.
var ErrTrajectoryClosed = errors.New("core: trajectory is closed")

// Step is one think/act/observe record of a reasoning loop.
// A Step with an empty ToolName is a terminal finish step: it carries the
// closing thought and no observation.
type Step struct {
	Thought     string         `json:"thought"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolArgs    map[string]any `json:"tool_arguments,omitempty"`
	Observation string         `json:"observation,omitempty"`
	At          time.Time      `json:"at"`
}

// Trajectory is the ordered record of a reasoning loop run. It is append-only
// while the loop executes and read-only once closed. Appends are atomic, so a
// trajectory may be observed concurrently (e.g. by the event emitter) while
// the owning loop is still running.
type Trajectory struct {
	ID string `json:"id"`

	mu     sync.RWMutex
	steps  []Step
	closed bool
}

// NewTrajectory creates an empty open trajectory with a generated ID.
func NewTrajectory() *Trajectory {
	return &Trajectory{ID: uuid.NewString()}
}

// Append adds a step in call order. It fails once the trajectory is closed.
func (t *Trajectory) Append(step Step) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTrajectoryClosed
	}
	if step.At.IsZero() {
		step.At = time.Now().UTC()
	}
	t.steps = append(t.steps, step)
	return nil
}

// Close seals the trajectory. Further appends fail with ErrTrajectoryClosed.
// Closing an already closed trajectory is a no-op.
func (t *Trajectory) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Closed reports whether the trajectory has been sealed.
func (t *Trajectory) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Steps returns a copy of the recorded steps in call order.
func (t *Trajectory) Steps() []Step {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// Len returns the number of recorded steps.
func (t *Trajectory) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.steps)
}

// MarshalJSON serializes the trajectory as its ID plus ordered steps.
func (t *Trajectory) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(struct {
		ID    string `json:"id"`
		Steps []Step `json:"steps"`
	}{ID: t.ID, Steps: t.steps})
}

// UnmarshalJSON restores a trajectory from its serialized form. The restored
// trajectory is closed: deserialized runs are history, not live recordings.
func (t *Trajectory) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    string `json:"id"`
		Steps []Step `json:"steps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.mu.Lock()
	t.ID = raw.ID
	t.steps = raw.Steps
	t.closed = true
	t.mu.Unlock()
	return nil
}
