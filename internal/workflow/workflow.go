// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package workflow gates navigation between the four review-writing steps.
package workflow

import (
	"sync"

	"github.com/pdiddy/review-engine/pkg/types"
)

// Observed is the artifact state that can unlock a step without it being
// marked completed through the normal flow.
type Observed struct {
	Completed     [types.StepCount + 1]bool // indexed by step; [0] unused
	ModelSelected bool
	HasParadigm   bool
	HasContent    bool
}

// CanEnter reports whether step may be entered. Step 1 is always open;
// each later step needs the previous step completed or its minimal
// artifact present.
func CanEnter(step types.Step, o Observed) bool {
	switch step {
	case types.StepModel:
		return true
	case types.StepParadigm:
		return o.Completed[types.StepModel] || o.ModelSelected
	case types.StepFramework:
		return o.Completed[types.StepParadigm] || o.HasParadigm
	case types.StepContent:
		return o.Completed[types.StepFramework] || o.HasContent
	}
	return false
}

// States evaluates every step against o.
func States(o Observed) []types.StepState {
	out := make([]types.StepState, 0, types.StepCount)
	for s := types.StepModel; s <= types.StepContent; s++ {
		out = append(out, types.StepState{
			Step:      s,
			Completed: o.Completed[s],
			Enterable: CanEnter(s, o),
		})
	}
	return out
}

// StepFor maps a completed stage to the step it completes. Stages that do
// not complete a step return false.
func StepFor(stage types.Stage) (types.Step, bool) {
	switch stage {
	case types.StageParadigm:
		return types.StepParadigm, true
	case types.StageContent:
		return types.StepFramework, true
	}
	return 0, false
}

// Tracker records completed steps. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	completed [types.StepCount + 1]bool
	current   types.Step
}

// NewTracker returns a tracker positioned on step 1.
func NewTracker() *Tracker {
	return &Tracker{current: types.StepModel}
}

// Complete marks step done and advances the current step past it. It
// reports false for steps outside 1..4.
func (t *Tracker) Complete(step types.Step) bool {
	if step < types.StepModel || step > types.StepContent {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[step] = true
	if next := min(step+1, types.StepContent); next > t.current {
		t.current = next
	}
	return true
}

// Completed returns a copy of the completion flags indexed by step.
func (t *Tracker) Completed() [types.StepCount + 1]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Current returns the step the workflow is positioned on.
func (t *Tracker) Current() types.Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Reset clears all completion flags.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = [types.StepCount + 1]bool{}
	t.current = types.StepModel
}
