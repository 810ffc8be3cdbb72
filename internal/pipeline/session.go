// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/review-engine/internal/citation"
	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/workflow"
	"github.com/pdiddy/review-engine/pkg/types"
)

// session holds the artifacts of the review being written. Guarded by
// Orchestrator.mu.
type session struct {
	model     string
	modelOpts types.ModelOptions

	topic  string
	format types.CitationFormat

	paradigm  string
	framework string
	sections  map[types.Section]string
	current   string
	history   []types.Message
}

func newSession(format types.CitationFormat) session {
	return session{format: format, sections: make(map[types.Section]string)}
}

// Artifacts is a read-only copy of the session.
type Artifacts struct {
	Model          string                   `json:"model,omitempty"`
	Topic          string                   `json:"topic,omitempty"`
	CitationFormat types.CitationFormat     `json:"citation_format"`
	Paradigm       string                   `json:"paradigm,omitempty"`
	Framework      string                   `json:"framework,omitempty"`
	Sections       map[types.Section]string `json:"sections,omitempty"`
	CurrentContent string                   `json:"current_content,omitempty"`
	History        []types.Message          `json:"history,omitempty"`
}

// Artifacts returns a copy of the session state.
func (o *Orchestrator) Artifacts() Artifacts {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.session
	return Artifacts{
		Model:          s.model,
		Topic:          s.topic,
		CitationFormat: s.format,
		Paradigm:       s.paradigm,
		Framework:      s.framework,
		Sections:       maps.Clone(s.sections),
		CurrentContent: s.current,
		History:        slices.Clone(s.history),
	}
}

// ModelSelection returns the selected model and its options. The LLM
// extraction backend reads it at call time.
func (o *Orchestrator) ModelSelection() (string, types.ModelOptions) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.model, o.session.modelOpts
}

// SelectModel selects an installed model and applies its size class's
// memory preset. Selecting a model completes step 1.
func (o *Orchestrator) SelectModel(ctx context.Context, name string) error {
	models, err := o.d.Model.Models(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	i := slices.IndexFunc(models, func(m llm.Model) bool { return m.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	opts := o.d.Model.OptionsFor(models[i])

	o.mu.Lock()
	o.session.model = name
	o.session.modelOpts = opts
	o.steps.Complete(types.StepModel)
	steps := o.stepsLocked()
	o.mu.Unlock()

	o.log.Info().Str("model", name).Str("spec", models[i].Spec).Int("num_ctx", opts.NumCtx).Msg("model selected")
	o.d.Events.Publish(events.Event{Type: events.StepChanged, Steps: steps})
	return nil
}

// validTopic trims topic and checks its rune length.
func (o *Orchestrator) validTopic(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	n := utf8.RuneCountInString(topic)
	if n < o.cfg.MinTopicLen || n > o.cfg.MaxTopicLen {
		return "", fmt.Errorf("%w: length must be %d to %d characters, got %d",
			ErrInvalidTopic, o.cfg.MinTopicLen, o.cfg.MaxTopicLen, n)
	}
	return topic, nil
}

// SetTopic sets the review topic and citation format. An empty format
// keeps the current one.
func (o *Orchestrator) SetTopic(topic string, format types.CitationFormat) error {
	topic, err := o.validTopic(topic)
	if err != nil {
		return err
	}
	if format != "" && !format.Valid() {
		return fmt.Errorf("unsupported citation format %q", format)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.topic = topic
	if format != "" {
		o.session.format = format
	}
	return nil
}

// SetParadigm stores a user-supplied writing paradigm, such as a saved
// prompt, in place of an analysed one. It completes step 2.
func (o *Orchestrator) SetParadigm(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: paradigm text is empty", ErrPrecondition)
	}
	o.mu.Lock()
	o.session.paradigm = text
	o.steps.Complete(types.StepParadigm)
	steps := o.stepsLocked()
	o.mu.Unlock()

	o.d.Events.Publish(events.Event{Type: events.StepChanged, Steps: steps})
	return nil
}

// ClearHistory drops the refinement conversation and the per-section
// content.
func (o *Orchestrator) ClearHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.history = nil
	o.session.sections = make(map[types.Section]string)
}

// Reset restores an empty session: pool, exemplars, artifacts and steps.
// It is refused while a job runs.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.running != nil {
		o.mu.Unlock()
		return ErrBusy
	}
	o.session = newSession(o.cfg.CitationFormat)
	o.steps.Reset()
	steps := o.stepsLocked()
	o.mu.Unlock()

	o.d.Pool.Clear()
	o.d.Exemplars.Clear()
	o.log.Info().Msg("session reset")
	o.d.Events.Publish(events.Event{Type: events.StepChanged, Steps: steps})
	return nil
}

func (o *Orchestrator) observedLocked() workflow.Observed {
	return workflow.Observed{
		Completed:     o.steps.Completed(),
		ModelSelected: o.session.model != "",
		HasParadigm:   o.session.paradigm != "",
		HasContent:    o.session.current != "",
	}
}

func (o *Orchestrator) stepsLocked() []types.StepState {
	return workflow.States(o.observedLocked())
}

// Steps reports every step's completion and reachability, and the step
// the workflow is positioned on.
func (o *Orchestrator) Steps() ([]types.StepState, types.Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stepsLocked(), o.steps.Current()
}

// CanEnter reports whether step is reachable now.
func (o *Orchestrator) CanEnter(step types.Step) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return workflow.CanEnter(step, o.observedLocked())
}

// CompleteStep marks a step completed explicitly, as the user does when
// finishing step 4.
func (o *Orchestrator) CompleteStep(step types.Step) error {
	o.mu.Lock()
	ok := o.steps.Complete(step)
	steps := o.stepsLocked()
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown step %d", step)
	}
	o.d.Events.Publish(events.Event{Type: events.StepChanged, Steps: steps})
	return nil
}

// CitationStats recomputes the statistics of the current content against
// the pool as it stands now.
func (o *Orchestrator) CitationStats() types.CitationStats {
	o.mu.Lock()
	text := o.session.current
	o.mu.Unlock()
	return citation.ComputeStats(text, o.d.Pool.TotalRefs())
}

// CitationAudit is the diagnostic breakdown of the current content.
func (o *Orchestrator) CitationAudit() citation.Report {
	o.mu.Lock()
	text := o.session.current
	o.mu.Unlock()

	items, st := o.d.Pool.Snapshot()
	indices := make([]int, 0, len(items))
	for _, it := range items {
		indices = append(indices, it.CitationIndex)
	}
	return citation.Audit(text, st.FileCount, indices)
}
