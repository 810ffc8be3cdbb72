// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pdiddy/review-engine/internal/convert"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/prompt"
	"github.com/pdiddy/review-engine/pkg/types"
)

// plan is a validated job: the inputs captured at start and the functions
// that run it and apply its result.
type plan struct {
	stage   types.Stage
	section types.Section

	// steps is the number of progress boundaries the job reports.
	steps int

	// citable jobs get CitationStats against totalRefs, the pool size
	// captured at start.
	citable   bool
	totalRefs int

	exec  func(ctx context.Context, jr *jobRun) (string, error)
	apply func(s *session, text string)
}

// planLocked checks the stage's preconditions and captures its inputs.
// Caller holds o.mu.
func (o *Orchestrator) planLocked(req Request) (*plan, error) {
	switch req.Stage {
	case types.StageParadigm:
		return o.planParadigm()
	case types.StageLiteratureProcess:
		return o.planLiterature()
	case types.StageFramework, types.StageContent, types.StageRefine:
		return o.planGeneration(req)
	}
	return nil, precondition(req.Stage, "unknown stage")
}

func (o *Orchestrator) requireModel(stage types.Stage) error {
	if o.session.model == "" {
		return precondition(stage, "no model selected")
	}
	return nil
}

func (o *Orchestrator) planParadigm() (*plan, error) {
	const stage = types.StageParadigm
	exemplars := o.d.Exemplars.List()
	if len(exemplars) == 0 {
		return nil, precondition(stage, "no review exemplars uploaded")
	}
	if err := o.requireModel(stage); err != nil {
		return nil, err
	}
	model, opts := o.session.model, o.session.modelOpts

	return &plan{
		stage: stage,
		steps: len(exemplars) + 2,
		exec: func(ctx context.Context, jr *jobRun) (string, error) {
			var docs []prompt.Exemplar
			for _, ex := range exemplars {
				jr.progress("reading " + ex.Filename)
				text, err := convert.Text(ctx, o.d.Converter, ex.Format, ex.Data, o.cfg.MaxExemplarChars)
				if err != nil {
					if ctx.Err() != nil {
						return "", context.Cause(ctx)
					}
					o.log.Warn().Err(err).Str("filename", ex.Filename).Msg("skipping unreadable exemplar")
					continue
				}
				docs = append(docs, prompt.Exemplar{Name: ex.Filename, Text: text})
			}
			if len(docs) == 0 {
				return "", errors.New("no exemplar could be read")
			}

			p, err := prompt.Paradigm(docs)
			if err != nil {
				return "", err
			}
			jr.progress(fmt.Sprintf("analysing %d exemplars", len(docs)))
			text, err := jr.stream(ctx, o.d.Model.Generate(ctx, llm.GenerateRequest{
				Model: model, System: p.System, Prompt: p.User, Options: opts,
			}))
			if err != nil {
				return text, err
			}
			jr.progress("paradigm analysis complete")
			return text, nil
		},
		apply: func(s *session, text string) {
			s.paradigm = text
		},
	}, nil
}

func (o *Orchestrator) planLiterature() (*plan, error) {
	const stage = types.StageLiteratureProcess
	if o.d.Extractor == nil {
		return nil, precondition(stage, "no metadata extractor configured")
	}
	st := o.d.Pool.Status()
	if st.FileCount == 0 {
		return nil, precondition(stage, "the literature pool is empty")
	}

	return &plan{
		stage: stage,
		steps: st.FileCount,
		exec: func(ctx context.Context, jr *jobRun) (string, error) {
			jr.progressAt(0, 1, "extracting metadata")
			summary, err := o.d.Extractor.Run(ctx, o.d.Pool, func(done, total int, item types.LiteratureItem) {
				jr.progressAt(done, total, fmt.Sprintf("%s %s", item.Status, item.Filename))
			}, io.Discard)
			return fmt.Sprintf("extracted %d, failed %d, skipped %d",
				summary.Extracted, summary.Failed, summary.Skipped), err
		},
	}, nil
}

// planGeneration covers framework, content and refine, which share the
// topic, paradigm, model and pool readiness preconditions.
func (o *Orchestrator) planGeneration(req Request) (*plan, error) {
	stage := req.Stage
	s := &o.session

	topic := s.topic
	if strings.TrimSpace(req.Topic) != "" {
		topic = req.Topic
	}
	if topic == "" {
		return nil, precondition(stage, "no review topic set")
	}
	topic, err := o.validTopic(topic)
	if err != nil {
		return nil, precondition(stage, "%v", err)
	}

	format := s.format
	if req.Format != "" {
		if !req.Format.Valid() {
			return nil, precondition(stage, "unsupported citation format %q", req.Format)
		}
		format = req.Format
	}

	paradigm := firstNonBlank(req.Paradigm, s.paradigm)
	if paradigm == "" {
		return nil, precondition(stage, "no writing paradigm; run the paradigm stage or supply one")
	}
	if err := o.requireModel(stage); err != nil {
		return nil, err
	}

	items, st := o.d.Pool.Snapshot()
	if st.FileCount > 0 && st.State != types.PoolReady {
		return nil, precondition(stage, "literature pool is %s", st.State)
	}

	in := prompt.Input{
		Topic:           topic,
		Format:          format,
		Paradigm:        paradigm,
		Framework:       firstNonBlank(req.Framework, s.framework),
		Refs:            prompt.RefsFrom(items),
		TotalRefs:       st.FileCount,
		MaxContextChars: o.cfg.MaxContextChars,
	}
	model, opts := s.model, s.modelOpts

	p := &plan{stage: stage, totalRefs: st.FileCount, steps: 3}
	switch stage {
	case types.StageFramework:
		p.exec = func(ctx context.Context, jr *jobRun) (string, error) {
			return o.generate(ctx, jr, "outline", func() (llm.GenerateRequest, error) {
				pr, err := prompt.Framework(in)
				return llm.GenerateRequest{Model: model, Prompt: pr.User, Options: opts}, err
			})
		}
		p.apply = func(s *session, text string) { s.framework = text }

	case types.StageContent:
		if in.Framework == "" {
			return nil, precondition(stage, "no framework; run the framework stage or supply one")
		}
		section := req.Section
		if section == "" {
			section = types.SectionFull
		}
		if !section.Valid() {
			return nil, precondition(stage, "unknown section %q", req.Section)
		}
		in.Section = section
		p.section = section
		p.citable = true
		p.exec = func(ctx context.Context, jr *jobRun) (string, error) {
			return o.generate(ctx, jr, prompt.SectionLabel(section), func() (llm.GenerateRequest, error) {
				pr, err := prompt.Content(in)
				return llm.GenerateRequest{Model: model, System: pr.System, Prompt: pr.User, Options: opts}, err
			})
		}
		p.apply = func(s *session, text string) {
			s.sections[section] = text
			s.current = text
		}

	case types.StageRefine:
		feedback := strings.TrimSpace(req.Feedback)
		if feedback == "" {
			return nil, precondition(stage, "no feedback given")
		}
		content := firstNonBlank(req.Content, s.current)
		if content == "" {
			return nil, precondition(stage, "no content to refine")
		}
		in.Content = content
		in.Feedback = feedback
		history := append([]types.Message(nil), s.history...)
		p.citable = true
		p.steps = 2
		p.exec = func(ctx context.Context, jr *jobRun) (string, error) {
			msgs, err := prompt.Refine(in, history)
			if err != nil {
				return "", err
			}
			jr.progress("revising content")
			text, err := jr.stream(ctx, o.d.Model.Chat(ctx, llm.ChatRequest{Model: model, Messages: msgs, Options: opts}))
			if err != nil {
				return text, err
			}
			jr.progress("revision complete")
			return text, nil
		}
		p.apply = func(s *session, text string) {
			s.current = text
			s.history = append(s.history,
				types.Message{Role: "user", Content: feedback},
				types.Message{Role: "assistant", Content: text},
			)
		}
	}
	return p, nil
}

// generate runs a three-boundary single-turn generation.
func (o *Orchestrator) generate(ctx context.Context, jr *jobRun, what string, build func() (llm.GenerateRequest, error)) (string, error) {
	jr.progress("preparing " + what)
	req, err := build()
	if err != nil {
		return "", err
	}
	jr.progress("generating " + what)
	text, err := jr.stream(ctx, o.d.Model.Generate(ctx, req))
	if err != nil {
		return text, err
	}
	jr.progress(what + " complete")
	return text, nil
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
