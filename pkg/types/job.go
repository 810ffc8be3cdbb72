// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Stage identifies one generation phase of the review workflow.
type Stage string

const (
	StageParadigm          Stage = "paradigm"
	StageLiteratureProcess Stage = "literature_process"
	StageFramework         Stage = "framework"
	StageContent           Stage = "content"
	StageRefine            Stage = "refine"
)

// Stages lists all stages in workflow order.
var Stages = []Stage{
	StageParadigm,
	StageLiteratureProcess,
	StageFramework,
	StageContent,
	StageRefine,
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	for _, st := range Stages {
		if s == st {
			return true
		}
	}
	return false
}

// Generative reports whether the stage streams model output.
func (s Stage) Generative() bool {
	return s != StageLiteratureProcess
}

// JobStatus tracks a GenerationJob through its lifecycle.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Section selects which part of the review a content job writes.
type Section string

const (
	SectionFull         Section = "full"
	SectionAbstract     Section = "abstract"
	SectionIntroduction Section = "introduction"
	SectionMethods      Section = "methods"
	SectionMainBody     Section = "main_body"
	SectionDiscussion   Section = "discussion"
	SectionConclusion   Section = "conclusion"
)

var validSections = map[Section]bool{
	SectionFull:         true,
	SectionAbstract:     true,
	SectionIntroduction: true,
	SectionMethods:      true,
	SectionMainBody:     true,
	SectionDiscussion:   true,
	SectionConclusion:   true,
}

// Valid reports whether s names a known section.
func (s Section) Valid() bool {
	return validSections[s]
}

// CitationFormat selects the reference list style.
type CitationFormat string

const (
	FormatAPA     CitationFormat = "apa"
	FormatGB      CitationFormat = "gb"
	FormatMLA     CitationFormat = "mla"
	FormatHarvard CitationFormat = "harvard"
)

// Valid reports whether f names a supported citation style.
func (f CitationFormat) Valid() bool {
	switch f {
	case FormatAPA, FormatGB, FormatMLA, FormatHarvard:
		return true
	}
	return false
}

// Name returns the human-readable style name.
func (f CitationFormat) Name() string {
	switch f {
	case FormatAPA:
		return "APA"
	case FormatMLA:
		return "MLA"
	case FormatHarvard:
		return "Harvard"
	default:
		return "GB/T 7714"
	}
}

// Inline describes how the style marks a citation in running text. Every
// style is generated with numeric markers; the author-date forms apply at
// export.
func (f CitationFormat) Inline() string {
	switch f {
	case FormatAPA, FormatHarvard:
		return "(Author, Year)"
	case FormatMLA:
		return "(Author Page)"
	default:
		return "[N]"
	}
}

// CitationStats summarises in-range citation markers in a text.
type CitationStats struct {
	TotalRefs     int   `json:"total_refs" yaml:"total_refs"`
	CitedIndices  []int `json:"cited_indices" yaml:"cited_indices"`
	CitationCount int   `json:"citation_count" yaml:"citation_count"`
}

// GenerationJob is one run of one pipeline stage.
type GenerationJob struct {
	ID        string     `json:"id" yaml:"id"`
	Stage     Stage      `json:"stage" yaml:"stage"`
	Section   Section    `json:"section,omitempty" yaml:"section,omitempty"`
	Status    JobStatus  `json:"status" yaml:"status"`
	Model     string     `json:"model,omitempty" yaml:"model,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`

	// Output accumulates streamed text. For failed or cancelled jobs it
	// holds the partial output for diagnostics only.
	Output string `json:"output" yaml:"output"`

	// ErrorReason is set for failed and cancelled jobs.
	ErrorReason string `json:"error_reason,omitempty" yaml:"error_reason,omitempty"`

	// Stats is set for completed content and refine jobs.
	Stats *CitationStats `json:"citation_stats,omitempty" yaml:"citation_stats,omitempty"`
}

// Duration returns the wall time between start and end, or zero.
func (j GenerationJob) Duration() time.Duration {
	if j.StartedAt == nil || j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(*j.StartedAt)
}

// Step is one of the four user-visible workflow steps.
type Step int

const (
	StepModel     Step = 1
	StepParadigm  Step = 2
	StepFramework Step = 3
	StepContent   Step = 4
)

// StepCount is the number of workflow steps.
const StepCount = 4

// StepState reports one step's completion and reachability.
type StepState struct {
	Step      Step `json:"step" yaml:"step"`
	Completed bool `json:"completed" yaml:"completed"`
	Enterable bool `json:"enterable" yaml:"enterable"`
}
