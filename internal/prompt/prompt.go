// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prompt renders the language-model prompts for each generation
// stage. Every prompt that can cite literature lists the pool's references
// by citation index and states the valid index range.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pdiddy/review-engine/pkg/types"
)

// literatureExcerpt is the default rune limit of the reference summaries.
const literatureExcerpt = 5000

// Ref is one citable reference as shown to the model.
type Ref struct {
	Index    int
	Authors  string
	Year     int
	Title    string
	Abstract string
	Keywords []string
}

// RefsFrom lists the ready items of a pool snapshot as references, in
// citation index order.
func RefsFrom(items []types.LiteratureItem) []Ref {
	refs := make([]Ref, 0, len(items))
	for _, it := range items {
		if it.Status != types.ItemReady || it.Metadata == nil {
			continue
		}
		refs = append(refs, Ref{
			Index:    it.CitationIndex,
			Authors:  strings.Join(it.Metadata.Authors, ", "),
			Year:     it.Metadata.Year,
			Title:    it.Metadata.Title,
			Abstract: it.Metadata.Abstract,
			Keywords: it.Metadata.Keywords,
		})
	}
	return refs
}

// Input carries everything a prompt may draw on. Fields a stage does not
// use are ignored.
type Input struct {
	Topic     string
	Format    types.CitationFormat
	Paradigm  string
	Framework string
	Content   string
	Feedback  string
	Section   types.Section

	// Refs are the citable references; TotalRefs is the pool's highest
	// valid citation index.
	Refs      []Ref
	TotalRefs int

	// MaxContextChars bounds the literature context block.
	MaxContextChars int
}

// Prompt is a rendered request: an optional system prompt and the user
// prompt.
type Prompt struct {
	System string
	User   string
}

var funcs = template.FuncMap{
	"excerpt": Excerpt,
	"context": Context,
	"section": sectionTask,
	"inc":     func(i int) int { return i + 1 },
	"year": func(y int) string {
		if y <= 0 {
			return "n.d."
		}
		return fmt.Sprint(y)
	},
	"authors": func(a string) string {
		if a == "" {
			return "Anonymous"
		}
		return a
	},
}

var tmpl = template.Must(template.New("prompts").Funcs(funcs).Parse(`
{{define "reflist"}}{{range .Refs}}[{{.Index}}] {{authors .Authors}} ({{year .Year}}). {{.Title}}
{{end}}{{end}}

{{define "citation_rules"}}{{if .Refs}}## Citable references ({{len .Refs}}, all supplied by the user)
{{template "reflist" .}}
## Citation rules
1. Cite only the references listed above, using the [N] marker.
2. Valid markers run from [1] to [{{.TotalRefs}}]; never use a number outside that range.
3. Never invent a reference that is not in the list.
4. If no listed reference supports a point, say that the available literature does not cover it.
{{else}}## Citation rules
The user supplied no references. Do not add any citation markers such as [1] or [2]; keep statements general.
{{end}}{{end}}

{{define "paradigm_system"}}You are an expert in academic writing analysis. Study the {{.Count}} published reviews below and distil a reusable writing paradigm.

Analyse them along these dimensions:
1. Overall structure: section organisation, relative length of each part, logical progression.
2. Writing style: register, use of person, terminology, sentence patterns.
3. Argumentation: how the research question is introduced, how literature is organised, compared and concluded on.
4. Abstract: structure, key elements, length.
5. Introduction: background, significance, outline of the paper.
6. Literature review technique: organisation, depth of critique, identification of gaps.
7. Citation practice: format, frequency, direct versus indirect citation.
8. Conclusion: summary, outlook, limitations.

From this analysis, write a detailed prompt template that would guide a model to write a review of the same kind.{{end}}

{{define "paradigm_user"}}{{range $i, $e := .Exemplars}}## Review {{inc $i}}: {{$e.Name}}
{{$e.Text}}

{{end}}{{end}}

{{define "system"}}You are an expert author of academic literature reviews. You are writing a review on "{{.Topic}}".

## Topic constraint
- Everything you write must stay on the topic "{{.Topic}}".
- Every paragraph must have a clear logical link to the topic.

## Citation style
- Cite only the references the user supplies; never fabricate a source.
- Target style: {{.Format.Name}}. In the draft, always mark citations with the numeric form [N]; the reference list is produced separately.
- Every claim, figure and conclusion must point to its source.

## Quality
- Keep an academic, objective register and clear structure.
- Avoid unsupported assertions and speculation.{{end}}

{{define "framework"}}Produce a detailed outline for the literature review below.

## Topic
{{.Topic}}

## Writing paradigm
{{excerpt .Paradigm 3000}}

{{template "citation_rules" .}}
## Reference summaries
{{with context .}}{{.}}{{else}}(No references supplied.){{end}}

## Outline requirements
Include these parts:
1. Abstract: the points it should cover.
2. Introduction: the points it should cover.
3. Methods, where applicable.
4. Main body: a detailed chapter breakdown, each chapter tied to the reference numbers it can cite.
5. Discussion: the main points for discussion.
6. Conclusion: the points to summarise.{{end}}

{{define "content"}}## Topic
{{.Topic}}

## Writing paradigm
{{excerpt .Paradigm 2000}}

## Outline
{{excerpt .Framework 2000}}

{{template "citation_rules" .}}
## Reference summaries
{{with context .}}{{.}}{{else}}(No references supplied.){{end}}

## Task
{{section .}}

Begin.{{end}}

{{define "refine"}}## Topic
{{.Topic}}

## Current content
{{.Content}}

## Reviewer feedback
{{.Feedback}}

{{template "citation_rules" .}}
## Revision requirements
Revise the content according to the feedback while keeping to the topic "{{.Topic}}", the citation rules above and an academic register. Output the complete revised content.{{end}}
`))

// sectionTasks are the per-section instructions for content jobs.
var sectionTasks = map[types.Section]string{
	types.SectionFull: `Write the complete review, with:
1. Abstract (about 300 words)
2. Introduction (about 1000 words)
3. Main body organised into thematic chapters (3000 to 5000 words)
4. Discussion (about 1000 words)
5. Conclusion (about 400 words)`,
	types.SectionAbstract: `Write the abstract of the review on "%s": background and aim, scope and method of the review, main findings and conclusions, 250 to 300 words. The abstract normally carries no citation markers but must rest on the supplied references.`,
	types.SectionIntroduction: `Write the introduction of the review on "%s": background and importance, how the field developed, gaps in existing work, aim and structure of this review, 800 to 1200 words. Cite a source for every significant claim.`,
	types.SectionMethods: `Write the methods section of the review on "%s": search strategy, inclusion and exclusion criteria, screening process and quality assessment where applicable, 400 to 600 words. References included so far: %d.`,
	types.SectionMainBody: `Write the main body of the review on "%s": organise the literature by theme, period or method; analyse and compare each cited work critically; identify trends, patterns and disagreements; use subsection headings. Every claim and figure must carry a [N] citation.`,
	types.SectionDiscussion: `Write the discussion of the review on "%s": synthesise the main findings, their theoretical meaning and practical value, the limitations of existing work and directions for future research, 1000 to 1500 words, supported by the references.`,
	types.SectionConclusion: `Write the conclusion of the review on "%s": the core findings, how the review met its aim, its contribution and recommendations, 300 to 500 words.`,
}

// SectionLabel returns the display name of a section.
func SectionLabel(s types.Section) string {
	switch s {
	case types.SectionFull:
		return "full review"
	case types.SectionMainBody:
		return "main body"
	case "":
		return "full review"
	default:
		return string(s)
	}
}

func sectionTask(in Input) string {
	s := in.Section
	if s == "" {
		s = types.SectionFull
	}
	task, ok := sectionTasks[s]
	if !ok {
		return "Write this part of the review."
	}
	switch s {
	case types.SectionFull:
		return task
	case types.SectionMethods:
		return fmt.Sprintf(task, in.Topic, len(in.Refs))
	default:
		return fmt.Sprintf(task, in.Topic)
	}
}

// Context renders the reference summaries block, cut to MaxContextChars
// runes.
func Context(in Input) string {
	var b strings.Builder
	for _, r := range in.Refs {
		fmt.Fprintf(&b, "[%d] %s\n", r.Index, r.Title)
		if r.Abstract != "" {
			fmt.Fprintf(&b, "Abstract: %s\n", r.Abstract)
		}
		if len(r.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(r.Keywords, ", "))
		}
		b.WriteByte('\n')
	}
	limit := in.MaxContextChars
	if limit <= 0 {
		limit = literatureExcerpt
	}
	return Excerpt(strings.TrimSpace(b.String()), limit)
}

// Excerpt cuts s to at most n runes.
func Excerpt(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Exemplar is one review exemplar's decoded text.
type Exemplar struct {
	Name string
	Text string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Paradigm builds the exemplar analysis prompt.
func Paradigm(exemplars []Exemplar) (Prompt, error) {
	data := struct {
		Count     int
		Exemplars []Exemplar
	}{len(exemplars), exemplars}

	system, err := render("paradigm_system", data)
	if err != nil {
		return Prompt{}, err
	}
	user, err := render("paradigm_user", data)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: system, User: user}, nil
}

// Framework builds the outline prompt. It has no system prompt.
func Framework(in Input) (Prompt, error) {
	user, err := render("framework", in)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{User: user}, nil
}

// Content builds the section or full-review prompt.
func Content(in Input) (Prompt, error) {
	system, err := render("system", in)
	if err != nil {
		return Prompt{}, err
	}
	user, err := render("content", in)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{System: system, User: user}, nil
}

// Refine builds the chat messages for a revision: the system prompt, the
// prior conversation, then the new revision request.
func Refine(in Input, history []types.Message) ([]types.Message, error) {
	system, err := render("system", in)
	if err != nil {
		return nil, err
	}
	user, err := render("refine", in)
	if err != nil {
		return nil, err
	}
	msgs := make([]types.Message, 0, len(history)+2)
	msgs = append(msgs, types.Message{Role: "system", Content: system})
	msgs = append(msgs, history...)
	msgs = append(msgs, types.Message{Role: "user", Content: user})
	return msgs, nil
}
