// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"text/template"

	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/pkg/types"
)

// metadataPromptTmpl asks the model for bibliographic fields as one JSON
// object.
var metadataPromptTmpl = template.Must(template.New("metadata").Parse(`You are a bibliographic metadata extractor. Read the beginning of the academic document below and return its metadata.

Respond with one JSON object and nothing else, using exactly these fields:
- "title": the document title
- "authors": array of author names in the order printed
- "year": publication year as a number (0 if unknown)
- "abstract": the abstract text, or "" if there is none
- "keywords": array of keywords, or [] if there are none

Example response:
{"title": "Deep Residual Learning for Image Recognition", "authors": ["Kaiming He", "Xiangyu Zhang"], "year": 2016, "abstract": "Deeper neural networks are more difficult to train.", "keywords": ["residual learning"]}

File name: {{.Filename}}

Document:
{{.Text}}
`))

// promptChars bounds the document text placed in the metadata prompt; the
// fields sit near the top of a paper.
const promptChars = 6000

// Generator is the part of llm.Client the LLM backend needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) iter.Seq2[string, error]
}

// LLMBackend asks the local language model for metadata. Model returns the
// currently selected model name and options at call time.
type LLMBackend struct {
	Client Generator
	Model  func() (string, types.ModelOptions)
}

// ExtractMetadata implements Backend.
func (b *LLMBackend) ExtractMetadata(ctx context.Context, doc Document) (types.Metadata, error) {
	prompt, err := renderPrompt(doc)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("rendering prompt: %w", err)
	}
	model, opts := b.Model()
	opts.Temperature = 0

	text, err := llm.Collect(b.Client.Generate(ctx, llm.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Options: opts,
	}))
	if err != nil {
		return types.Metadata{}, err
	}
	return parseMetadata(text)
}

func renderPrompt(doc Document) (string, error) {
	text := doc.Text
	if len(text) > promptChars {
		text = strings.ToValidUTF8(text[:promptChars], "")
	}
	var buf bytes.Buffer
	if err := metadataPromptTmpl.Execute(&buf, struct{ Filename, Text string }{doc.Filename, text}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// metadataResponse tolerates a year given as a number or a string.
type metadataResponse struct {
	Title    string          `json:"title"`
	Authors  []string        `json:"authors"`
	Year     json.RawMessage `json:"year"`
	Abstract string          `json:"abstract"`
	Keywords []string        `json:"keywords"`
}

// parseMetadata reads the first JSON object in the model output, ignoring
// surrounding prose or code fences.
func parseMetadata(out string) (types.Metadata, error) {
	start := strings.IndexByte(out, '{')
	end := strings.LastIndexByte(out, '}')
	if start < 0 || end < start {
		return types.Metadata{}, fmt.Errorf("%w: no JSON object in model output", ErrMalformed)
	}

	var resp metadataResponse
	if err := json.Unmarshal([]byte(out[start:end+1]), &resp); err != nil {
		return types.Metadata{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	year, err := parseYear(resp.Year)
	if err != nil {
		return types.Metadata{}, fmt.Errorf("%w: year: %v", ErrMalformed, err)
	}
	return types.Metadata{
		Title:    resp.Title,
		Authors:  resp.Authors,
		Year:     year,
		Abstract: resp.Abstract,
		Keywords: resp.Keywords,
	}, nil
}

func parseYear(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
