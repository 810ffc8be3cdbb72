// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm is the client for the local language model server. It lists
// installed models, and streams generated text as an ordered sequence of
// fragments that ends with the server's completion marker or an error.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/review-engine/internal/httputil"
	"github.com/pdiddy/review-engine/pkg/types"
)

// Error categories. Every error returned by the client wraps one of these
// or the cause of the caller's context.
var (
	ErrTimeout           = errors.New("model timeout")
	ErrUnavailable       = errors.New("model unavailable")
	ErrMalformedResponse = errors.New("malformed model response")
	ErrNoModel           = errors.New("no model selected")
)

const defaultBaseURL = "http://localhost:11434"

// maxLineBytes bounds one NDJSON line of a streamed response.
const maxLineBytes = 1 << 20

// Client talks to an Ollama-compatible server.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries int
	userAgent  string
	options    types.ModelOptions
	presets    map[string]types.MemoryPreset
}

// NewClient returns a client for cfg.BaseURL. The HTTP timeout bounds a
// whole streamed response.
func NewClient(cfg types.LLMConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		baseURL:    base,
		http:       &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		userAgent:  cfg.UserAgent,
		options:    cfg.Options,
		presets:    cfg.Presets,
	}
}

// Model describes one installed model.
type Model struct {
	Name       string  `json:"name" yaml:"name"`
	Size       int64   `json:"size" yaml:"size"`
	SizeGB     float64 `json:"size_gb" yaml:"size_gb"`
	Spec       string  `json:"spec" yaml:"spec"`
	ModifiedAt string  `json:"modified_at,omitempty" yaml:"modified_at,omitempty"`
}

// SpecFor classifies a model by its on-disk size.
func SpecFor(size int64) string {
	gb := float64(size) / (1 << 30)
	switch {
	case gb > 20:
		return "14B"
	case gb > 8:
		return "7B"
	default:
		return "1.5B"
	}
}

type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

// Models lists installed models, largest first.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("%w: decoding model list: %v", ErrMalformedResponse, err)
	}

	models := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		gb := float64(m.Size) / (1 << 30)
		models = append(models, Model{
			Name:       m.Name,
			Size:       m.Size,
			SizeGB:     math.Round(gb*100) / 100,
			Spec:       SpecFor(m.Size),
			ModifiedAt: m.ModifiedAt,
		})
	}
	sort.SliceStable(models, func(i, j int) bool { return models[i].Size > models[j].Size })
	return models, nil
}

// Health reports whether the server answers.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// OptionsFor returns the configured sampling options with the memory
// preset for the model's size class applied.
func (c *Client) OptionsFor(m Model) types.ModelOptions {
	opts := c.options
	if p, ok := c.presets[m.Spec]; ok {
		opts.NumCtx = p.NumCtx
		opts.NumBatch = p.NumBatch
	}
	return opts
}

// GenerateRequest is one single-turn completion.
type GenerateRequest struct {
	Model   string
	Prompt  string
	System  string
	Options types.ModelOptions
}

// ChatRequest is a multi-turn completion.
type ChatRequest struct {
	Model    string
	Messages []types.Message
	Options  types.ModelOptions
}

type options struct {
	NumCtx        int     `json:"num_ctx,omitempty"`
	NumBatch      int     `json:"num_batch,omitempty"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

func toOptions(o types.ModelOptions) options {
	return options{
		NumCtx:        o.NumCtx,
		NumBatch:      o.NumBatch,
		Temperature:   o.Temperature,
		TopP:          o.TopP,
		RepeatPenalty: o.RepeatPenalty,
	}
}

type generatePayload struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	System  string  `json:"system,omitempty"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type chatPayload struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  options         `json:"options"`
}

// streamLine is one NDJSON object of a streamed response. Generate fills
// Response; Chat fills Message.
type streamLine struct {
	Response string `json:"response"`
	Message  *struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (l streamLine) text() string {
	if l.Message != nil {
		return l.Message.Content
	}
	return l.Response
}

// Generate streams a completion. Fragments are yielded in the order the
// server emits them. The sequence stops after the completion marker, on
// the first error, or when the consumer stops ranging.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if req.Model == "" {
			yield("", ErrNoModel)
			return
		}
		c.stream(ctx, "/api/generate", generatePayload{
			Model:   req.Model,
			Prompt:  req.Prompt,
			System:  req.System,
			Stream:  true,
			Options: toOptions(req.Options),
		}, yield)
	}
}

// Chat streams a multi-turn completion with the same guarantees as
// Generate.
func (c *Client) Chat(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if req.Model == "" {
			yield("", ErrNoModel)
			return
		}
		c.stream(ctx, "/api/chat", chatPayload{
			Model:    req.Model,
			Messages: req.Messages,
			Stream:   true,
			Options:  toOptions(req.Options),
		}, yield)
	}
}

func (c *Client) stream(ctx context.Context, path string, payload any, yield func(string, error) bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		yield("", fmt.Errorf("marshaling request: %w", err))
		return
	}
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		yield("", err)
		return
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var l streamLine
		if err := json.Unmarshal(line, &l); err != nil {
			yield("", fmt.Errorf("%w: %v", ErrMalformedResponse, err))
			return
		}
		if l.Error != "" {
			yield("", fmt.Errorf("%w: %s", ErrUnavailable, l.Error))
			return
		}
		if t := l.text(); t != "" {
			if !yield(t, nil) {
				return
			}
		}
		if l.Done {
			return
		}
	}
	if err := sc.Err(); err != nil {
		yield("", classify(ctx, err))
		return
	}
	if ctx.Err() != nil {
		yield("", classify(ctx, ctx.Err()))
		return
	}
	yield("", fmt.Errorf("%w: stream ended before completion", ErrMalformedResponse))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, c.http, req, c.maxRetries)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	text := strings.TrimSpace(string(msg))
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s returned 404: %s", ErrNoModel, path, text)
	}
	return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, text)
}

// classify maps a transport error onto the client's categories. When the
// caller's context ended, its cause is returned so the caller can tell its
// own timeout from a cancellation.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, cause)
		}
		return cause
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Collect drains a fragment sequence into one string. On error the text
// received so far is returned with it.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
