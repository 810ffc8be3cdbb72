// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/review-engine/internal/httputil"
	"github.com/pdiddy/review-engine/pkg/types"
)

func TestMain(m *testing.M) {
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	cfg := types.DefaultConfig().LLM
	cfg.BaseURL = ts.URL + "/"
	cfg.MaxRetries = 2
	return NewClient(cfg)
}

func ndjson(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, l := range lines {
		fmt.Fprintln(w, l)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func TestSpecFor(t *testing.T) {
	const gib = int64(1) << 30
	assert.Equal(t, "14B", SpecFor(21*gib))
	assert.Equal(t, "7B", SpecFor(9*gib))
	assert.Equal(t, "1.5B", SpecFor(8*gib))
	assert.Equal(t, "1.5B", SpecFor(0))
}

func TestModels_SortedWithSpec(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[
			{"name":"small:1.5b","size":1073741824},
			{"name":"big:14b","size":32212254720,"modified_at":"2024-05-01"},
			{"name":"mid:7b","size":10737418240}
		]}`)
	}))

	models, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, "big:14b", models[0].Name)
	assert.Equal(t, "14B", models[0].Spec)
	assert.Equal(t, 30.0, models[0].SizeGB)
	assert.Equal(t, "mid:7b", models[1].Name)
	assert.Equal(t, "7B", models[1].Spec)
	assert.Equal(t, "1.5B", models[2].Spec)
}

func TestModels_Malformed(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	_, err := c.Models(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHealth(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"models":[]}`)
	}))
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHealth_Down(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	cfg := types.DefaultConfig().LLM
	cfg.BaseURL = url
	err := NewClient(cfg).Health(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOptionsFor(t *testing.T) {
	c := NewClient(types.DefaultConfig().LLM)
	opts := c.OptionsFor(Model{Spec: "7B"})
	assert.Equal(t, 8192, opts.NumCtx)
	assert.Equal(t, 512, opts.NumBatch)
	assert.Equal(t, 0.7, opts.Temperature)

	opts = c.OptionsFor(Model{Spec: "unknown"})
	assert.Equal(t, 4096, opts.NumCtx)
}

func TestGenerate_StreamsInOrder(t *testing.T) {
	var got generatePayload
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		ndjson(w,
			`{"response":"Hello","done":false}`,
			``,
			`{"response":", ","done":false}`,
			`{"response":"world","done":false}`,
			`{"response":"","done":true}`,
			`{"response":"ignored after done","done":false}`,
		)
	}))

	var chunks []string
	for chunk, err := range c.Generate(context.Background(), GenerateRequest{
		Model:   "m",
		Prompt:  "p",
		System:  "s",
		Options: types.ModelOptions{Temperature: 0.5},
	}) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	assert.Equal(t, []string{"Hello", ", ", "world"}, chunks)
	assert.True(t, got.Stream)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, "s", got.System)
	assert.Equal(t, 0.5, got.Options.Temperature)
}

func TestChat_UsesMessages(t *testing.T) {
	var got chatPayload
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		ndjson(w,
			`{"message":{"role":"assistant","content":"re"},"done":false}`,
			`{"message":{"role":"assistant","content":"vised"},"done":true}`,
		)
	}))

	text, err := Collect(c.Chat(context.Background(), ChatRequest{
		Model:    "m",
		Messages: []types.Message{{Role: "user", Content: "fix it"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "revised", text)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "fix it", got.Messages[0].Content)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
		partial string
	}{
		{
			name: "server error line",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				ndjson(w, `{"response":"a"}`, `{"error":"model crashed"}`)
			},
			want:    ErrUnavailable,
			partial: "a",
		},
		{
			name: "malformed line",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				ndjson(w, `{"response":"a"}`, `{oops`)
			},
			want:    ErrMalformedResponse,
			partial: "a",
		},
		{
			name: "stream ends without done",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				ndjson(w, `{"response":"a"}`)
			},
			want:    ErrMalformedResponse,
			partial: "a",
		},
		{
			name: "internal server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			want: ErrUnavailable,
		},
		{
			name: "model not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"model 'x' not found"}`, http.StatusNotFound)
			},
			want: ErrNoModel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			text, err := Collect(c.Generate(context.Background(), GenerateRequest{Model: "m"}))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.partial, text)
		})
	}
}

func TestGenerate_NoModel(t *testing.T) {
	c := NewClient(types.DefaultConfig().LLM)
	_, err := Collect(c.Generate(context.Background(), GenerateRequest{}))
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestGenerate_ContextTimeoutIsTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ndjson(w, `{"response":"a"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Collect(c.Generate(ctx, GenerateRequest{Model: "m"}))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGenerate_CancelCauseIsReturned(t *testing.T) {
	errStop := errors.New("user stopped")
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ndjson(w, `{"response":"a"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	var got error
	for chunk, err := range c.Generate(ctx, GenerateRequest{Model: "m"}) {
		if err != nil {
			got = err
			break
		}
		assert.Equal(t, "a", chunk)
		cancel(errStop)
	}
	assert.ErrorIs(t, got, errStop)
	assert.NotErrorIs(t, got, ErrTimeout)
}

func TestGenerate_ConsumerStopsEarly(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ndjson(w, `{"response":"1"}`, `{"response":"2"}`, `{"response":"3","done":true}`)
	}))

	var chunks []string
	for chunk, err := range c.Generate(context.Background(), GenerateRequest{Model: "m"}) {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
		if len(chunks) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"1", "2"}, chunks)
}
