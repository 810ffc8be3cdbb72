// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/internal/extract"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/pool"
	"github.com/pdiddy/review-engine/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

// fakeModel streams scripted fragments. When gate is set, it blocks
// before the first fragment until gate is closed or ctx ends.
type fakeModel struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	gate     chan struct{}
	started  chan struct{}
	panicMsg string

	generateReqs []llm.GenerateRequest
	chatReqs     []llm.ChatRequest
}

func (f *fakeModel) Models(context.Context) ([]llm.Model, error) {
	return []llm.Model{
		{Name: "big:14b", Size: 30 << 30, Spec: "14B"},
		{Name: "small:1.5b", Size: 1 << 30, Spec: "1.5B"},
	}, nil
}

func (f *fakeModel) OptionsFor(m llm.Model) types.ModelOptions {
	if m.Spec == "14B" {
		return types.ModelOptions{NumCtx: 4096, NumBatch: 256}
	}
	return types.ModelOptions{NumCtx: 16384, NumBatch: 1024}
}

func (f *fakeModel) seq(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if f.started != nil {
			close(f.started)
		}
		if f.panicMsg != "" {
			panic(f.panicMsg)
		}
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				yield("", context.Cause(ctx))
				return
			}
		}
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func (f *fakeModel) Generate(ctx context.Context, req llm.GenerateRequest) iter.Seq2[string, error] {
	f.mu.Lock()
	f.generateReqs = append(f.generateReqs, req)
	f.mu.Unlock()
	return f.seq(ctx)
}

func (f *fakeModel) Chat(ctx context.Context, req llm.ChatRequest) iter.Seq2[string, error] {
	f.mu.Lock()
	f.chatReqs = append(f.chatReqs, req)
	f.mu.Unlock()
	return f.seq(ctx)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeJournal struct {
	mu   sync.Mutex
	jobs []types.GenerationJob
}

func (j *fakeJournal) RecordJob(_ context.Context, job types.GenerationJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs = append(j.jobs, job)
	return nil
}

type fixture struct {
	o       *Orchestrator
	pool    *pool.Pool
	ex      *pool.Exemplars
	model   *fakeModel
	events  *recorder
	journal *fakeJournal
}

func newFixture(t *testing.T, cfg types.GenerationConfig) *fixture {
	t.Helper()
	rec := &recorder{}
	pcfg := types.DefaultConfig().Pool
	f := &fixture{
		pool:    pool.New(pcfg, rec, zerolog.Nop()),
		ex:      pool.NewExemplars(pcfg),
		model:   &fakeModel{chunks: []string{"Graph models ", "[1] and [2]", " differ [7]."}},
		events:  rec,
		journal: &fakeJournal{},
	}
	f.o = New(cfg, Deps{
		Pool:      f.pool,
		Exemplars: f.ex,
		Model:     f.model,
		Journal:   f.journal,
		Events:    rec,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.o.Close(ctx))
	})
	return f
}

// ready prepares a session where framework, content and refine may start.
func (f *fixture) ready(t *testing.T, docs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.o.SelectModel(ctx, "big:14b"))
	require.NoError(t, f.o.SetTopic("graph neural networks", types.FormatAPA))
	require.NoError(t, f.o.SetParadigm("problem, method, evidence"))
	for _, d := range docs {
		it, err := f.pool.Submit([]byte(d), d+".txt")
		require.NoError(t, err)
		require.NoError(t, f.pool.MarkExtracting(it.ID))
		require.NoError(t, f.pool.MarkExtracted(it.ID, types.Metadata{Title: d}))
	}
}

func (f *fixture) run(t *testing.T, req Request) types.GenerationJob {
	t.Helper()
	_, err := f.o.Start(context.Background(), req)
	require.NoError(t, err)
	return f.wait(t)
}

func (f *fixture) wait(t *testing.T) types.GenerationJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := f.o.Wait(ctx)
	require.NoError(t, err)
	return job
}

func defaultCfg() types.GenerationConfig {
	return types.DefaultConfig().Generation
}

// --- tests ---

func TestFramework_CompletesAndStoresOutline(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha", "beta", "gamma")

	job := f.run(t, Request{Stage: types.StageFramework})
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, "Graph models [1] and [2] differ [7].", job.Output)
	assert.Nil(t, job.Stats)
	assert.Equal(t, job.Output, f.o.Artifacts().Framework)

	reqs := f.model.generateReqs
	require.Len(t, reqs, 1)
	assert.Equal(t, "big:14b", reqs[0].Model)
	assert.Equal(t, 4096, reqs[0].Options.NumCtx)
	assert.Empty(t, reqs[0].System)
	assert.Contains(t, reqs[0].Prompt, "[2] Anonymous (n.d.). beta")
	assert.Contains(t, reqs[0].Prompt, "from [1] to [3]")
}

func TestContent_StatsAndEventOrder(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha", "beta", "gamma")
	require.Equal(t, types.JobCompleted, f.run(t, Request{Stage: types.StageFramework}).Status)

	job := f.run(t, Request{Stage: types.StageContent, Section: types.SectionIntroduction})
	require.Equal(t, types.JobCompleted, job.Status)
	require.NotNil(t, job.Stats)
	assert.Equal(t, types.CitationStats{TotalRefs: 3, CitedIndices: []int{1, 2}, CitationCount: 2}, *job.Stats)
	assert.Equal(t, types.SectionIntroduction, job.Section)

	a := f.o.Artifacts()
	assert.Equal(t, job.Output, a.CurrentContent)
	assert.Equal(t, job.Output, a.Sections[types.SectionIntroduction])

	var chunks []string
	for _, e := range f.events.ofType(events.JobChunk) {
		if e.JobID == job.ID {
			chunks = append(chunks, e.Chunk)
		}
	}
	assert.Equal(t, f.model.chunks, chunks)

	var progress []int
	for _, e := range f.events.ofType(events.JobProgress) {
		if e.JobID == job.ID {
			progress = append(progress, e.Percentage)
		}
	}
	assert.Equal(t, []int{33, 66, 100}, progress)

	completed := f.events.ofType(events.JobCompleted)
	require.Len(t, completed, 2)
	assert.Equal(t, job.Output, completed[1].Text)
	assert.Equal(t, job.Stats, completed[1].Stats)

	steps, _ := f.o.Steps()
	assert.True(t, steps[types.StepFramework-1].Completed)
	assert.True(t, steps[types.StepContent-1].Enterable)
}

func TestStart_BusyIsRejected(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha")
	f.model.gate = make(chan struct{})
	f.model.started = make(chan struct{})

	first, err := f.o.Start(context.Background(), Request{Stage: types.StageFramework})
	require.NoError(t, err)
	<-f.model.started

	_, err = f.o.Start(context.Background(), Request{Stage: types.StageFramework})
	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, f.o.Busy())

	cur, ok := f.o.Current()
	require.True(t, ok)
	assert.Equal(t, first.ID, cur.ID)
	assert.Equal(t, types.JobRunning, cur.Status)

	close(f.model.gate)
	job := f.wait(t)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.False(t, f.o.Busy())
}

func TestStart_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		req   Request
		want  string
	}{
		{
			name: "paradigm without exemplars",
			req:  Request{Stage: types.StageParadigm},
			want: "no review exemplars",
		},
		{
			name: "paradigm without model",
			setup: func(t *testing.T, f *fixture) {
				_, err := f.ex.Submit([]byte("a review"), "review.txt")
				require.NoError(t, err)
			},
			req:  Request{Stage: types.StageParadigm},
			want: "no model selected",
		},
		{
			name: "literature on empty pool",
			setup: func(t *testing.T, f *fixture) {
				f.o.d.Extractor = extract.NewAdapter(nil, nil, types.ExtractionConfig{}, nil, zerolog.Nop())
			},
			req:  Request{Stage: types.StageLiteratureProcess},
			want: "pool is empty",
		},
		{
			name: "framework without topic",
			req:  Request{Stage: types.StageFramework},
			want: "no review topic",
		},
		{
			name: "framework with short topic",
			req:  Request{Stage: types.StageFramework, Topic: "gnn"},
			want: "length must be 5 to 200",
		},
		{
			name: "framework without paradigm",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.o.SetTopic("graph neural networks", ""))
			},
			req:  Request{Stage: types.StageFramework},
			want: "no writing paradigm",
		},
		{
			name: "framework while pool processing",
			setup: func(t *testing.T, f *fixture) {
				f.ready(t)
				_, err := f.pool.Submit([]byte("pending doc"), "p.txt")
				require.NoError(t, err)
			},
			req:  Request{Stage: types.StageFramework},
			want: "literature pool is processing",
		},
		{
			name: "framework while pool in error",
			setup: func(t *testing.T, f *fixture) {
				f.ready(t)
				it, err := f.pool.Submit([]byte("bad doc"), "bad.txt")
				require.NoError(t, err)
				require.NoError(t, f.pool.MarkFailed(it.ID, "malformed: no text"))
			},
			req:  Request{Stage: types.StageFramework},
			want: "literature pool is error",
		},
		{
			name:  "content without framework",
			setup: func(t *testing.T, f *fixture) { f.ready(t, "alpha") },
			req:   Request{Stage: types.StageContent},
			want:  "no framework",
		},
		{
			name:  "content with unknown section",
			setup: func(t *testing.T, f *fixture) { f.ready(t, "alpha") },
			req:   Request{Stage: types.StageContent, Framework: "1. Intro", Section: "epilogue"},
			want:  "unknown section",
		},
		{
			name:  "refine without feedback",
			setup: func(t *testing.T, f *fixture) { f.ready(t, "alpha") },
			req:   Request{Stage: types.StageRefine, Content: "Draft."},
			want:  "no feedback",
		},
		{
			name:  "refine without content",
			setup: func(t *testing.T, f *fixture) { f.ready(t, "alpha") },
			req:   Request{Stage: types.StageRefine, Feedback: "Shorter."},
			want:  "no content to refine",
		},
		{
			name: "unknown stage",
			req:  Request{Stage: "publish"},
			want: "unknown stage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultCfg())
			if tt.setup != nil {
				tt.setup(t, f)
			}
			_, err := f.o.Start(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPrecondition)
			var pe *PreconditionError
			require.True(t, errors.As(err, &pe))
			assert.Contains(t, pe.Reason, tt.want)

			_, ok := f.o.Current()
			assert.False(t, ok, "no job may be created")
		})
	}
}

func TestFramework_EmptyPoolNeedsNoReadiness(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t)
	job := f.run(t, Request{Stage: types.StageFramework})
	assert.Equal(t, types.JobCompleted, job.Status)
}

func TestCancel_LeavesPriorContentAndPool(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha", "beta")
	require.Equal(t, types.JobCompleted, f.run(t, Request{Stage: types.StageContent, Framework: "1. Intro"}).Status)
	before := f.o.Artifacts()
	poolBefore, statusBefore := f.pool.Snapshot()
	stepsBefore, _ := f.o.Steps()

	f.model.gate = make(chan struct{})
	f.model.started = make(chan struct{})
	_, err := f.o.Start(context.Background(), Request{Stage: types.StageContent, Section: types.SectionAbstract, Framework: "1. Intro"})
	require.NoError(t, err)
	<-f.model.started
	require.NoError(t, f.o.Cancel())

	job := f.wait(t)
	assert.Equal(t, types.JobCancelled, job.Status)
	assert.True(t, strings.HasPrefix(job.ErrorReason, ReasonCancelled+":"), job.ErrorReason)
	assert.Nil(t, job.Stats)

	after := f.o.Artifacts()
	assert.Equal(t, before.CurrentContent, after.CurrentContent)
	assert.NotContains(t, after.Sections, types.SectionAbstract)
	poolAfter, statusAfter := f.pool.Snapshot()
	assert.Equal(t, poolBefore, poolAfter)
	assert.Equal(t, statusBefore, statusAfter)
	stepsAfter, _ := f.o.Steps()
	assert.Equal(t, stepsBefore, stepsAfter)

	require.Len(t, f.events.ofType(events.JobCancelled), 1)
	assert.Empty(t, f.events.ofType(events.JobFailed))
	assert.ErrorIs(t, f.o.Cancel(), ErrNoJob)
}

func TestTimeout_FailsWithTimeoutReason(t *testing.T) {
	cfg := defaultCfg()
	cfg.Timeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	f.ready(t)
	f.model.gate = make(chan struct{})
	defer close(f.model.gate)

	job := f.run(t, Request{Stage: types.StageFramework})
	assert.Equal(t, types.JobFailed, job.Status)
	assert.True(t, strings.HasPrefix(job.ErrorReason, ReasonTimeout+":"), job.ErrorReason)
	assert.Empty(t, f.o.Artifacts().Framework)

	failed := f.events.ofType(events.JobFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ErrorReason, failed[0].Reason)
}

func TestGenerationErrors(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		err    error
		prefix string
	}{
		{"unavailable", []string{"partial "}, llm.ErrUnavailable, ReasonUnavailable},
		{"malformed", nil, llm.ErrMalformedResponse, ReasonMalformed},
		{"other", nil, errors.New("boom"), ReasonGeneration},
		{"empty response", nil, nil, ReasonMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultCfg())
			f.ready(t, "alpha")
			f.model.chunks, f.model.err = tt.chunks, tt.err

			job := f.run(t, Request{Stage: types.StageContent, Framework: "1. Intro"})
			assert.Equal(t, types.JobFailed, job.Status)
			assert.True(t, strings.HasPrefix(job.ErrorReason, tt.prefix+":"), job.ErrorReason)
			assert.Equal(t, strings.Join(tt.chunks, ""), job.Output)
			assert.Empty(t, f.o.Artifacts().CurrentContent)
			assert.Equal(t, types.PoolReady, f.pool.Status().State)
		})
	}
}

func TestPanicFailsJob(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t)
	f.model.panicMsg = "model exploded"

	job := f.run(t, Request{Stage: types.StageFramework})
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Contains(t, job.ErrorReason, "model exploded")
	assert.False(t, f.o.Busy())
}

func TestRefine_AppendsHistory(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha", "beta")
	require.Equal(t, types.JobCompleted, f.run(t, Request{Stage: types.StageContent, Framework: "1. Intro"}).Status)

	f.model.chunks = []string{"Shorter [1]."}
	job := f.run(t, Request{Stage: types.StageRefine, Feedback: "  Make it shorter. "})
	require.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, &types.CitationStats{TotalRefs: 2, CitedIndices: []int{1}, CitationCount: 1}, job.Stats)

	a := f.o.Artifacts()
	assert.Equal(t, "Shorter [1].", a.CurrentContent)
	assert.Equal(t, []types.Message{
		{Role: "user", Content: "Make it shorter."},
		{Role: "assistant", Content: "Shorter [1]."},
	}, a.History)

	f.model.chunks = []string{"Shortest."}
	require.Equal(t, types.JobCompleted, f.run(t, Request{Stage: types.StageRefine, Feedback: "Even shorter."}).Status)
	require.Len(t, f.model.chatReqs, 2)
	msgs := f.model.chatReqs[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Make it shorter.", msgs[1].Content)
	assert.Contains(t, msgs[3].Content, "Shorter [1].")

	f.o.ClearHistory()
	a = f.o.Artifacts()
	assert.Empty(t, a.History)
	assert.Empty(t, a.Sections)
}

func TestParadigm(t *testing.T) {
	f := newFixture(t, defaultCfg())
	for _, name := range []string{"one.txt", "two.txt"} {
		_, err := f.ex.Submit([]byte("Published review "+name), name)
		require.NoError(t, err)
	}
	require.NoError(t, f.o.SelectModel(context.Background(), "small:1.5b"))
	f.model.chunks = []string{"Use a problem-first structure."}

	job := f.run(t, Request{Stage: types.StageParadigm})
	require.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, "Use a problem-first structure.", f.o.Artifacts().Paradigm)

	req := f.model.generateReqs[0]
	assert.Contains(t, req.System, "Study the 2 published reviews")
	assert.Contains(t, req.Prompt, "Published review two.txt")
	assert.Equal(t, 16384, req.Options.NumCtx)

	var progress []int
	for _, e := range f.events.ofType(events.JobProgress) {
		progress = append(progress, e.Percentage)
	}
	assert.Equal(t, []int{25, 50, 75, 100}, progress)

	steps, current := f.o.Steps()
	assert.True(t, steps[types.StepParadigm-1].Completed)
	assert.Equal(t, types.StepFramework, current)
}

type metaBackend struct{}

func (metaBackend) ExtractMetadata(_ context.Context, doc extract.Document) (types.Metadata, error) {
	if strings.Contains(doc.Text, "corrupt") {
		return types.Metadata{}, extract.ErrMalformed
	}
	return types.Metadata{Title: strings.ToUpper(doc.Filename), Authors: []string{"A. Author"}}, nil
}

func TestLiteratureProcess(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.o.d.Extractor = extract.NewAdapter(metaBackend{}, nil,
		types.ExtractionConfig{Concurrency: 2, MaxRetries: 1, RetryBackoff: time.Millisecond, Timeout: time.Second}, nil, zerolog.Nop())
	for _, body := range []string{"first paper", "second paper", "third corrupt paper"} {
		_, err := f.pool.Submit([]byte(body), strings.ReplaceAll(body, " ", "-")+".txt")
		require.NoError(t, err)
	}
	require.Equal(t, types.PoolProcessing, f.pool.Status().State)

	job := f.run(t, Request{Stage: types.StageLiteratureProcess})
	require.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, "extracted 2, failed 1, skipped 0", job.Output)

	st := f.pool.Status()
	assert.Equal(t, types.PoolError, st.State)
	assert.Equal(t, 2, st.ReadyCount)
	assert.Equal(t, 1, st.FailedCount)

	var last events.Event
	for _, e := range f.events.ofType(events.JobProgress) {
		last = e
	}
	assert.Equal(t, 100, last.Percentage)

	// Removing the failed item leaves a ready pool.
	items, _ := f.pool.Snapshot()
	for _, it := range items {
		if it.Status == types.ItemFailed {
			require.NoError(t, f.pool.Remove(it.ID))
		}
	}
	assert.Equal(t, types.PoolReady, f.pool.Status().State)
}

func TestStream_OutputAccumulatesEveryFragment(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha")
	f.model.chunks = make([]string, 2000)
	for i := range f.model.chunks {
		f.model.chunks[i] = fmt.Sprintf("w%d ", i)
	}

	job := f.run(t, Request{Stage: types.StageContent, Framework: "1. Intro"})
	require.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, strings.Join(f.model.chunks, ""), job.Output)
	assert.Len(t, f.events.ofType(events.JobChunk), len(f.model.chunks))
}

func TestSelectModel(t *testing.T) {
	f := newFixture(t, defaultCfg())
	err := f.o.SelectModel(context.Background(), "missing:7b")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.False(t, f.o.CanEnter(types.StepParadigm))

	require.NoError(t, f.o.SelectModel(context.Background(), "small:1.5b"))
	name, opts := f.o.ModelSelection()
	assert.Equal(t, "small:1.5b", name)
	assert.Equal(t, 1024, opts.NumBatch)
	assert.True(t, f.o.CanEnter(types.StepParadigm))
	require.NotEmpty(t, f.events.ofType(events.StepChanged))
}

func TestSetTopic(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		format types.CitationFormat
		err    bool
	}{
		{"ok", "  graph neural networks  ", "", false},
		{"too short", "gnn", "", true},
		{"runes not bytes", "图神经网络", types.FormatGB, false},
		{"too long", strings.Repeat("x", 201), "", true},
		{"bad format", "graph neural networks", "chicago", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultCfg())
			err := f.o.SetTopic(tt.topic, tt.format)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.topic), f.o.Artifacts().Topic)
		})
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha")
	f.model.gate = make(chan struct{})
	f.model.started = make(chan struct{})
	_, err := f.o.Start(context.Background(), Request{Stage: types.StageFramework})
	require.NoError(t, err)
	<-f.model.started

	assert.ErrorIs(t, f.o.Reset(), ErrBusy)
	close(f.model.gate)
	f.wait(t)

	require.NoError(t, f.o.Reset())
	a := f.o.Artifacts()
	assert.Empty(t, a.Model)
	assert.Empty(t, a.Paradigm)
	assert.Equal(t, types.FormatGB, a.CitationFormat)
	assert.Equal(t, types.PoolEmpty, f.pool.Status().State)
	assert.Zero(t, f.ex.Len())
	steps, current := f.o.Steps()
	assert.Equal(t, types.StepModel, current)
	assert.False(t, steps[0].Completed)
}

func TestCitationStats_RecomputedAgainstPool(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t, "alpha", "beta", "gamma")
	f.model.chunks = []string{"[1] [2] [3] [3]"}
	require.Equal(t, types.JobCompleted, f.run(t, Request{Stage: types.StageContent, Framework: "1. Intro"}).Status)
	assert.Equal(t, 4, f.o.CitationStats().CitationCount)

	items, _ := f.pool.Snapshot()
	require.NoError(t, f.pool.Remove(items[0].ID))
	stats := f.o.CitationStats()
	assert.Equal(t, 2, stats.TotalRefs)
	assert.Equal(t, []int{1, 2}, stats.CitedIndices)

	audit := f.o.CitationAudit()
	assert.Equal(t, []string{"[3]", "[3]"}, audit.OutOfRange)
}

func TestJournalAndHistory(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t)
	job := f.run(t, Request{Stage: types.StageFramework})

	got, ok := f.o.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, job, got)
	_, ok = f.o.Job("nope")
	assert.False(t, ok)

	require.Len(t, f.journal.jobs, 1)
	assert.Equal(t, job.ID, f.journal.jobs[0].ID)
	assert.Equal(t, types.JobCompleted, f.journal.jobs[0].Status)
	assert.NotNil(t, f.journal.jobs[0].StartedAt)
	assert.NotNil(t, f.journal.jobs[0].EndedAt)
}

func TestClose_CancelsRunningJob(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.ready(t)
	f.model.gate = make(chan struct{})
	f.model.started = make(chan struct{})
	_, err := f.o.Start(context.Background(), Request{Stage: types.StageFramework})
	require.NoError(t, err)
	<-f.model.started

	require.NoError(t, f.o.Close(context.Background()))
	cur, ok := f.o.Current()
	require.True(t, ok)
	assert.Equal(t, types.JobCancelled, cur.Status)
	assert.Contains(t, cur.ErrorReason, ErrShutdown.Error())

	_, err = f.o.Start(context.Background(), Request{Stage: types.StageFramework})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestClassify(t *testing.T) {
	cancelled, cancel := context.WithCancelCause(context.Background())
	cancel(ErrCancelled)

	tests := []struct {
		name   string
		ctx    context.Context
		err    error
		status types.JobStatus
	}{
		{"success", context.Background(), nil, types.JobCompleted},
		{"user cancel", cancelled, context.Canceled, types.JobCancelled},
		{"timeout", context.Background(), llm.ErrTimeout, types.JobFailed},
		{"deadline", context.Background(), context.DeadlineExceeded, types.JobFailed},
		{"no model", context.Background(), llm.ErrNoModel, types.JobFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := classify(tt.ctx, tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}
