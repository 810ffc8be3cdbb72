// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the staged review generation workflow. At most one
// GenerationJob runs at a time; a start request while a job runs is
// refused with ErrBusy. Each job captures the session and pool state it
// needs under the locks, then talks to the model with no lock held.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pdiddy/review-engine/internal/citation"
	"github.com/pdiddy/review-engine/internal/convert"
	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/internal/extract"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/observability"
	"github.com/pdiddy/review-engine/internal/pool"
	"github.com/pdiddy/review-engine/internal/workflow"
	"github.com/pdiddy/review-engine/pkg/types"
)

var (
	// ErrBusy is returned by Start while another job is running.
	ErrBusy = errors.New("a generation job is already running")

	// ErrPrecondition is wrapped by every *PreconditionError.
	ErrPrecondition = errors.New("stage precondition not met")

	// ErrCancelled is the cause attached to a job cancelled by Cancel.
	ErrCancelled = errors.New("cancelled by user")

	// ErrShutdown is the cause attached to a job stopped by Close.
	ErrShutdown = errors.New("orchestrator shutting down")

	// ErrNoJob is returned when there is no job to cancel or wait for.
	ErrNoJob = errors.New("no generation job")

	// ErrUnknownModel is returned by SelectModel for a model the server
	// does not list.
	ErrUnknownModel = errors.New("model not installed")

	// ErrInvalidTopic is returned by SetTopic for a topic of the wrong
	// length.
	ErrInvalidTopic = errors.New("invalid topic")
)

// PreconditionError reports why a stage could not start. No job is created.
type PreconditionError struct {
	Stage  types.Stage
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot start %s: %s", e.Stage, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

func precondition(stage types.Stage, format string, args ...any) error {
	return &PreconditionError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// Failure reason prefixes for failed jobs.
const (
	ReasonTimeout     = "timeout"
	ReasonUnavailable = "unavailable"
	ReasonMalformed   = "malformed"
	ReasonGeneration  = "generation"
	ReasonCancelled   = "cancelled"
)

// Model is the part of llm.Client the orchestrator uses.
type Model interface {
	Models(ctx context.Context) ([]llm.Model, error)
	OptionsFor(m llm.Model) types.ModelOptions
	Generate(ctx context.Context, req llm.GenerateRequest) iter.Seq2[string, error]
	Chat(ctx context.Context, req llm.ChatRequest) iter.Seq2[string, error]
}

// Extractor runs a metadata extraction batch. *extract.Adapter implements
// it.
type Extractor interface {
	Run(ctx context.Context, t extract.Target, progress extract.ProgressFunc, w io.Writer) (extract.BatchSummary, error)
}

// Journal persists terminal jobs. *store.Store implements it.
type Journal interface {
	RecordJob(ctx context.Context, job types.GenerationJob) error
}

// Metrics receives job counters. *observability.Metrics implements it.
type Metrics interface {
	RecordJobStarted(stage types.Stage)
	RecordJobFinished(stage types.Stage, status types.JobStatus, durationSeconds float64)
	RecordJobRejected(stage types.Stage, reason string)
}

// Deps are the collaborators of an Orchestrator. Pool, Exemplars and Model
// are required.
type Deps struct {
	Pool      *pool.Pool
	Exemplars *pool.Exemplars
	Model     Model
	Extractor Extractor

	// Converter reads PDF exemplars; nil limits exemplars to text files.
	Converter convert.Converter

	Journal Journal
	Metrics Metrics
	Events  events.Publisher
	Logger  zerolog.Logger
}

// Request asks for one stage run. Empty optional fields fall back to the
// session state set through SetTopic, SetParadigm and earlier jobs.
type Request struct {
	Stage   types.Stage          `json:"stage"`
	Topic   string               `json:"topic,omitempty"`
	Format  types.CitationFormat `json:"citation_format,omitempty"`
	Section types.Section        `json:"section,omitempty"`

	// Paradigm and Framework override the session's artifacts for this
	// job only.
	Paradigm  string `json:"paradigm,omitempty"`
	Framework string `json:"framework,omitempty"`

	// Content and Feedback drive refine jobs.
	Content  string `json:"content,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// maxJobs bounds the in-memory job history.
const maxJobs = 64

// Orchestrator owns the review session: the selected model, topic, stage
// artifacts, workflow steps and the single running job.
type Orchestrator struct {
	cfg types.GenerationConfig
	d   Deps
	log zerolog.Logger

	mu      sync.Mutex
	session session
	steps   *workflow.Tracker

	running *runningJob
	jobs    map[string]*types.GenerationJob
	order   []string
	closed  bool

	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string
}

// runningJob is the single-flight slot.
type runningJob struct {
	job    *types.GenerationJob
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New returns an orchestrator with an empty session.
func New(cfg types.GenerationConfig, d Deps) *Orchestrator {
	def := types.DefaultConfig().Generation
	if cfg.MinTopicLen <= 0 {
		cfg.MinTopicLen = def.MinTopicLen
	}
	if cfg.MaxTopicLen <= 0 {
		cfg.MaxTopicLen = def.MaxTopicLen
	}
	if !cfg.CitationFormat.Valid() {
		cfg.CitationFormat = def.CitationFormat
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
	}
	if cfg.MaxExemplarChars <= 0 {
		cfg.MaxExemplarChars = def.MaxExemplarChars
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Orchestrator{
		cfg:     cfg,
		d:       d,
		log:     d.Logger.With().Str("component", "pipeline").Logger(),
		session: newSession(cfg.CitationFormat),
		steps:   workflow.NewTracker(),
		jobs:    make(map[string]*types.GenerationJob),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Start validates the request against the stage's preconditions and, if
// no job is running, launches the job in the background. The returned job
// is a copy in queued status. ctx supplies values only; the job outlives
// it and stops through Cancel, its timeout or Close.
func (o *Orchestrator) Start(ctx context.Context, req Request) (types.GenerationJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return types.GenerationJob{}, ErrShutdown
	}
	if o.running != nil {
		o.rejected(req.Stage, "busy")
		return types.GenerationJob{}, ErrBusy
	}
	if !req.Stage.Valid() {
		o.rejected(req.Stage, "precondition")
		return types.GenerationJob{}, precondition(req.Stage, "unknown stage")
	}

	plan, err := o.planLocked(req)
	if err != nil {
		o.rejected(req.Stage, "precondition")
		return types.GenerationJob{}, err
	}

	job := &types.GenerationJob{
		ID:        o.newID(),
		Stage:     req.Stage,
		Section:   plan.section,
		Status:    types.JobQueued,
		Model:     o.session.model,
		CreatedAt: o.now(),
	}
	o.remember(job)

	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	r := &runningJob{job: job, cancel: cancel, done: make(chan struct{})}
	o.running = r

	o.wg.Add(1)
	go o.run(jobCtx, r, plan)

	return *job, nil
}

func (o *Orchestrator) rejected(stage types.Stage, reason string) {
	if o.d.Metrics != nil {
		o.d.Metrics.RecordJobRejected(stage, reason)
	}
}

// remember adds job to the bounded history. Caller holds o.mu.
func (o *Orchestrator) remember(job *types.GenerationJob) {
	o.jobs[job.ID] = job
	o.order = append(o.order, job.ID)
	if len(o.order) > maxJobs {
		delete(o.jobs, o.order[0])
		o.order = o.order[1:]
	}
}

// Cancel stops the running job. The job ends cancelled once its stream
// unwinds; Wait observes that.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running == nil {
		return ErrNoJob
	}
	o.running.cancel(ErrCancelled)
	return nil
}

// Wait blocks until the running job, if any, is terminal and returns it.
// With no job running it returns the most recent job, or ErrNoJob.
func (o *Orchestrator) Wait(ctx context.Context) (types.GenerationJob, error) {
	o.mu.Lock()
	r := o.running
	o.mu.Unlock()

	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return types.GenerationJob{}, context.Cause(ctx)
		}
	}
	job, ok := o.Current()
	if !ok {
		return types.GenerationJob{}, ErrNoJob
	}
	return job, nil
}

// Job returns a copy of a job from this session's history.
func (o *Orchestrator) Job(id string) (types.GenerationJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return types.GenerationJob{}, false
	}
	return copyJob(j), true
}

// Current returns the running job, or the most recent one.
func (o *Orchestrator) Current() (types.GenerationJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running != nil {
		return copyJob(o.running.job), true
	}
	if len(o.order) == 0 {
		return types.GenerationJob{}, false
	}
	return copyJob(o.jobs[o.order[len(o.order)-1]]), true
}

// Busy reports whether a job is running.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running != nil
}

// Close cancels any running job and waits for it to finish. Later Start
// calls return ErrShutdown.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	if o.running != nil {
		o.running.cancel(ErrShutdown)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func copyJob(j *types.GenerationJob) types.GenerationJob {
	c := *j
	if j.Stats != nil {
		s := *j.Stats
		s.CitedIndices = append([]int(nil), j.Stats.CitedIndices...)
		c.Stats = &s
	}
	return c
}

// run drives one job to a terminal status. It never panics out.
func (o *Orchestrator) run(ctx context.Context, r *runningJob, p *plan) {
	defer o.wg.Done()
	defer close(r.done)

	log := observability.WithJob(o.log, r.job.ID, r.job.Stage)

	var cancelTimeout context.CancelFunc = func() {}
	if o.cfg.Timeout > 0 {
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, o.cfg.Timeout, llm.ErrTimeout)
	}
	defer cancelTimeout()
	defer r.cancel(nil)

	o.mu.Lock()
	started := o.now()
	r.job.Status = types.JobRunning
	r.job.StartedAt = &started
	o.mu.Unlock()
	if o.d.Metrics != nil {
		o.d.Metrics.RecordJobStarted(r.job.Stage)
	}
	log.Info().Str("section", string(p.section)).Msg("job started")

	var (
		text string
		err  error
	)
	func() {
		defer func() {
			if v := recover(); v != nil {
				err = fmt.Errorf("panic: %v", v)
			}
		}()
		text, err = p.exec(ctx, &jobRun{o: o, job: r.job, total: p.steps})
	}()

	o.finish(ctx, r, p, text, err, log)
}

// jobRun is handed to a stage's exec func to report progress and stream
// fragments.
type jobRun struct {
	o     *Orchestrator
	job   *types.GenerationJob
	total int
	step  int

	// out accumulates streamed fragments; guarded by o.mu. job.Output
	// aliases its contents.
	out strings.Builder
}

// progress publishes job_progress for the next phase boundary.
func (jr *jobRun) progress(message string) {
	jr.step++
	jr.progressAt(jr.step, jr.total, message)
}

func (jr *jobRun) progressAt(current, total int, message string) {
	jr.o.d.Events.Publish(events.Event{
		Type:       events.JobProgress,
		Stage:      jr.job.Stage,
		JobID:      jr.job.ID,
		Percentage: current * 100 / max(total, 1),
		Message:    message,
	})
}

// stream forwards fragments in emission order and accumulates them into
// the job's output. It stops at the first fragment after ctx ends.
func (jr *jobRun) stream(ctx context.Context, seq iter.Seq2[string, error]) (string, error) {
	for chunk, err := range seq {
		if err != nil {
			return jr.output(), err
		}
		if ctx.Err() != nil {
			return jr.output(), context.Cause(ctx)
		}
		jr.o.mu.Lock()
		jr.out.WriteString(chunk)
		jr.job.Output = jr.out.String()
		jr.o.mu.Unlock()
		jr.o.d.Events.Publish(events.Event{
			Type:  events.JobChunk,
			Stage: jr.job.Stage,
			JobID: jr.job.ID,
			Chunk: chunk,
		})
	}
	if ctx.Err() != nil {
		return jr.output(), context.Cause(ctx)
	}
	return jr.output(), nil
}

func (jr *jobRun) output() string {
	jr.o.mu.Lock()
	defer jr.o.mu.Unlock()
	return jr.job.Output
}

// finish records the terminal status, applies the artifacts of a completed
// job, frees the single-flight slot and publishes the terminal event.
func (o *Orchestrator) finish(ctx context.Context, r *runningJob, p *plan, text string, err error, log zerolog.Logger) {
	status, reason := classify(ctx, err)
	if status == types.JobCompleted && p.stage.Generative() && text == "" {
		status, reason = types.JobFailed, ReasonMalformed+": empty model response"
	}

	var stats *types.CitationStats
	o.mu.Lock()
	ended := o.now()
	job := r.job
	job.EndedAt = &ended
	job.Status = status
	job.ErrorReason = reason
	if !p.stage.Generative() {
		// Non-streaming stages report their result only through text.
		job.Output = text
	}
	if status == types.JobCompleted {
		if p.citable {
			s := citation.ComputeStats(text, p.totalRefs)
			stats = &s
			job.Stats = stats
		}
		if p.apply != nil {
			p.apply(&o.session, text)
		}
		if step, ok := workflow.StepFor(p.stage); ok {
			o.steps.Complete(step)
		}
	}
	o.running = nil
	final := copyJob(job)
	steps := o.stepsLocked()
	o.mu.Unlock()

	if o.d.Metrics != nil {
		o.d.Metrics.RecordJobFinished(final.Stage, final.Status, final.Duration().Seconds())
	}
	if o.d.Journal != nil {
		if err := o.d.Journal.RecordJob(context.WithoutCancel(ctx), final); err != nil {
			log.Warn().Err(err).Msg("recording job")
		}
	}

	ev := events.Event{Stage: final.Stage, JobID: final.ID}
	switch status {
	case types.JobCompleted:
		log.Info().Dur("duration", final.Duration()).Int("chars", len(text)).Msg("job completed")
		ev.Type, ev.Text, ev.Stats = events.JobCompleted, text, stats
	case types.JobCancelled:
		log.Info().Str("reason", reason).Msg("job cancelled")
		ev.Type, ev.Reason = events.JobCancelled, reason
	default:
		log.Warn().Str("reason", reason).Msg("job failed")
		ev.Type, ev.Reason = events.JobFailed, reason
	}
	o.d.Events.Publish(ev)
	if status == types.JobCompleted {
		o.d.Events.Publish(events.Event{Type: events.StepChanged, Steps: steps})
	}
}

// classify maps a job's error to its terminal status and reason. A user
// cancel or shutdown is cancelled; a timeout is failed.
func classify(ctx context.Context, err error) (types.JobStatus, string) {
	cause := context.Cause(ctx)
	switch {
	case err == nil && ctx.Err() == nil:
		return types.JobCompleted, ""
	case errors.Is(cause, ErrCancelled), errors.Is(err, ErrCancelled):
		return types.JobCancelled, ReasonCancelled + ": " + ErrCancelled.Error()
	case errors.Is(cause, ErrShutdown), errors.Is(err, ErrShutdown):
		return types.JobCancelled, ReasonCancelled + ": " + ErrShutdown.Error()
	case err == nil:
		err = cause
	}
	switch {
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.JobFailed, ReasonTimeout + ": " + err.Error()
	case errors.Is(err, llm.ErrUnavailable), errors.Is(err, llm.ErrNoModel):
		return types.JobFailed, ReasonUnavailable + ": " + err.Error()
	case errors.Is(err, llm.ErrMalformedResponse):
		return types.JobFailed, ReasonMalformed + ": " + err.Error()
	}
	return types.JobFailed, ReasonGeneration + ": " + err.Error()
}
