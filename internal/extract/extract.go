// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract fills in bibliographic metadata for pending literature
// items. Each item is converted to text and handed to a Backend under a
// per-attempt timeout and a bounded retry budget. A failure marks only that
// item failed; the rest of the batch carries on.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pdiddy/review-engine/internal/convert"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/pool"
	"github.com/pdiddy/review-engine/pkg/types"
)

var (
	// ErrTimeout is the cause attached to an attempt that ran past the
	// configured timeout.
	ErrTimeout = errors.New("extraction timed out")

	// ErrMalformed marks backend output that could not be read as
	// metadata.
	ErrMalformed = errors.New("malformed metadata")
)

// Reason prefixes. The part before the colon is stable; the rest is the
// underlying error text.
const (
	ReasonTimeout   = "timeout"
	ReasonMalformed = "malformed"
	ReasonExtractor = "extractor"
	ReasonCancelled = "cancelled"
)

// Document is the input handed to a Backend.
type Document struct {
	ID       string
	Filename string
	Format   types.Format
	Text     string
}

// Backend turns document text into metadata. Implementations must honour
// ctx.
type Backend interface {
	ExtractMetadata(ctx context.Context, doc Document) (types.Metadata, error)
}

// Target is the slice of the pool the adapter drives.
type Target interface {
	Pending() []string
	Get(id string) (types.LiteratureItem, bool)
	Content(id string) ([]byte, bool)
	MarkExtracting(id string) error
	MarkExtracted(id string, md types.Metadata) error
	MarkFailed(id, reason string) error
}

// Recorder receives extraction metrics. observability.Metrics implements
// it.
type Recorder interface {
	RecordExtraction(outcome types.ItemStatus)
	RecordExtractionAttempt()
}

// ProgressFunc is called once per finished item with the count done so far
// and the item as it now stands in the pool.
type ProgressFunc func(done, total int, item types.LiteratureItem)

// BatchSummary holds counts from one Run.
type BatchSummary struct {
	Extracted int
	Skipped   int
	Failed    int
}

// Total returns the number of items the batch looked at.
func (s BatchSummary) Total() int {
	return s.Extracted + s.Skipped + s.Failed
}

// HasFailures reports whether any item failed.
func (s BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// backoffBase is the retry delay used when the config sets none. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// Adapter runs extraction batches against a Target.
type Adapter struct {
	backend   Backend
	converter convert.Converter
	cfg       types.ExtractionConfig
	limiter   *rate.Limiter
	metrics   Recorder
	logger    zerolog.Logger
}

// NewAdapter returns an adapter. converter may be nil when only text files
// are expected; metrics may be nil.
func NewAdapter(backend Backend, converter convert.Converter, cfg types.ExtractionConfig, metrics Recorder, logger zerolog.Logger) *Adapter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = backoffBase
	}
	a := &Adapter{
		backend:   backend,
		converter: converter,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "extract").Logger(),
	}
	if cfg.RatePerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return a
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeReady
	outcomeFailed
)

// Run extracts every item that is pending when the batch starts, at most
// cfg.Concurrency at a time. Per-item progress lines go to w. When ctx is
// cancelled, items not yet started stay pending and items in flight are
// marked failed with a cancelled reason; the returned error is the cause.
func (a *Adapter) Run(ctx context.Context, t Target, progress ProgressFunc, w io.Writer) (BatchSummary, error) {
	if w == nil {
		w = io.Discard
	}
	ids := t.Pending()
	total := len(ids)

	var (
		mu      sync.Mutex
		summary BatchSummary
		done    int
	)

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.Concurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, item := a.extractOne(ctx, t, id)

			mu.Lock()
			defer mu.Unlock()
			done++
			switch out {
			case outcomeReady:
				summary.Extracted++
				fmt.Fprintf(w, "extracted %s\n", item.Filename)
			case outcomeFailed:
				summary.Failed++
				fmt.Fprintf(w, "failed    %s: %s\n", item.Filename, item.ErrorReason)
			default:
				summary.Skipped++
				fmt.Fprintf(w, "skipped   %s\n", id)
			}
			if progress != nil {
				progress(done, total, item)
			}
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Info().
		Int("extracted", summary.Extracted).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("extraction batch finished")

	if ctx.Err() != nil {
		return summary, context.Cause(ctx)
	}
	return summary, nil
}

// extractOne drives one item through extracting to ready or failed. An item
// removed from the pool mid-flight is skipped.
func (a *Adapter) extractOne(ctx context.Context, t Target, id string) (outcome, types.LiteratureItem) {
	if ctx.Err() != nil {
		return outcomeSkipped, types.LiteratureItem{ID: id}
	}
	if err := t.MarkExtracting(id); err != nil {
		return outcomeSkipped, types.LiteratureItem{ID: id}
	}
	item, ok := t.Get(id)
	data, hasData := t.Content(id)
	if !ok || !hasData {
		return outcomeSkipped, types.LiteratureItem{ID: id}
	}

	md, err := a.metadata(ctx, item, data)
	if err != nil {
		reason := Reason(ctx, err)
		if markErr := t.MarkFailed(id, reason); markErr != nil {
			return a.skipped(id, markErr)
		}
		a.record(types.ItemFailed)
		item, _ = t.Get(id)
		return outcomeFailed, item
	}

	if markErr := t.MarkExtracted(id, md); markErr != nil {
		return a.skipped(id, markErr)
	}
	a.record(types.ItemReady)
	item, _ = t.Get(id)
	return outcomeReady, item
}

func (a *Adapter) skipped(id string, err error) (outcome, types.LiteratureItem) {
	if !errors.Is(err, pool.ErrNotFound) {
		a.logger.Warn().Err(err).Str("id", id).Msg("could not record extraction result")
	}
	return outcomeSkipped, types.LiteratureItem{ID: id}
}

func (a *Adapter) record(status types.ItemStatus) {
	if a.metrics != nil {
		a.metrics.RecordExtraction(status)
	}
}

func (a *Adapter) metadata(ctx context.Context, item types.LiteratureItem, data []byte) (types.Metadata, error) {
	text, err := convert.Text(ctx, a.converter, item.Format, data, a.cfg.MaxCharsPerFile)
	if err != nil {
		if ctx.Err() != nil {
			return types.Metadata{}, context.Cause(ctx)
		}
		return types.Metadata{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	md, err := a.callWithRetry(ctx, Document{
		ID:       item.ID,
		Filename: item.Filename,
		Format:   item.Format,
		Text:     text,
	})
	if err != nil {
		return types.Metadata{}, err
	}
	return normalize(md, item.Filename), nil
}

// callWithRetry calls the backend with exponential backoff. Each attempt
// gets its own deadline whose cause is ErrTimeout.
func (a *Adapter) callWithRetry(ctx context.Context, doc Document) (types.Metadata, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * a.cfg.RetryBackoff
			select {
			case <-ctx.Done():
				return types.Metadata{}, context.Cause(ctx)
			case <-time.After(backoff):
			}
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return types.Metadata{}, context.Cause(ctx)
			}
		}

		if a.metrics != nil {
			a.metrics.RecordExtractionAttempt()
		}
		actx, cancel := context.WithTimeoutCause(ctx, a.cfg.Timeout, ErrTimeout)
		md, err := a.backend.ExtractMetadata(actx, doc)
		if err != nil && actx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		cancel()

		if err == nil {
			return md, nil
		}
		if ctx.Err() != nil {
			return types.Metadata{}, context.Cause(ctx)
		}
		lastErr = err
		a.logger.Debug().Err(err).Str("id", doc.ID).Int("attempt", attempt+1).Msg("extraction attempt failed")
	}
	return types.Metadata{}, fmt.Errorf("after %d retries: %w", a.cfg.MaxRetries, lastErr)
}

// Reason renders err as a failure reason whose prefix names its category.
// A ctx that ended on a deadline is a timeout, not a cancellation.
func Reason(ctx context.Context, err error) string {
	category := ReasonExtractor
	switch {
	case isTimeout(err), ctx.Err() != nil && isTimeout(context.Cause(ctx)):
		category = ReasonTimeout
	case ctx.Err() != nil:
		category = ReasonCancelled
	case errors.Is(err, ErrMalformed), errors.Is(err, llm.ErrMalformedResponse):
		category = ReasonMalformed
	}
	return category + ": " + err.Error()
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, llm.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// normalize trims fields and falls back to the file name for a missing
// title.
func normalize(md types.Metadata, filename string) types.Metadata {
	md.Title = strings.TrimSpace(md.Title)
	if md.Title == "" {
		md.Title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	md.Authors = compact(md.Authors)
	md.Keywords = compact(md.Keywords)
	md.Abstract = strings.TrimSpace(md.Abstract)
	if md.Year < 0 {
		md.Year = 0
	}
	return md
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
