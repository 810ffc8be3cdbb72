// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pdiddy/review-engine/internal/convert"
	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/internal/extract"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/observability"
	"github.com/pdiddy/review-engine/internal/pipeline"
	"github.com/pdiddy/review-engine/internal/pool"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// app holds the wired components shared by serve and run.
type app struct {
	cfg       types.Config
	logger    zerolog.Logger
	bus       *events.Bus
	metrics   *observability.Metrics
	pool      *pool.Pool
	exemplars *pool.Exemplars
	client    *llm.Client
	converter convert.Converter
	store     *store.Store
	orch      *pipeline.Orchestrator
}

// newApp wires the pool, model client, extraction adapter, journal and
// orchestrator from cfg. A missing PDF converter is logged and leaves the
// engine limited to text files.
func newApp(ctx context.Context, cfg types.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     events.NewBus(),
		metrics: observability.NewMetrics(),
	}
	pub := events.Multi{a.bus, a.metrics}

	a.pool = pool.New(cfg.Pool, pub, logger)
	a.exemplars = pool.NewExemplars(cfg.Pool)
	a.client = llm.NewClient(cfg.LLM)

	conv, err := convert.New(ctx, cfg.Extraction.PDFBackend)
	if err != nil {
		logger.Warn().Err(err).Str("backend", string(cfg.Extraction.PDFBackend)).
			Msg("PDF conversion unavailable; only text files will be read")
	} else {
		a.converter = conv
	}

	a.store, err = store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening job journal: %w", err)
	}

	var backend extract.Backend = extract.HeuristicBackend{}
	if cfg.Extraction.UseLLM {
		backend = &extract.LLMBackend{
			Client: a.client,
			Model:  func() (string, types.ModelOptions) { return a.orch.ModelSelection() },
		}
	}
	adapter := extract.NewAdapter(backend, a.converter, cfg.Extraction, a.metrics, logger)

	a.orch = pipeline.New(cfg.Generation, pipeline.Deps{
		Pool:      a.pool,
		Exemplars: a.exemplars,
		Model:     a.client,
		Extractor: adapter,
		Converter: a.converter,
		Journal:   a.store,
		Metrics:   a.metrics,
		Events:    pub,
		Logger:    logger,
	})
	return a, nil
}

// selectStartupModel selects name if set. Failure is logged; the user can
// select a model later.
func (a *app) selectStartupModel(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := a.orch.SelectModel(ctx, name); err != nil {
		a.logger.Warn().Err(err).Str("model", name).Msg("startup model not selected")
		return
	}
	a.logger.Info().Str("model", name).Msg("model selected")
}

// close stops any running job, then releases the event bus and journal.
func (a *app) close(ctx context.Context) error {
	err := a.orch.Close(ctx)
	a.bus.Close()
	return errors.Join(err, a.store.Close())
}
