// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/internal/export"
	"github.com/pdiddy/review-engine/internal/ingest"
	"github.com/pdiddy/review-engine/internal/pipeline"
	"github.com/pdiddy/review-engine/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Write a review end to end without the HTTP server",
	Long: `Run loads exemplar reviews and literature from directories, then drives the
stages in order: paradigm analysis (skipped with --paradigm-file), metadata
extraction, outline and content. The content is streamed to stdout and
exported with its reference list to --out.`,
	Example: `  review-engine run --exemplars reviews/ --literature papers/ \
    --topic "graph neural networks for drug discovery" --model qwen2.5:14b`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("exemplars", "", "directory of published reviews to learn the writing paradigm from")
	runCmd.Flags().String("literature", "", "directory of reference documents (pdf, txt)")
	runCmd.Flags().String("paradigm-file", "", "use this paradigm text instead of analysing exemplars")
	runCmd.Flags().String("topic", "", "review topic")
	runCmd.Flags().String("model", "", "model name (default: llm.model from config)")
	runCmd.Flags().String("section", string(types.SectionFull), "section to write: full, abstract, introduction, methods, main_body, discussion, conclusion")
	runCmd.Flags().String("format", "", "citation format: apa, gb, mla, harvard (default from config)")
	runCmd.Flags().String("out", "", "export directory (default: export.output_dir)")
	runCmd.Flags().Bool("quiet", false, "do not stream generated text to stdout")
	_ = runCmd.MarkFlagRequired("literature")
	_ = runCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	exemplarDir, _ := cmd.Flags().GetString("exemplars")
	literatureDir, _ := cmd.Flags().GetString("literature")
	paradigmFile, _ := cmd.Flags().GetString("paradigm-file")
	topic, _ := cmd.Flags().GetString("topic")
	model, _ := cmd.Flags().GetString("model")
	section, _ := cmd.Flags().GetString("section")
	format, _ := cmd.Flags().GetString("format")
	outDir, _ := cmd.Flags().GetString("out")
	quiet, _ := cmd.Flags().GetBool("quiet")

	if exemplarDir == "" && paradigmFile == "" {
		return fmt.Errorf("one of --exemplars or --paradigm-file is required")
	}
	if model == "" {
		model = cfg.LLM.Model
	}
	if model == "" {
		return fmt.Errorf("no model given; pass --model or set llm.model")
	}
	citeFormat := cfg.Generation.CitationFormat
	if format != "" {
		citeFormat = types.CitationFormat(format)
	}
	if outDir == "" {
		outDir = cfg.Export.OutputDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown")
		}
	}()

	var stdout io.Writer = cmd.OutOrStdout()
	if quiet {
		stdout = io.Discard
	}
	stopStream := streamProgress(a.bus, stdout, cmd.ErrOrStderr())
	defer stopStream()

	if err := a.orch.SelectModel(ctx, model); err != nil {
		return err
	}
	if err := a.orch.SetTopic(topic, citeFormat); err != nil {
		return err
	}

	if paradigmFile != "" {
		data, err := os.ReadFile(paradigmFile)
		if err != nil {
			return fmt.Errorf("reading paradigm file: %w", err)
		}
		if err := a.orch.SetParadigm(string(data)); err != nil {
			return err
		}
	} else {
		if _, err := loadDir(exemplarDir, func(data []byte, name string) error {
			_, err := a.exemplars.Submit(data, name)
			return err
		}); err != nil {
			return err
		}
		if _, err := runStage(ctx, a.orch, pipeline.Request{Stage: types.StageParadigm}); err != nil {
			return err
		}
	}

	n, err := loadDir(literatureDir, func(data []byte, name string) error {
		_, err := a.pool.Submit(data, name)
		return err
	})
	if err != nil {
		return err
	}
	if n > 0 {
		job, err := runStage(ctx, a.orch, pipeline.Request{Stage: types.StageLiteratureProcess})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), job.Output)
		if st := a.pool.Status(); st.State != types.PoolReady {
			return fmt.Errorf("literature pool is %s after extraction; check the failed files", st.State)
		}
	}

	if _, err := runStage(ctx, a.orch, pipeline.Request{Stage: types.StageFramework}); err != nil {
		return err
	}
	job, err := runStage(ctx, a.orch, pipeline.Request{Stage: types.StageContent, Section: types.Section(section)})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout)

	items, st := a.pool.Snapshot()
	doc, err := export.Build(job.Output, items, st.FileCount, export.Options{
		Title:  topic,
		Format: citeFormat,
		Dense:  cfg.Export.Dense,
		Now:    time.Now(),
	})
	if err != nil {
		return err
	}
	files, err := export.Write(outDir, doc)
	if err != nil {
		return err
	}

	w := cmd.ErrOrStderr()
	if job.Stats != nil {
		fmt.Fprintf(w, "Citations: %d markers, %d of %d references cited\n",
			job.Stats.CitationCount, len(job.Stats.CitedIndices), job.Stats.TotalRefs)
	}
	fmt.Fprintf(w, "Wrote %s\n", files.Markdown)
	fmt.Fprintf(w, "Wrote %s\n", files.BibTeX)
	fmt.Fprintf(w, "Wrote %s\n", files.References)
	fmt.Fprintf(w, "Wrote %s\n", files.CSL)
	return nil
}

// runStage starts one job and waits for it. A job that does not complete
// is an error carrying its reason. Interrupting ctx cancels the job.
func runStage(ctx context.Context, o *pipeline.Orchestrator, req pipeline.Request) (types.GenerationJob, error) {
	if _, err := o.Start(ctx, req); err != nil {
		return types.GenerationJob{}, err
	}
	job, err := o.Wait(ctx)
	if err != nil {
		_ = o.Cancel()
		return types.GenerationJob{}, fmt.Errorf("%s: %w", req.Stage, err)
	}
	if job.Status != types.JobCompleted {
		return job, fmt.Errorf("%s job %s: %s", req.Stage, job.Status, job.ErrorReason)
	}
	return job, nil
}

// loadDir submits every regular file in dir, in name order. Rejected
// uploads are reported and skipped; it returns the number accepted.
func loadDir(dir string, submit func(data []byte, name string) error) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	accepted := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return accepted, err
		}
		if err := submit(data, e.Name()); err != nil {
			var rej *ingest.Rejection
			if errors.As(err, &rej) {
				logger.Warn().Str("file", rej.Filename).Str("reason", string(rej.Reason)).Str("detail", rej.Detail).Msg("file rejected")
				continue
			}
			return accepted, err
		}
		accepted++
	}
	return accepted, nil
}

// streamProgress writes content chunks to out and stage progress to
// status until the returned func is called.
func streamProgress(bus *events.Bus, out, status io.Writer) func() {
	ch, unsubscribe := bus.Subscribe(4096)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range ch {
			switch e.Type {
			case events.JobChunk:
				if e.Stage == types.StageContent {
					fmt.Fprint(out, e.Chunk)
				}
			case events.JobProgress:
				fmt.Fprintf(status, "[%s] %3d%% %s\n", e.Stage, e.Percentage, e.Message)
			case events.JobFailed:
				fmt.Fprintf(status, "[%s] failed: %s\n", e.Stage, e.Reason)
			}
		}
	}()
	return func() {
		unsubscribe()
		wg.Wait()
	}
}
