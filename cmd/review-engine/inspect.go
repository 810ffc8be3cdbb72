// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/citation"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models installed on the model server",
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	client := llm.NewClient(cfg.LLM)
	models, err := client.Models(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(models)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tCLASS\tNUM_CTX")
	for _, m := range models {
		opts := client.OptionsFor(m)
		fmt.Fprintf(tw, "%s\t%.1f GB\t%s\t%d\n", m.Name, m.SizeGB, m.Spec, opts.NumCtx)
	}
	return tw.Flush()
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats FILE",
	Short: "Report citation usage in a generated text",
	Long: `Stats counts [N] citation markers in FILE against a pool of --refs
references. Markers outside 1..refs are listed separately and excluded from
the counts.`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

type statsOutput struct {
	Stats      types.CitationStats `json:"citation_stats"`
	OutOfRange []string            `json:"out_of_range,omitempty"`
	Uncited    []int               `json:"uncited,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	refs, _ := cmd.Flags().GetInt("refs")
	asJSON, _ := cmd.Flags().GetBool("json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	text := string(data)

	indices := make([]int, refs)
	for i := range indices {
		indices[i] = i + 1
	}
	report := citation.Audit(text, refs, indices)
	out := statsOutput{Stats: report.Stats, OutOfRange: report.OutOfRange, Uncited: report.Uncited}

	if asJSON {
		return printJSON(out)
	}
	fmt.Printf("References:   %d\n", out.Stats.TotalRefs)
	fmt.Printf("Markers:      %d\n", out.Stats.CitationCount)
	fmt.Printf("Cited:        %s\n", joinInts(out.Stats.CitedIndices))
	if len(out.Uncited) > 0 {
		fmt.Printf("Uncited:      %s\n", joinInts(out.Uncited))
	}
	if len(out.OutOfRange) > 0 {
		fmt.Printf("Out of range: %s\n", strings.Join(out.OutOfRange, " "))
	}
	return nil
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List finished jobs from the journal",
	RunE:  runJobs,
}

func runJobs(cmd *cobra.Command, _ []string) error {
	stage, _ := cmd.Flags().GetString("stage")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	s, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close()

	jobs, err := s.ListJobs(cmd.Context(), store.JobFilter{
		Stage:  types.Stage(stage),
		Status: types.JobStatus(status),
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	if asJSON {
		if jobs == nil {
			jobs = []types.GenerationJob{}
		}
		return printJSON(jobs)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTAGE\tSTATUS\tMODEL\tCREATED\tDURATION\tREASON")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID[:min(8, len(j.ID))], j.Stage, j.Status, j.Model,
			j.CreatedAt.Local().Format("2006-01-02 15:04"), j.Duration().Round(time.Millisecond), j.ErrorReason)
	}
	return tw.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinInts(ns []int) string {
	if len(ns) == 0 {
		return "-"
	}
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, " ")
}

func init() {
	modelsCmd.Flags().Bool("json", false, "output as JSON")

	statsCmd.Flags().Int("refs", 0, "number of references in the pool")
	statsCmd.Flags().Bool("json", false, "output as JSON")
	_ = statsCmd.MarkFlagRequired("refs")

	jobsCmd.Flags().String("stage", "", "filter by stage")
	jobsCmd.Flags().String("status", "", "filter by status: completed, failed, cancelled")
	jobsCmd.Flags().Int("limit", 20, "maximum jobs to list")
	jobsCmd.Flags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(modelsCmd, statsCmd, jobsCmd)
}
