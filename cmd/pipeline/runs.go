package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"go-geo-enrich/internal/pipeline"
	"go-geo-enrich/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.InitDB(cfg.StorePath); err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns()
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.Style().Format.Header = text.FormatDefault
		t.AppendHeader(table.Row{"id", "status", "input", "created", "updated"})
		for _, r := range runs {
			t.AppendRow(table.Row{r.ID, r.Status, r.Spec.Input, r.CreatedAt, r.UpdatedAt})
		}
		t.Render()
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the stages and errors of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.InitDB(cfg.StorePath); err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s: %s\nInput: %s\nCreated: %s\n", run.ID, run.Status, run.Spec.Input, run.CreatedAt)

		progress, err := store.StageProgress(run.ID)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.Style().Format.Header = text.FormatDefault
		t.AppendHeader(table.Row{"stage", "status"})
		for _, stage := range []string{
			pipeline.StageIngest, pipeline.StageTransform, pipeline.StageValidate, pipeline.StageGeocode,
			pipeline.StageExport, pipeline.StageEnrich, pipeline.StageFinal,
		} {
			if status, ok := progress[stage]; ok {
				t.AppendRow(table.Row{stage, status})
			}
		}
		t.Render()

		errs, err := store.RunErrors(run.ID)
		if err != nil {
			return err
		}
		for _, e := range errs {
			fmt.Fprintf(out, "error: %s\n", e)
		}
		return nil
	},
}

var runsRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Execute a recorded run again under the same ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.InitDB(cfg.StorePath); err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(args[0])
		if err != nil {
			return err
		}
		// open dependencies for the stored spec, not the current config
		pipeline.ApplySpec(cfg, run.Spec)
		if err := cfg.Validate(); err != nil {
			return err
		}

		summary, err := execute(cmd.Context(), cfg, func(ctx context.Context, deps pipeline.Deps) (*pipeline.Summary, error) {
			return pipeline.RetryRun(ctx, run.ID, cfg, deps)
		})
		if summary != nil {
			printSummary(cmd.OutOrStdout(), summary)
		}
		return err
	},
}

func init() {
	runsCmd.AddCommand(runsShowCmd, runsRetryCmd)
	rootCmd.AddCommand(runsCmd)
}
