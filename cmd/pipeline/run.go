package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/pipeline"
	"go-geo-enrich/internal/store"
	"go-geo-enrich/pkg/metrics"
)

var runFlags struct {
	outputDir   string
	geocoderURL string
	cachePath   string
	zipDB       string
	metricsFile string
	skipGeocode bool
	skipEnrich  bool
}

var runCmd = &cobra.Command{
	Use:   "run [input.csv]",
	Short: "Run the full pipeline on a delimited file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Ingest.Path = args[0]
		}
		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := store.InitDB(cfg.StorePath); err != nil {
			return err
		}
		defer store.Close()

		runID := uuid.NewString()
		if err := store.SaveRun(runID, pipeline.SpecFromConfig(cfg)); err != nil {
			return err
		}

		summary, err := execute(cmd.Context(), cfg, func(ctx context.Context, deps pipeline.Deps) (*pipeline.Summary, error) {
			return pipeline.Run(ctx, runID, cfg, deps)
		})
		if summary != nil {
			printSummary(cmd.OutOrStdout(), summary)
		}
		return err
	},
}

func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		c.OutputDir = runFlags.outputDir
	}
	if flags.Changed("geocoder-url") {
		c.Geocode.BaseURL = runFlags.geocoderURL
	}
	if flags.Changed("geocode-cache") {
		c.Geocode.CachePath = runFlags.cachePath
	}
	if flags.Changed("zipdb") {
		c.Enrich.DBPath = runFlags.zipDB
	}
	if flags.Changed("metrics-file") {
		c.MetricsFile = runFlags.metricsFile
	}
	if runFlags.skipGeocode {
		c.Geocode.Skip = true
	}
	if runFlags.skipEnrich {
		c.Enrich.Skip = true
	}
}

// execute opens the run's dependencies, cancels on SIGINT/SIGTERM and
// calls fn.
func execute(ctx context.Context, c *config.Config, fn func(context.Context, pipeline.Deps) (*pipeline.Summary, error)) (*pipeline.Summary, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := pipeline.OpenDeps(c, metrics.Default())
	if err != nil {
		return nil, err
	}
	defer closeDeps()
	return fn(ctx, deps)
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	fmt.Fprintf(w, "\nRun %s: %d rows in %v\n", s.RunID, s.Rows, s.Duration.Round(time.Millisecond))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"stage", "status", "records", "errors", "duration"})
	for _, st := range s.Stages {
		t.AppendRow(table.Row{st.StageName, st.Status, st.RecordsProcessed, st.ErrorCount, st.Duration.Round(time.Millisecond)})
	}
	t.Render()

	fmt.Fprintf(w, "Postal codes filled: %d of %d candidates (%d failed, %d from cache)\n",
		len(s.Geocode.Filled), s.Geocode.Candidates, s.Geocode.Failed, s.Geocode.CacheHits)
	if rt := s.RoundTrip; rt != nil {
		fmt.Fprintf(w, "Parquet: %s, %d bytes (CSV %d bytes, ratio %.2f), write %v, read %v\n",
			rt.Write.Path, rt.Write.Bytes, rt.CSVBytes, rt.Ratio, rt.Write.Duration.Round(time.Millisecond), rt.Read.Duration.Round(time.Millisecond))
	}
	if len(s.Enrich.Queried) > 0 {
		fmt.Fprintf(w, "ZIP codes: %d distinct, %d matched, %d of %d rows enriched\n",
			len(s.Enrich.Queried), s.Enrich.Matched, s.Enrich.RowsMatched, s.Rows)
	}
	if s.Output != nil {
		fmt.Fprintf(w, "Output: %s (%s, %d records)\n", s.Output.Path, s.Output.Type, s.Output.RecordCount)
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.outputDir, "output-dir", "o", "", "Directory for per-run output")
	f.StringVar(&runFlags.geocoderURL, "geocoder-url", "", "Nominatim base URL")
	f.StringVar(&runFlags.cachePath, "geocode-cache", "", "bbolt file caching geocoder answers")
	f.StringVar(&runFlags.zipDB, "zipdb", "", "ZIP code demographics database")
	f.StringVar(&runFlags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	f.BoolVar(&runFlags.skipGeocode, "skip-geocode", false, "Do not fill missing postal codes")
	f.BoolVar(&runFlags.skipEnrich, "skip-enrich", false, "Do not join demographics")
	rootCmd.AddCommand(runCmd)
}
