package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/pkg/logger"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
	storePath  string

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Fill missing ZIP codes by reverse geocoding and join ZIP demographics",
	Long: `pipeline loads a delimited file of geolocated records, fills missing
postal codes from coordinates, stores the table as Parquet and joins
demographic data for every ZIP code from a local database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-json") {
			loaded.LogJSON = logJSON
		}
		if cmd.Flags().Changed("store") {
			loaded.StorePath = storePath
		}

		if err := logger.InitWithWriter(os.Stderr, loaded.LogJSON); err != nil {
			return err
		}
		if err := logger.SetLevelString(loaded.LogLevel); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $ENRICH_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite file recording runs")
}
