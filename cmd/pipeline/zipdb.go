package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go-geo-enrich/internal/model"
	"go-geo-enrich/internal/zipdb"
	"go-geo-enrich/pkg/utils"
)

var zipDBPath string

var zipdbCmd = &cobra.Command{
	Use:   "zipdb",
	Short: "Manage the ZIP code demographics database",
}

var zipdbImportCmd = &cobra.Command{
	Use:   "import <zipcodes.csv>",
	Short: "Load a ZIP code CSV into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := zipdb.Open(zipDBFile())
		if err != nil {
			return err
		}
		defer db.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to open CSV file")
		}
		defer f.Close()

		n, err := db.Import(cmd.Context(), f)
		if err != nil {
			return err
		}
		total, err := db.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d ZIP codes into %s (%d total)\n", n, zipDBFile(), total)
		return nil
	},
}

var zipdbLookupCmd = &cobra.Command{
	Use:   "lookup <zip>...",
	Short: "Print demographics for ZIP codes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := zipdb.Open(zipDBFile())
		if err != nil {
			return err
		}
		defer db.Close()

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.Style().Format.Header = text.FormatDefault
		header := table.Row{"zipcode"}
		for _, f := range model.DemographicFields {
			header = append(header, f.Name)
		}
		t.AppendHeader(header)

		for _, arg := range args {
			zip := utils.NormalizePostalCode(arg)
			d, err := db.Lookup(cmd.Context(), zip)
			if errors.Is(err, zipdb.ErrNotFound) {
				row := table.Row{zip}
				for range model.DemographicFields {
					row = append(row, nullValue)
				}
				t.AppendRow(row)
				continue
			}
			if err != nil {
				return err
			}
			row := table.Row{d.Zipcode}
			for _, f := range model.DemographicFields {
				v := f.Value(d)
				if v == nil {
					v = nullValue
				}
				row = append(row, v)
			}
			t.AppendRow(row)
		}
		t.Render()
		return nil
	},
}

func zipDBFile() string {
	if zipDBPath != "" {
		return zipDBPath
	}
	return cfg.Enrich.DBPath
}

func init() {
	zipdbCmd.PersistentFlags().StringVar(&zipDBPath, "db", "", "Database file (default enrich.db_path)")
	zipdbCmd.AddCommand(zipdbImportCmd, zipdbLookupCmd)
	rootCmd.AddCommand(zipdbCmd)
}
