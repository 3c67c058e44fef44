package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"go-geo-enrich/internal/pipeline"
)

const nullValue = "NULL"

var inspectRows int

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.parquet>",
	Short: "Print the schema and sample rows of a Parquet file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, err := pipeline.ReadParquet(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name: %s\nNumber of rows: %d\n\n", args[0], tbl.NumRows())

		schema := table.NewWriter()
		schema.SetOutputMirror(out)
		schema.Style().Format.Header = text.FormatDefault
		schema.AppendHeader(table.Row{"#", "column", "type", "nulls"})
		for i, col := range tbl.Columns() {
			schema.AppendRow(table.Row{i, col.Name, string(col.Type), tbl.NullCount(col.Name)})
		}
		schema.Render()

		if inspectRows <= 0 || tbl.NumRows() == 0 {
			return nil
		}
		fmt.Fprintln(out, "\nSample:")
		sample := table.NewWriter()
		sample.SetOutputMirror(out)
		sample.Style().Format.Header = text.FormatDefault
		header := make(table.Row, 0, len(tbl.Columns()))
		for _, name := range tbl.ColumnNames() {
			header = append(header, name)
		}
		sample.AppendHeader(header)
		for _, rec := range tbl.Head(inspectRows) {
			row := make(table.Row, 0, len(header))
			for _, name := range tbl.ColumnNames() {
				// go-pretty doesn't expect nil values
				switch v := rec[name].(type) {
				case nil:
					row = append(row, nullValue)
				case time.Time:
					row = append(row, v.Format(time.RFC3339))
				default:
					row = append(row, v)
				}
			}
			sample.AppendRow(row)
		}
		sample.Render()
		return nil
	},
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectRows, "rows", "n", 10, "Number of sample rows to print")
	rootCmd.AddCommand(inspectCmd)
}
