package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RMahshie/fetbench/internal/datalog"
)

var exportCmd = &cobra.Command{
	Use:   "export <csv> [xlsx]",
	Short: "Convert a sweep log to an Excel workbook",
	Long:  `Reads a sweep CSV and writes it as a single-sheet XLSX file. The output defaults to the CSV path with an .xlsx extension.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath := args[0]
		xlsxPath := strings.TrimSuffix(csvPath, ".csv") + ".xlsx"
		if len(args) == 2 {
			xlsxPath = args[1]
		}

		rows, err := datalog.ExportXLSX(csvPath, xlsxPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", rows, xlsxPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
