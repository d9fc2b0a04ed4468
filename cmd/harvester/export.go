package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opengov-gr/diavgeia-harvester/internal/export"
)

var flagExportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an XLSX index of the published structured records",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&flagExportOut, "out", "decisions.xlsx", "output XLSX path")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	svc := export.NewService(a.records, a.logger)
	data, err := svc.IndexXLSX(cmd.Context())
	if err != nil {
		return err
	}
	if err := os.WriteFile(flagExportOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", flagExportOut, err)
	}

	fmt.Printf("wrote %s (%d bytes)\n", flagExportOut, len(data))
	return nil
}
