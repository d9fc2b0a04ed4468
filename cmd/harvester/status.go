package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/opengov-gr/diavgeia-harvester/constants"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many identifiers sit in each pipeline stage",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.states.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	total := 0
	for _, k := range keys {
		n := counts[constants.StageStatus(k)]
		fmt.Printf("%-12s %d\n", k, n)
		total += n
	}
	fmt.Printf("%-12s %d\n", "TOTAL", total)
	return nil
}
