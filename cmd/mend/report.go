package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mend/internal/config"
	"mend/internal/report"
	"mend/internal/store"
)

var (
	reportList  bool
	reportJSON  bool
	reportLimit int
)

// reportCmd inspects persisted healing runs
var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show a persisted healing run",
	Long: `Shows the report of a past healing run from the local store.

Without arguments the most recent run is shown. Use --list to enumerate
recorded runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportList, "list", false, "list recorded runs")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print as JSON")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 20, "max runs to list")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if reportList {
		runs, err := st.ListRuns(reportLimit)
		if err != nil {
			return err
		}
		if reportJSON {
			data, err := json.MarshalIndent(runs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		fmt.Print(report.RenderList(runs))
		return nil
	}

	runID := "latest"
	if len(args) == 1 {
		runID = args[0]
	}
	rep, err := st.GetReport(runID)
	if err != nil {
		return err
	}
	if reportJSON {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(report.Render(rep))
	return nil
}
