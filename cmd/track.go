package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/samogod/bookrnn/pkg/database"
)

var trackStatus string

var trackCmd = &cobra.Command{
	Use:   "track [run-id]",
	Short: "Query run and sample tracking database",
	Long:  `List tracked runs, or the samples generated by a single run`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runTrack,
}

func init() {
	trackCmd.Flags().StringVar(&trackStatus, "status", "", "filter runs by status (running, done, failed)")
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) {
	orch := newOrchestrator()
	defer orch.Close()

	db := orch.GetDB()
	if db == nil || !db.IsEnabled() {
		color.Red("Error: Database is not enabled. Please enable it in config.yaml")
		os.Exit(1)
	}

	if len(args) == 0 {
		runs, err := db.QueryRuns(strings.ToUpper(trackStatus))
		if err != nil {
			color.Red("Failed to query database: %v", err)
			os.Exit(1)
		}
		printRuns(runs)
		color.Green("\nTotal runs: %d", len(runs))
		return
	}

	runID := args[0]
	samples, err := db.QuerySamples(runID)
	if err != nil {
		color.Red("Failed to query database: %v", err)
		os.Exit(1)
	}
	if len(samples) == 0 {
		color.Yellow("[INF] Run %s has no samples in database.", runID)
		return
	}

	printSamples(samples)
	color.Green("\nTotal samples: %d", len(samples))
}

func printRuns(runs []database.RunRecord) {
	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt.Valid {
			finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
		}
		data = append(data, []string{
			r.ID,
			r.Mode,
			r.Level,
			r.Backend,
			statusColor(r.Status)(r.Status),
			r.StartedAt.Format("2006-01-02 15:04:05"),
			finished,
		})
	}

	table := newTable([]string{"RUN", "MODE", "LEVEL", "BACKEND", "STATUS", "STARTED", "FINISHED"})
	table.AppendBulk(data)
	table.Render()
}

func printSamples(samples []database.SampleRecord) {
	data := make([][]string, 0, len(samples))
	for _, s := range samples {
		data = append(data, []string{
			fmt.Sprintf("%d", s.Iteration),
			fmt.Sprintf("%.2f", s.Diversity),
			fmt.Sprintf("%.3g", s.Prob),
			preview(s.Text, 60),
			s.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	table := newTable([]string{"ITER", "DIVERSITY", "PROB", "TEXT", "CREATED"})
	table.AppendBulk(data)
	table.Render()
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("   ")
	return table
}

func statusColor(status string) func(string, ...interface{}) string {
	switch status {
	case database.StatusFailed:
		return color.RedString
	case database.StatusRunning:
		return color.YellowString
	default:
		return color.GreenString
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n-3]) + "..."
}
