package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index <samples.jsonl>",
	Short: "Bulk index a samples log into Elasticsearch",
	Long:  `Replay a samples log written beside a generated text file into the configured Elasticsearch index`,
	Args:  cobra.ExactArgs(1),
	Run:   runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) {
	orch := newOrchestrator()
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := orch.IndexFile(ctx, args[0]); err != nil {
		color.Red("Indexing failed: %v", err)
		orch.Close()
		os.Exit(1)
	}
	color.Green("[INF] Indexed %s", args[0])
}
