// Package cmd defines the venn command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "venn",
	Short: "venn - streaming RAG assistant server",
	Long: `venn serves streaming chat responses for a retrieval-augmented
assistant platform, backed by a two-tier semantic cache (Redis + pgvector)
and per-request step telemetry.

Run "venn serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
