package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venn0/venn/internal/app"
	"github.com/venn0/venn/internal/config"
	"github.com/venn0/venn/internal/log"
)

var (
	purgeAssistant   string
	purgeHistoryDays int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge cached answers and expired history",
	Long: `Purge removes cached answers for an assistant from both cache tiers
(exact-match keys and vector points), and optionally deletes durable
conversation history older than a retention window.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if purgeAssistant == "" && purgeHistoryDays <= 0 {
			return fmt.Errorf("nothing to purge: set --assistant and/or --history-days")
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := log.New(log.Config{})
		a, err := app.Setup(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("initializing application: %w", err)
		}
		defer func() {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("shutdown error", "error", closeErr)
			}
		}()

		if purgeAssistant != "" {
			a.Cache.Purge(cmd.Context(), purgeAssistant)
			fmt.Printf("purged cache for assistant %s\n", purgeAssistant)
		}

		if purgeHistoryDays > 0 {
			deleted, err := a.ColdStore.Purge(cmd.Context(), purgeHistoryDays)
			if err != nil {
				return fmt.Errorf("purging history: %w", err)
			}
			fmt.Printf("deleted %d messages older than %d days\n", deleted, purgeHistoryDays)
		}
		return nil
	},
}

func init() {
	purgeCmd.Flags().StringVar(&purgeAssistant, "assistant", "", "assistant scope whose cached answers to purge")
	purgeCmd.Flags().IntVar(&purgeHistoryDays, "history-days", 0, "delete conversation history older than this many days")
	rootCmd.AddCommand(purgeCmd)
}
