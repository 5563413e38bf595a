package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kyb-worker",
	Short: "Company verification and hybrid risk-scoring pipeline",
	Long:  "Consumes verification jobs, runs WHOIS/DNS/MX/website/phone checks, scores risk via weighted rules plus an LLM adjustment, and persists versioned analyses.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
