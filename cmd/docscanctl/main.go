// Package main implements docscanctl, the operator CLI for OCR jobs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docscan/internal/config"
	"github.com/kirillkom/docscan/internal/observability/logging"
)

var rootCmd = &cobra.Command{
	Use:           "docscanctl",
	Short:         "Operate docscan OCR jobs",
	Long:          "docscanctl migrates the job store and inspects, requeues or reruns OCR jobs.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		slog.SetDefault(logging.New("docscanctl", cfg.LogLevel, "text"))
		cliConfig = cfg
		return nil
	},
}

var cliConfig config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
