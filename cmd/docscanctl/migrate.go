package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docscan/internal/bootstrap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the job store schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	_, db, err := bootstrap.OpenRepository(cmd.Context(), cliConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	return nil
}
