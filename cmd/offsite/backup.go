package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adapt/offsite/internal/app"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Make a backup now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			report, err := a.RunBackup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", success("Backup completed"), report.RunID)
			for _, u := range report.Uploads {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", u.Key)
			}
			return nil
		})
	},
}
