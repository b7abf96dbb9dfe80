package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/adapt/offsite/internal/app"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run backups on the configured cron schedule",
	Long: `Runs backup.schedule (six-field cron, seconds first) until interrupted,
plus a daily prune of scratch run directories older than
backup.retention_days.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Schedule(ctx)
		})
	},
}
