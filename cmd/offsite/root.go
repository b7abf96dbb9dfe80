package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adapt/offsite/internal/app"
	"github.com/adapt/offsite/internal/config"
)

var (
	cfgFile string
	noColor bool
)

var (
	success = color.New(color.FgGreen, color.Bold).SprintFunc()
	failure = color.New(color.FgRed, color.Bold).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "offsite",
	Short: "Encrypted offsite backups of a site's database and files",
	Long: `offsite dumps the site database, archives its files, snapshots the
environment, encrypts every artifact and uploads it to object storage under
a run prefix. It can later list, download and decrypt a run.

Examples:
  # Run a backup now
  offsite backup

  # Restore one run into ./restore
  offsite download --container site --backup backup-2024-03-09-14-30 --dest restore

  # Run backups on the configured cron schedule
  offsite schedule`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "offsite.yaml", "settings file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(backupCmd, downloadCmd, scheduleCmd, gdriveAuthCmd)
}

// withApp loads settings, builds the application and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return fn(ctx, application)
}
