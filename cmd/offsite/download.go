package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adapt/offsite/internal/app"
)

var (
	downloadContainer string
	downloadBackup    string
	downloadDest      string
	downloadExtract   bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and decrypt one backup run",
	Long: `Lists every object whose key starts with the backup prefix, downloads
it, decrypts it next to the destination and removes the ciphertext. A failed
object is reported and the rest still get restored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := stdinPrompter(cmd.OutOrStdout())

		container, err := p.value(downloadContainer, "Container", "container")
		if err != nil {
			return err
		}
		backup, err := p.value(downloadBackup, "Backup", "backup")
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			report, err := a.Download(ctx, container, backup, downloadDest, downloadExtract)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(report.Objects) == 0 {
				fmt.Fprintln(out, warning("No objects found under "+backup))
			}
			for _, o := range report.Objects {
				if o.Err != nil {
					fmt.Fprintf(out, "%s %s: %v\n", failure("Failed:"), o.Key, o.Err)
					continue
				}
				fmt.Fprintf(out, "Downloaded and decrypted: %s\n", success(filepath.Base(o.Path)))
			}

			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d object(s) could not be restored", len(failed), len(report.Objects))
			}
			return nil
		})
	},
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadContainer, "container", "c", "", "storage container")
	downloadCmd.Flags().StringVarP(&downloadBackup, "backup", "b", "", "backup run id or prefix")
	downloadCmd.Flags().StringVar(&downloadDest, "dest", ".", "destination directory")
	downloadCmd.Flags().BoolVar(&downloadExtract, "extract", false, "gunzip .gz files after decrypting")
}
