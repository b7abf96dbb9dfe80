package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adapt/offsite/internal/app"
)

var gdriveAuthCmd = &cobra.Command{
	Use:   "gdrive-auth",
	Short: "Obtain a Google Drive refresh token",
	Long: `Serves the OAuth consent flow for storage.gdrive.client_secret_file on
storage.gdrive.auth_listen_address and prints the refresh token to store in
storage.gdrive.refresh_token.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			token, err := a.AuthorizeGDrive(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", success("Refresh token:"), token)
			return nil
		})
	},
}
