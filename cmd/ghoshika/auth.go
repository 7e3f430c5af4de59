package main

import (
	"github.com/spf13/cobra"

	"ghoshika/internal/auth"
	"ghoshika/internal/config"
)

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Run the one-time Google authorization flow",
		Long: `Authorize Gmail access interactively.

This command will:
1. Start a local callback server
2. Print an authorization URL to open in a browser
3. Exchange the authorization code for a token with offline access
4. Save the token for the unattended listener to use

Run this once on a machine with a browser, then copy the token file to
the device if needed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			provider, err := auth.NewProvider(cfg.CredentialsFile, cfg.TokenFile)
			if err != nil {
				return err
			}
			return provider.Interactive(cmd.Context())
		},
	}
}
