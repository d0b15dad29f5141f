package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/itrontap/internal/provider"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Validate the configured credentials",
	Long: `Performs a login against the configured municipality's portal and reports
whether the credentials are accepted. Nothing is stored: portal sessions
expire after a few minutes, so every cycle re-authenticates anyway.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := newClient(cfg, newLogger())
	if err != nil {
		return err
	}

	if err := client.Login(context.Background()); err != nil {
		if provider.IsAuthError(err) {
			return fmt.Errorf("portal rejected the credentials: %w", err)
		}
		return fmt.Errorf("could not reach the portal: %w", err)
	}

	fmt.Printf("✓ Logged in to %s as %s\n", client.Municipality().Name, cfg.Username)
	return nil
}
