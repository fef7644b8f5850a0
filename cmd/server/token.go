package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/config"
	"github.com/phrazzld/pomo-api/internal/service/auth"
	"github.com/spf13/cobra"
)

// newTokenCmd issues an access token for a user id, for local development
// and smoke tests.
func newTokenCmd() *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAppConfig()
			if err != nil {
				return err
			}
			return printToken(cmd, cfg.Auth, userFlag)
		},
	}
	cmd.Flags().StringVar(&userFlag, "user", "", "user id (UUID) to issue the token for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printToken(cmd *cobra.Command, cfg config.AuthConfig, rawUserID string) error {
	userID, err := uuid.Parse(rawUserID)
	if err != nil || userID == uuid.Nil {
		return fmt.Errorf("invalid user id %q", rawUserID)
	}

	svc, err := auth.NewJWTService(cfg)
	if err != nil {
		return err
	}
	token, err := svc.GenerateToken(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
