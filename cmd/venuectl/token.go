package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/venuepay/internal/config"
	"github.com/example/venuepay/internal/models"
	"github.com/example/venuepay/internal/utils"
)

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue an access token for a user, signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			switch models.UserRole(role) {
			case models.RoleOwner, models.RoleGuest, models.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.TokenExpires
			}
			token, err := utils.GenerateToken(cfg.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(models.RoleOwner), "role claim (owner, guest, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_TTL_HOURS)")
	return cmd
}
