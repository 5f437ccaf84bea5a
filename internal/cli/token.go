package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

func newTokenCmd() *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			switch role {
			case model.RoleCustomer, model.RoleAdmin, model.RoleService:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.AccessTTLMin) * time.Minute
			}
			tok, err := utils.IssueAccessToken(cfg.JWTSecret, user, role, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "dev-user", "subject (user ID)")
	cmd.Flags().StringVar(&role, "role", model.RoleCustomer, "CUSTOMER, ADMIN or SERVICE")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ACCESS_TOKEN_TTL_MIN)")
	return cmd
}
