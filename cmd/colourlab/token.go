package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/colourlab-core/internal/auth"
)

func (a *app) tokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Long: `token signs a JWT with security.jwt.secret. Operator tokens may start and
cancel experiments; observer tokens are accepted on read-only routes only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ttl == 0 {
				ttl = time.Duration(a.cfg.Security.JWT.TokenTTL) * time.Minute
			}
			token, err := auth.GenerateToken(subject, auth.Role(role), a.cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			a.log.Info("token issued", "subject", subject, "role", role, "ttl", ttl)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject, recorded in the request log")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "operator or observer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.token_ttl minutes)")
	return cmd
}
