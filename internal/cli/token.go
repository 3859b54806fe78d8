package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func (a *app) tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Mint a bearer token for the HTTP API. Staff tokens carry a role
(support or admin); user tokens must name an existing user id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subjectID := strings.TrimSpace(a.v.GetString("token.id"))
			if subjectID == "" {
				return fmt.Errorf("--id is required")
			}
			secret, ttl := a.v.GetString("token.secret"), a.v.GetInt("token.ttl")
			if secret == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				secret = cfg.Auth.JWTSecret
				if ttl <= 0 {
					ttl = cfg.Auth.AccessTokenTTLMinutes
				}
			}

			var (
				subject domain.SubjectType
				role    *auth.StaffRole
			)
			switch strings.ToLower(a.v.GetString("token.subject")) {
			case "user":
				subject = domain.SubjectTypeUser
			case "staff":
				subject = domain.SubjectTypeStaff
				r, err := auth.ParseStaffRole(a.v.GetString("token.role"))
				if err != nil {
					return fmt.Errorf("--role: %w", err)
				}
				role = &r
			default:
				return fmt.Errorf("--subject must be user or staff")
			}

			token, expires, err := auth.NewTokenManager(secret, ttl).Issue(subjectID, subject, role)
			if err != nil {
				return err
			}
			if a.ui.Structured() {
				return a.ui.Encode(map[string]any{"token": token, "expires_at": expires})
			}
			fmt.Fprintln(a.ui.Out, token)
			return nil
		},
	}
	cmd.Flags().String("subject", "staff", "Token subject: user or staff")
	cmd.Flags().String("id", "", "Subject id")
	cmd.Flags().String("role", string(auth.RoleSupport), "Staff role: support or admin")
	cmd.Flags().String("secret", "", "Signing secret (defaults to AUTH_JWT_SECRET)")
	cmd.Flags().Int("ttl", 0, "Lifetime in minutes (defaults to AUTH_ACCESS_TOKEN_TTL_MINUTES)")
	for _, name := range []string{"subject", "id", "role", "secret", "ttl"} {
		_ = a.v.BindPFlag("token."+name, cmd.Flags().Lookup(name))
	}
	return cmd
}
