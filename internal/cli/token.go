package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "signet/internal/jwt_token"
	"signet/pkg/domain"
)

type tokenOutput struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand groups bearer token helpers.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with caller bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(rootOpts))
	return cmd
}

func newTokenIssueCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		identity string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token proving control of an identity",
		Long: `Issue an HS256 token signed with SIGNET_AUTH_JWT_SIGNING_KEY whose subject
is the given identity. Intended for development and operator scripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			subject, err := domain.ParseIdentity(identity)
			if err != nil {
				return fmt.Errorf("invalid --identity: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
			expiresAt := time.Now().Add(ttl).UTC().Truncate(time.Second)
			token, err := svc.IssueToken(subject, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(out).Encode(tokenOutput{Token: token, Subject: subject.String(), ExpiresAt: expiresAt})
			}
			_, err = fmt.Fprintln(out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "identity the token proves control of")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to SIGNET_AUTH_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}
