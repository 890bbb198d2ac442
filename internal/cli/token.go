package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lessonstate/internal/config"
	"github.com/roach88/lessonstate/internal/state"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Identity string
	TTL      time.Duration
}

// TokenResult is the JSON payload of the token command.
type TokenResult struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
	TTL      string `json:"ttl"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an identity",
		Long: `Mint a signed bearer token that a client presents to "lessonstate serve".

Signing uses LESSONSTATE_JWT_SECRET and LESSONSTATE_JWT_ISSUER, so the
token is only accepted by servers sharing that secret.

Example:
  lessonstate token --identity u1
  lessonstate token --identity u1 --ttl 1h --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Identity, "identity", "", "identity the token names (required)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime, overrides LESSONSTATE_TOKEN_TTL")
	_ = cmd.MarkFlagRequired("identity")

	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(func(c *config.Config) {
		if cmd.Flags().Changed("ttl") {
			c.TokenTTL = opts.TTL
		}
	})
	if err != nil {
		return err
	}

	iss, err := newIssuer(cfg)
	if err != nil {
		return err
	}
	token, err := iss.Issue(state.Identity(opts.Identity))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to issue token", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Emit(TokenResult{
		Identity: opts.Identity,
		Token:    token,
		TTL:      cfg.TokenTTL.String(),
	}, func(w io.Writer) {
		fmt.Fprintln(w, token)
	})
}
