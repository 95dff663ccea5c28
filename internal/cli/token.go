package cli

import (
	"errors"
	"fmt"

	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"github.com/spf13/cobra"
)

type tokenFlags struct {
	invalidate bool
	claims     bool
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	flags := &tokenFlags{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the access token used for requests",
		Long: `Print the access token requests would be sent with. With client credentials the
token is taken from the cache or obtained from the token endpoint.

--invalidate removes the cached token first, so a new one is obtained.
--claims prints the JWT claims instead of the token. The signature is not verified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(cmd, opts, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.invalidate, "invalidate", false, "drop the cached token before fetching")
	cmd.Flags().BoolVar(&flags.claims, "claims", false, "print the decoded JWT claims")

	return cmd
}

func runToken(cmd *cobra.Command, opts *rootOptions, flags *tokenFlags) error {
	s, err := opts.newSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if s.source == nil {
		return errors.New("no token configured: set --token or the client credentials")
	}

	if flags.invalidate {
		revocable, ok := s.source.(oauth2client.Revocable)
		if !ok {
			return errors.New("a static token cannot be invalidated")
		}
		if err := revocable.InvalidateToken(cmd.Context()); err != nil {
			return err
		}
	}

	token, err := s.client.Token(cmd.Context())
	if err != nil {
		return err
	}

	if flags.claims {
		return writeClaims(cmd.OutOrStdout(), token)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
