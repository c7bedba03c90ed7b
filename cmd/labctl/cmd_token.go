package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebastianm/provinggrounds/internal/auth"
)

// tokenCmd mints a token with the configured auth secret, for local setups
// without a separate login service.
func tokenCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for a wallet address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if address == "" {
				return fmt.Errorf("--address is required")
			}
			cfg, ok, err := auth.LoadJWTConfigFromEnv()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("LABS_AUTH_JWT_SECRET not set")
			}
			token, err := auth.NewJWTVerifier(cfg).Issue(address)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Wallet address to put in the token")
	return cmd
}
