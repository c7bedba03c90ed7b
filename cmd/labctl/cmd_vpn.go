package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sebastianm/provinggrounds/internal/auth"
	"github.com/sebastianm/provinggrounds/internal/connectutil"
	"github.com/sebastianm/provinggrounds/internal/vpn"
)

func vpnCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "vpn",
		Short: "Download the lab network VPN profile for the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			subject := auth.SubjectFrom(ctx)

			client := vpn.NewClient(a.cfg.VPN.URL, connectutil.NewHTTPClient(a.cfg.ControlPlane.Timeout))
			profile, err := client.Generate(ctx, subject)
			if err != nil {
				return err
			}

			path := output
			if path == "" {
				path = vpn.Filename(subject)
			}
			if err := os.WriteFile(path, profile, 0o600); err != nil {
				return fmt.Errorf("writing vpn config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VPN config saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to write the profile (default vpn-config-<user>.ovpn)")
	return cmd
}
