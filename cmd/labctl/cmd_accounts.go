package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func accountsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts <environment-id>",
		Short: "List the practice accounts of a running lab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEnvironmentID(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}

			accounts, err := ctrl.Accounts(ctx, id)
			if err != nil {
				return fmt.Errorf("%s: %w", labName(a.catalog, id), err)
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ACCOUNT", "PRIVATE KEY").
				StyleFunc(cellStyle)
			for _, acc := range accounts {
				t.Row(acc.Name, acc.PrivateKey)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}
