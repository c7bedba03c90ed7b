package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/reconcile"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

func catalogCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the environments that can be started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			envs, err := a.loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), envs)
			return nil
		},
	}
}

func listCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show every environment with its current lab status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			envs, err := a.loadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			snapshot, err := store.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			printViews(cmd.OutOrStdout(), reconcile.Materialize(envs, snapshot))
			return nil
		},
	}
}

func printCatalog(w io.Writer, envs []catalog.Environment) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "DIFFICULTY", "OS", "CATEGORY", "DESCRIPTION").
		StyleFunc(cellStyle)
	for _, e := range envs {
		t.Row(strconv.Itoa(e.ID), e.Name, string(e.Difficulty), e.OS, e.Category, e.Description)
	}
	fmt.Fprintln(w, t.Render())
}

func printViews(w io.Writer, views []reconcile.View) {
	sum := reconcile.Summarize(views)
	fmt.Fprintf(w, "Active: %d  Available: %d  Starting: %d  Stopping: %d\n",
		sum.Active, sum.Available, sum.Starting, sum.Stopping)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "DIFFICULTY", "STATUS", "ADDRESS", "REMAINING").
		StyleFunc(cellStyle)
	for _, v := range views {
		t.Row(strconv.Itoa(v.ID), v.Name, string(v.Difficulty), string(v.Status), v.Address, v.TimeRemaining)
	}
	fmt.Fprintln(w, t.Render())
}

func cellStyle(row, _ int) lipgloss.Style {
	if row == table.HeaderRow {
		return headerStyle.Padding(0, 1)
	}
	return lipgloss.NewStyle().Padding(0, 1)
}
