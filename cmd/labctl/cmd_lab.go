package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/lifecycle"
)

func startCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <environment-id>",
		Short: "Provision a lab and wait until it is running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLab(cmd, opts, lifecycle.KindStart, args[0])
		},
	}
}

func stopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <environment-id>",
		Short: "Tear down a running lab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLab(cmd, opts, lifecycle.KindStop, args[0])
		},
	}
}

// runLab issues a start or stop and waits for the outcome. Policy no-ops are
// reported as notices and do not fail the command.
func runLab(cmd *cobra.Command, opts *rootOptions, kind lifecycle.Kind, arg string) (err error) {
	id, err := parseEnvironmentID(arg)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx, err := a.authenticate(cmd.Context())
	if err != nil {
		return err
	}
	ctrl, err := a.controller(ctx)
	if err != nil {
		return err
	}
	name := labName(a.catalog, id)
	out := cmd.OutOrStdout()

	call := ctrl.Start
	if kind == lifecycle.KindStop {
		call = ctrl.Stop
	}
	op, err := call(ctx, id)
	if lifecycle.IsPolicy(err) {
		fmt.Fprintf(out, "%s: %v\n", name, err)
		return nil
	}
	if err != nil {
		return err
	}

	if kind == lifecycle.KindStart {
		fmt.Fprintf(out, "Starting %s...\n", name)
	} else {
		fmt.Fprintf(out, "Stopping %s...\n", name)
	}

	sess, err := op.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if kind == lifecycle.KindStart {
		fmt.Fprintf(out, "%s is running at %s (%s remaining)\n", name, sess.Address, sess.TimeRemaining)
	} else {
		fmt.Fprintf(out, "%s stopped\n", name)
	}
	return nil
}

func labName(envs []catalog.Environment, id int) string {
	if e, ok := catalog.Find(envs, id); ok {
		return e.Name
	}
	return fmt.Sprintf("lab %d", id)
}
