package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/reconcile"
	"github.com/sebastianm/provinggrounds/internal/scanner"
	"github.com/sebastianm/provinggrounds/internal/session"
)

var contractStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))

func contractsCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "contracts [id]",
		Short: "List contracts deployed on a running lab's chain",
		Long: "Scans the recent blocks of a running lab's JSON-RPC node for contract deployments.\n" +
			"Without an id the first running lab is scanned.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && len(args) > 0 {
				return fmt.Errorf("--watch follows the running lab and takes no id")
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			if watch {
				return a.watchContracts(cmd.Context(), cmd.OutOrStdout())
			}

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
			views := reconcile.Materialize(envs, snapshot)

			var (
				addr string
				ok   bool
			)
			if len(args) == 1 {
				id, err := parseEnvironmentID(args[0])
				if err != nil {
					return err
				}
				if addr, err = runningAddress(views, id); err != nil {
					return err
				}
				ok = true
			} else {
				addr, ok = scanner.Target(views)
			}
			if !ok {
				printContracts(cmd.OutOrStdout(), scanner.Result{}, 0)
				return nil
			}

			s := a.scanner()
			found, err := s.Scan(cmd.Context(), addr)
			if err != nil {
				return fmt.Errorf("failed to fetch contracts: %w", err)
			}
			printContracts(cmd.OutOrStdout(), scanner.Result{Address: addr, URL: s.URL(addr), Deployments: found}, s.Window())
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Rescan whenever the running lab changes")
	return cmd
}

func (a *app) scanner() *scanner.Scanner {
	sc := a.cfg.Scanner
	httpClient := &http.Client{Timeout: sc.Timeout}
	if sc.Insecure {
		httpClient = scanner.InsecureClient(sc.Timeout)
	}
	return scanner.New(scanner.Options{
		Scheme:     sc.Scheme,
		Port:       sc.Port,
		Window:     sc.Window,
		HTTPClient: httpClient,
		Log:        a.log,
	})
}

// watchContracts follows the store and prints a fresh listing every time the
// running lab changes.
func (a *app) watchContracts(ctx context.Context, out io.Writer) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := store.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("store watch stopped", "error", err)
		}
	}()

	s := a.scanner()
	tracker := scanner.NewTracker(scanner.TrackerOptions{
		Scanner:  s,
		OnResult: func(r scanner.Result) { printContracts(out, r, s.Window()) },
		Log:      a.log,
	})
	go func() {
		_ = tracker.Run(ctx)
	}()

	observer := reconcile.NewObserver(reconcile.ObserverOptions{
		Loader:   catalog.NewLoader(a.cfg.Catalog.Source),
		Store:    store,
		OnUpdate: tracker.Update,
		Log:      a.log,
	})
	return observer.Run(ctx)
}

func runningAddress(views []reconcile.View, id int) (string, error) {
	for _, v := range views {
		if v.ID != id {
			continue
		}
		if v.Status != session.StatusRunning || v.Address == "" {
			return "", fmt.Errorf("environment %d is %s, start it to view its contracts", id, v.Status)
		}
		return v.Address, nil
	}
	return "", fmt.Errorf("environment %d is not in the catalog", id)
}

func printContracts(w io.Writer, r scanner.Result, window uint64) {
	if r.Address == "" {
		fmt.Fprintln(w, "No RPC connection. Start a box to view contracts.")
		return
	}
	fmt.Fprintf(w, "Connected to: %s\n", r.URL)
	if r.Err != nil {
		fmt.Fprintf(w, "Failed to fetch contracts: %v\n", r.Err)
		return
	}
	if len(r.Deployments) == 0 {
		fmt.Fprintf(w, "No deployed contracts found in the last %d blocks.\n", window)
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CONTRACT ADDRESS", "BLOCK", "DEPLOYED BY", "GAS USED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row != table.HeaderRow && col == 0 {
				return contractStyle.Padding(0, 1)
			}
			return cellStyle(row, col)
		})
	for _, d := range r.Deployments {
		t.Row(d.ContractAddress, strconv.FormatUint(d.Block, 10), d.From, strconv.FormatUint(d.GasUsed, 10))
	}
	fmt.Fprintln(w, t.Render())
}
