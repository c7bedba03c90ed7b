package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sebastianm/provinggrounds/internal/catalog"
	"github.com/sebastianm/provinggrounds/internal/portutil"
	"github.com/sebastianm/provinggrounds/internal/reconcile"
	"github.com/sebastianm/provinggrounds/internal/tui"
)

func watchCmd(opts *rootOptions) *cobra.Command {
	var (
		metricsAddr string
		plain       bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow lab status live, with start and stop controls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
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
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			if metricsAddr == "" {
				metricsAddr = a.cfg.Telemetry.MetricsAddr
			}
			if metricsAddr != "" {
				srv, err := serveMetrics(metricsAddr, a.log)
				if err != nil {
					return err
				}
				defer srv.Close()
			}

			go func() {
				if err := a.store.Watch(ctx); err != nil && ctx.Err() == nil {
					a.log.Error("store watch stopped", "error", err)
				}
			}()

			out := cmd.OutOrStdout()
			feed := tui.NewFeed()
			onUpdate := feed.Push
			if plain {
				onUpdate = func(views []reconcile.View) { printViews(out, views) }
			}
			observer := reconcile.NewObserver(reconcile.ObserverOptions{
				Loader:   catalog.NewLoader(a.cfg.Catalog.Source),
				Store:    a.store,
				OnUpdate: onUpdate,
				Log:      a.log,
			})

			if plain {
				return observer.Run(ctx)
			}

			obsErr := make(chan error, 1)
			go func() {
				err := observer.Run(ctx)
				if err != nil {
					cancel()
				}
				obsErr <- err
			}()

			uiErr := tui.Run(ctx, ctrl, feed)
			cancel()
			if err := <-obsErr; err != nil {
				return err
			}
			if uiErr != nil && cmd.Context().Err() == nil {
				return uiErr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print a table on every change instead of the interactive view")
	return cmd
}

// metricsPortAttempts lets several observers on one host share a configured
// metrics port by taking the next free one.
const metricsPortAttempts = 10

func serveMetrics(addr string, log *slog.Logger) (*http.Server, error) {
	ln, err := portutil.Listen(addr, metricsPortAttempts)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}
