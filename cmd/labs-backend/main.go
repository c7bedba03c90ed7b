// Command labs-backend is an in-memory stand-in for the lab control plane,
// for running labctl end to end without real container hosts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebastianm/provinggrounds/internal/connectutil"
	"github.com/sebastianm/provinggrounds/internal/controlplane/backend"
	"github.com/sebastianm/provinggrounds/internal/telemetry"
)

func main() {
	listenAddr := flag.String("listen-addr", ":5000", "Address to listen on")
	secret := flag.String("secret", os.Getenv("LABS_CONTROL_PLANE_SECRET"), "Shared secret required on control-plane calls (default $LABS_CONTROL_PLANE_SECRET)")
	delay := flag.Duration("provision-delay", 3*time.Second, "Simulated container boot time")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if err := run(*listenAddr, *secret, *delay, *logFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(listenAddr, secret string, delay time.Duration, logFormat string) error {
	log := telemetry.NewLogger(os.Stdout, "info", logFormat).With("component", "labs-backend")

	b := backend.New(backend.Options{ProvisionDelay: delay, Log: log})

	mux := http.NewServeMux()
	mux.Handle("/", b.Handler(secret))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "labs-backend OK")
	})

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		Protocols:         connectutil.H2CServerProtocols(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("shutdown did not complete", "error", err)
		}
	}()

	log.Info("HTTP server listening", "addr", listenAddr, "provision_delay", delay, "auth", secret != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("serve error", "error", err)
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
