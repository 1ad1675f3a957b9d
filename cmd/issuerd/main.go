// Command issuerd runs the Issuer: the authority that mints, validates, and
// revokes license certificates over the HTTP API internal/web implements.
// Load config, open storage, build the engine, start the server, wait for
// a shutdown signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/clock"
	"github.com/nainovate/license-authority/internal/config"
	"github.com/nainovate/license-authority/internal/issuer"
	"github.com/nainovate/license-authority/internal/logging"
	"github.com/nainovate/license-authority/internal/metrics"
	"github.com/nainovate/license-authority/internal/store"
	"github.com/nainovate/license-authority/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "issuerd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.New(cfg.LogJSON)

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	keys, err := certs.EnsureKeyPair(cfg.KeyDir)
	if err != nil {
		return fmt.Errorf("load signing key pair: %w", err)
	}

	clk := clock.Real{}
	engine := issuer.NewEngine(s, keys, clk, cfg.RegistryURL, cfg.RegistryUsername, cfg.RegistryToken)

	server := web.NewServer(web.Dependencies{
		Engine:         engine,
		Log:            log,
		MetricsEnabled: cfg.MetricsEnabled,
		Version:        "1.0.0",
		RateLimit:      cfg.RateLimitPerHour(),
		RateWindow:     time.Hour,
	})

	if cfg.TLSEnabled() {
		certPath, keyPath := cfg.TLSCert, cfg.TLSKey
		if certPath == "" {
			certPath, keyPath, err = web.EnsureSelfSignedCert(cfg.KeyDir)
			if err != nil {
				return fmt.Errorf("generate self-signed cert: %w", err)
			}
		}
		server.SetTLS(certPath, keyPath)
	}

	sched := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	if _, err := sched.AddFunc(sweepSpec, func() {
		runSweep(engine, cfg, log)
	}); err != nil {
		return fmt.Errorf("schedule sweep job: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// Run one sweep immediately so the gauges aren't zero until the first
	// cron tick.
	runSweep(engine, cfg, log)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(cfg.BindAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-sig:
		log.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func runSweep(engine *issuer.Engine, cfg *config.Config, log *logging.Logger) {
	result, err := engine.Sweep()
	if err != nil {
		log.Error("sweep failed", "error", err)
		return
	}
	log.Info("sweep complete",
		"machines_expired", result.MachinesExpired,
		"active_machines", result.ActiveMachines,
		"active_customers", result.ActiveCustomers,
	)
	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Error("write metrics textfile", "error", err)
		}
	}
}
