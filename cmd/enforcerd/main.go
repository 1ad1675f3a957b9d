// Command enforcerd runs the Enforcer: the client-side state machine that
// activates against an Issuer, persists the resulting bundle, and
// periodically revalidates it offline, tearing down protected docker
// services if the license ever goes invalid.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nainovate/license-authority/internal/clock"
	"github.com/nainovate/license-authority/internal/config"
	"github.com/nainovate/license-authority/internal/dockerctl"
	"github.com/nainovate/license-authority/internal/enforcer"
	"github.com/nainovate/license-authority/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "enforcerd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.New(cfg.LogJSON)

	docker, err := dockerctl.NewClient(cfg.DockerSock, nil)
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}
	defer docker.Close()

	e := enforcer.New(enforcer.Config{
		InstallDir:  cfg.InstallDir,
		ServiceName: cfg.ServiceName,
		IssuerURL:   cfg.IssuerURL,
		Docker:      docker,
		Clock:       clock.Real{},
		Log:         log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if productKey := os.Getenv("LICENSE_PRODUCT_KEY"); productKey != "" {
		hostname, _ := os.Hostname()
		actCtx, actCancel := context.WithTimeout(ctx, 30*time.Second)
		err := e.Activate(actCtx, productKey, hostname, runtime.GOOS, "1.0.0")
		actCancel()
		if err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		log.Info("activation complete", "hostname", hostname)
	}

	errorPage := enforcer.NewErrorPage(e)
	go func() {
		if err := errorPage.ListenAndServe(":" + cfg.ErrorPagePort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error page server failed", "error", err)
		}
	}()

	loop := enforcer.NewLoop(e, cfg.RevalidateInterval(), func(result enforcer.CheckResult) {
		log.Info("license check", "state", result.State, "reason", result.Reason)
	})

	loopErrCh := make(chan error, 1)
	go func() {
		loopErrCh <- loop.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-loopErrCh:
		return err
	case <-sig:
		log.Info("shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return errorPage.Shutdown(shutdownCtx)
}
