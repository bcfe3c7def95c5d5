package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/httpx"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/janitor"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/metrics"
)

type serveCmd struct {
	Addr      string        `help:"Listen address; defaults to ATTACHVAULT_METRICS_ADDR."`
	Cases     []string      `name:"case" help:"Cases to keep in sync while serving (repeatable)."`
	SyncEvery time.Duration `default:"15m" help:"Interval between background syncs of --case."`
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
}

func (c *serveCmd) Run(e *env) error {
	ctx, stop := signal.NotifyContext(e.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.serve(ctx, e, nil)
}

// serve runs until ctx ends. When ready is non-nil it receives the bound
// listener address once the server accepts connections.
func (c *serveCmd) serve(ctx context.Context, e *env, ready chan<- string) error {
	log := e.logger.With("domain", "serve")
	v, err := openVault(ctx, e.cfg, e.cli.Ephemeral, e.logger)
	if err != nil {
		return err
	}
	defer v.Close()

	jan := janitor.New(v.store, v.recorder(), janitor.Config{
		Interval: e.cfg.JanitorInterval,
		MaxAge:   e.cfg.MaxAge,
		Logger:   e.logger,
	})
	jan.Start(ctx)
	defer func() {
		jan.Stop()
		m := jan.MetricsSnapshot()
		log.Info("janitor summary", "cycles", m.Cycles, "deleted", m.Deleted, "failures", m.Failures)
	}()

	h := httpx.New(v.svc, e.cfg.MetricsToken, v.readiness)
	h.Logger = e.logger
	if v.metrics != nil {
		h.Metrics = metrics.Handler(v.metrics, "")
	}

	addr := c.Addr
	if addr == "" {
		addr = e.cfg.MetricsAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := newServer(addr, h.Router())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("serving", "addr", ln.Addr().String(), "pid", os.Getpid(), "ephemeral", e.cli.Ephemeral)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	if len(c.Cases) > 0 && c.SyncEvery > 0 {
		loopCtx, cancelLoop := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Go(func() { c.syncLoop(loopCtx, e, v) })
		defer func() {
			cancelLoop()
			wg.Wait()
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (c *serveCmd) syncLoop(ctx context.Context, e *env, v *vault) {
	t := time.NewTicker(c.SyncEvery)
	defer t.Stop()
	for {
		res := v.svc.SyncMany(ctx, c.Cases)
		e.logger.Info("background sync", "run_id", res.RunID, "succeeded", res.Succeeded, "failed", res.Failed, "skipped", res.Skipped)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
