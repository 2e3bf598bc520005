// Package app wires configuration into the running service: gateways,
// journal, engine, polling loops and the HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"propeval/internal/config"
	"propeval/internal/engine"
	"propeval/internal/journal"
	"propeval/internal/logger"
	"propeval/internal/scheduler"
	transport "propeval/internal/transport/http"
)

// App holds the built components. NewApp constructs everything but starts
// nothing; Run owns the lifecycle.
type App struct {
	cfg   *config.Config
	eng   *engine.Engine
	http  *transport.Server
	store *journal.Store
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Engine exposes the engine instance for testing and replay harnesses.
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.eng
}

// Run recovers state, then starts the actor loop, the polling loops and the
// HTTP server. Blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.eng.Recover(ctx); err != nil {
		return fmt.Errorf("state recovery failed: %w", err)
	}
	a.eng.Start()
	defer a.eng.Stop()
	if a.store != nil {
		defer a.store.Close()
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	for _, loop := range []struct {
		name      string
		every     time.Duration
		immediate bool
		task      func(context.Context)
	}{
		{"active-price", a.cfg.Poll.ActivePrice, true, a.eng.PollActivePrice},
		{"open-prices", a.cfg.Poll.OpenPrices, false, a.eng.PollOpenPrices},
		{"risk", a.cfg.Poll.Risk, false, a.eng.EvaluateRisk},
		{"resync", a.cfg.Poll.Resync, false, a.eng.Resync},
	} {
		iv := scheduler.NewInterval(ctx, loop.name, loop.every)
		iv.RunImmediately = loop.immediate
		task := loop.task
		group.Go(func() error {
			iv.Start(task)
			return nil
		})
	}

	return group.Wait()
}
