// Package app wires configuration, stores, the rule registry, the tick
// manager and the HTTP API into one runnable unit.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"dipbot/internal/config"
	"dipbot/internal/logger"
	"dipbot/internal/store/eventlog"
	"dipbot/internal/store/gormstore"
	"dipbot/internal/tick"
	webhttp "dipbot/internal/transport/http"
)

// App owns the assembled services. Build with NewApp, drive with Run.
type App struct {
	cfg     *config.Config
	manager *tick.Manager
	http    *webhttp.Server
	states  *gormstore.Store
	events  *eventlog.Store
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the tick manager and HTTP server and blocks until ctx is
// cancelled or a service fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.manager == nil {
		return fmt.Errorf("tick manager not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		a.manager.Start()
		<-ctx.Done()
		a.manager.Stop()
		return nil
	})

	err := group.Wait()
	a.close()
	return err
}

// Manager exposes the tick manager (for tests and replay harnesses).
func (a *App) Manager() *tick.Manager {
	if a == nil {
		return nil
	}
	return a.manager
}

func (a *App) close() {
	if a.states != nil {
		if err := a.states.Close(); err != nil {
			logger.Warnf("closing position store: %v", err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			logger.Warnf("closing event log: %v", err)
		}
	}
}
