package app

import (
	"context"
	"fmt"
	"time"

	"dipbot/internal/config"
	"dipbot/internal/gateway/binance"
	"dipbot/internal/gateway/exchange"
	"dipbot/internal/logger"
	"dipbot/internal/notifier"
	"dipbot/internal/rules"
	"dipbot/internal/store/eventlog"
	"dipbot/internal/store/gormstore"
	"dipbot/internal/tick"
	webhttp "dipbot/internal/transport/http"
)

// AppBuilder assembles the application piece by piece so construction errors
// name the component that failed.
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// Build constructs every component and cross-wires them.
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	_ = ctx
	cfg := b.cfg

	states, err := gormstore.New(cfg.Store.PositionsDB)
	if err != nil {
		return nil, fmt.Errorf("opening position store failed: %w", err)
	}
	events, err := eventlog.New(cfg.Store.EventsDB)
	if err != nil {
		states.Close()
		return nil, fmt.Errorf("opening event log failed: %w", err)
	}

	registry, err := rules.NewRegistry(cfg.Rules.Path)
	if err != nil {
		states.Close()
		events.Close()
		return nil, fmt.Errorf("loading rules failed: %w", err)
	}

	factory := &exchange.BreakerFactory{Inner: binance.NewFactory(binance.Config{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		ProxyURL:    cfg.Market.Proxy.Active(),
		HTTPTimeout: time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
	})}

	var notify notifier.Notifier
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}
	hooks := newHostHooks(events, notify)
	manager, err := tick.NewManager(tick.ManagerParams{
		Provider: registry,
		Factory:  factory,
		Store:    states,
		Hooks:    hooks,
		Interval: cfg.Tick.Interval(),
	})
	if err != nil {
		states.Close()
		events.Close()
		return nil, fmt.Errorf("building tick manager failed: %w", err)
	}

	// State outlives its rule only until the rule is removed from the file.
	registry.OnChange(func(prev, next rules.Snapshot) {
		for _, pair := range rules.RemovedRules(prev, next) {
			clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := states.Clear(clearCtx, pair[0], pair[1]); err != nil {
				logger.Warnf("clearing state for removed rule %s/%s failed: %v", pair[0], pair[1], err)
			}
			cancel()
		}
	})

	server, err := webhttp.NewServer(webhttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Manager:  manager,
		Registry: registry,
		States:   states,
		Events:   events,
	})
	if err != nil {
		states.Close()
		events.Close()
		return nil, fmt.Errorf("building http server failed: %w", err)
	}

	return &App{
		cfg:     cfg,
		manager: manager,
		http:    server,
		states:  states,
		events:  events,
	}, nil
}
