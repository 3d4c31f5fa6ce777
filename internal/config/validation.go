package config

import (
	"fmt"
	"net/url"
	"strings"
)

func validate(c *Config) error {
	if err := c.Tick.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Rules.Path) == "" {
		return fmt.Errorf("rules.path cannot be empty")
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (n NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}

func (t TickConfig) validate() error {
	if t.IntervalSeconds < 1 {
		return fmt.Errorf("tick.interval_seconds must be >= 1")
	}
	if t.IntervalSeconds > 300 {
		return fmt.Errorf("tick.interval_seconds must be <= 300")
	}
	return nil
}

func (m MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.Proxy.Enabled {
		if _, err := url.Parse(m.Proxy.URL); err != nil {
			return fmt.Errorf("market.proxy.url is invalid: %w", err)
		}
	}
	return nil
}

func (s StoreConfig) validate() error {
	if strings.TrimSpace(s.PositionsDB) == "" {
		return fmt.Errorf("store.positions_db cannot be empty")
	}
	if strings.TrimSpace(s.EventsDB) == "" {
		return fmt.Errorf("store.events_db cannot be empty")
	}
	if s.PositionsDB == s.EventsDB {
		return fmt.Errorf("store.positions_db and store.events_db must differ")
	}
	return nil
}
