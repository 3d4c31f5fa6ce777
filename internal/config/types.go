package config

import (
	"strings"
	"time"
)

// Config is the root application configuration.
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Tick   TickConfig   `mapstructure:"tick"`
	Market MarketConfig `mapstructure:"market"`
	Store  StoreConfig  `mapstructure:"store"`
	Rules  RulesConfig  `mapstructure:"rules"`
	Notify NotifyConfig `mapstructure:"notify"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig enables pushes to a chat via the Bot API.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// AppConfig covers process-level settings.
type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// TickConfig controls the reconciliation timer.
type TickConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// Interval converts the configured seconds to a duration; zero means the
// manager's default.
func (t TickConfig) Interval() time.Duration {
	if t.IntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(t.IntervalSeconds) * time.Second
}

// MarketConfig describes the exchange REST endpoint.
type MarketConfig struct {
	RESTBaseURL    string      `mapstructure:"rest_base_url"`
	TimeoutSeconds int         `mapstructure:"timeout_seconds"`
	Proxy          ProxyConfig `mapstructure:"proxy"`
}

// ProxyConfig optionally routes exchange traffic through an HTTP proxy.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.URL = strings.TrimSpace(p.URL)
	if p.URL == "" {
		p.Enabled = false
	}
}

// Active returns the proxy URL when proxying is enabled.
func (p ProxyConfig) Active() string {
	if !p.Enabled {
		return ""
	}
	return p.URL
}

// StoreConfig locates the two SQLite databases.
type StoreConfig struct {
	PositionsDB string `mapstructure:"positions_db"`
	EventsDB    string `mapstructure:"events_db"`
}

// RulesConfig locates the watched rules file.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// keySet tracks which field paths were explicitly set in the config files, so
// defaults only fill genuinely absent keys.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes one field's default rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
