package config

import "strings"

const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppLogPath    = "/data/logs/dipbot.log"
	defaultAppHTTPAddr   = ":9980"
	defaultTickInterval  = 5
	defaultMarketREST    = "https://api.binance.com"
	defaultMarketTimeout = 15
	defaultPositionsDB   = "/data/db/positions.db"
	defaultEventsDB      = "/data/db/events.db"
	defaultRulesPath     = "configs/rules.yaml"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Tick.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Rules.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (t *TickConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "tick.interval_seconds",
			need:  func() bool { return t.IntervalSeconds <= 0 },
			apply: func() { t.IntervalSeconds = defaultTickInterval },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		fieldDefault{
			key:   "market.timeout_seconds",
			need:  func() bool { return m.TimeoutSeconds <= 0 },
			apply: func() { m.TimeoutSeconds = defaultMarketTimeout },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.positions_db", &s.PositionsDB, defaultPositionsDB),
		stringFieldDefault("store.events_db", &s.EventsDB, defaultEventsDB),
	)
}

func (r *RulesConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("rules.path", &r.Path, defaultRulesPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
