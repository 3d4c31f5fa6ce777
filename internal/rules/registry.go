// Package rules provides the file-backed rule/credential snapshot provider.
// The file is watched for changes; an invalid edit keeps the previous
// snapshot in place.
package rules

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"dipbot/internal/logger"
	"dipbot/internal/pkg/symbol"
	"dipbot/internal/types"
)

// Snapshot is an immutable published view of the rules file.
type Snapshot struct {
	Version  int64                `json:"version"`
	LoadedAt time.Time            `json:"loaded_at"`
	Users    []types.UserSnapshot `json:"users"`
}

// ChangeListener observes snapshot swaps, receiving the previous and the new
// snapshot. Used by the host to clear state for removed rules.
type ChangeListener func(prev, next Snapshot)

type fileConfig struct {
	Users []types.UserSnapshot `mapstructure:"users"`
}

// Registry reads, validates and watches the rules file.
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener

	// Rules without an explicit created_at keep their first-seen time across
	// reloads so fill detection's grace window stays stable.
	firstSeen map[string]time.Time
}

// NewRegistry reads the file once and starts watching it.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("rules registry requires a path")
	}
	schema, err := jsonschema.CompileString("rules.json", ruleFileSchema)
	if err != nil {
		return nil, fmt.Errorf("compile rules schema: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules file failed: %w", err)
	}
	r := &Registry{
		path:      path,
		v:         v,
		schema:    schema,
		firstSeen: make(map[string]time.Time),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("rules: reload failed, keeping previous snapshot: %v", err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// GetSnapshots implements the tick manager's SnapshotProvider.
func (r *Registry) GetSnapshots(ctx context.Context) ([]types.UserSnapshot, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.UserSnapshot, len(r.snapshot.Users))
	copy(out, r.snapshot.Users)
	return out, nil
}

// Current returns the published snapshot.
func (r *Registry) Current() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// OnChange registers a listener; it fires on every successful reload after
// the initial one.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read rules file failed: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse rules file failed: %w", err)
	}
	if err := r.schema.Validate(doc); err != nil {
		return fmt.Errorf("rules file failed validation: %w", err)
	}

	var cfg fileConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(doc); err != nil {
		return fmt.Errorf("decode rules file failed: %w", err)
	}

	now := time.Now().UTC()
	for ui := range cfg.Users {
		user := &cfg.Users[ui]
		for ri := range user.Rules {
			rule := &user.Rules[ri]
			rule.Symbol = symbol.Canonical(rule.Symbol)
			if rule.CreatedAt.IsZero() {
				key := user.UserID + "/" + rule.ID
				if seen, ok := r.firstSeen[key]; ok {
					rule.CreatedAt = seen
				} else {
					r.firstSeen[key] = now
					rule.CreatedAt = now
				}
			}
			rule.IndicatorSettings.Normalize()
		}
	}

	r.mu.Lock()
	prev := r.snapshot
	r.snapshot = Snapshot{
		Version:  prev.Version + 1,
		LoadedAt: now,
		Users:    cfg.Users,
	}
	next := r.snapshot
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	if prev.Version > 0 {
		for _, fn := range listeners {
			fn(prev, next)
		}
	}
	logger.Infof("rules: snapshot v%d published (%d users)", next.Version, len(next.Users))
	return nil
}

// RemovedRules diffs two snapshots and returns the (user, rule) pairs that
// disappeared, so the host can clear their persisted state.
func RemovedRules(prev, next Snapshot) [][2]string {
	keep := make(map[string]bool)
	for _, user := range next.Users {
		for _, rule := range user.Rules {
			keep[user.UserID+"/"+rule.ID] = true
		}
	}
	var removed [][2]string
	for _, user := range prev.Users {
		for _, rule := range user.Rules {
			if !keep[user.UserID+"/"+rule.ID] {
				removed = append(removed, [2]string{user.UserID, rule.ID})
			}
		}
	}
	return removed
}
