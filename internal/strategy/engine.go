// Package strategy implements the per-rule reconciliation engine: it derives
// the orders a rule wants from its persisted position snapshot, compares them
// with what the exchange actually shows, and converges the two. Repeated
// execution with unchanged exchange state must produce no new orders.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/logger"
	"dipbot/internal/pkg/trading"
	"dipbot/internal/types"
)

const (
	// buyDriftPct is the tolerated gap between a resting entry order and the
	// current target before the order is cancelled and replaced.
	buyDriftPct = 0.35
	// sellDriftPct covers take-profit and stop orders.
	sellDriftPct = 0.5
	// trailingUpdatePct keeps the trailing peak from ratcheting on noise.
	trailingUpdatePct = 0.1
	// fillPriceTolerancePct rejects stale or foreign fills during detection.
	fillPriceTolerancePct = 1.5
	// creationGrace lets a fill that raced rule creation still count.
	creationGrace = 60 * time.Second

	tradeScanLimit = 50
)

// Engine is stateless between calls; everything it knows lives in the rule,
// the persisted state and the per-batch caches.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// ruleRun carries one rule's working set through a tick so the step helpers
// don't each take ten parameters.
type ruleRun struct {
	engine  *Engine
	client  exchange.Client
	rule    types.Rule
	caches  *TickCaches
	userID  string
	hooks   Hooks
	store   StateStore
	filters types.SymbolFilters

	targetPrice float64
	entryQty    float64

	state        *types.PositionState
	issueCleared bool
}

// ProcessRule runs one reconciliation pass for one rule. The returned error is
// informational for the caller's metrics; sibling rules are unaffected. State
// reached before an error is persisted before returning.
func (e *Engine) ProcessRule(ctx context.Context, client exchange.Client, rule types.Rule, caches *TickCaches, userID string, hooks Hooks, store StateStore) error {
	if strings.TrimSpace(rule.Symbol) == "" || !rule.Enabled || rule.BudgetUSDT <= 0 {
		return nil
	}

	run := &ruleRun{
		engine: e,
		client: client,
		rule:   rule,
		caches: caches,
		userID: userID,
		hooks:  hooks,
		store:  store,
	}

	filters, err := caches.filters(ctx, client, rule.Symbol)
	if err != nil {
		return run.classify(ctx, err)
	}
	if trading.StepValue(filters.StepSize) <= 0 || trading.StepValue(filters.TickSize) <= 0 {
		logger.Debugf("strategy: %s has degenerate filters, rule %s skipped", rule.Symbol, rule.ID)
		return nil
	}
	run.filters = filters

	if ok, err := run.computeEntryTarget(ctx); err != nil {
		return run.classify(ctx, err)
	} else if !ok {
		return nil
	}

	state, err := store.Load(ctx, userID, rule.ID)
	if err != nil {
		return fmt.Errorf("load state for rule %s: %w", rule.ID, err)
	}
	if state != nil && state.Version != types.StateVersion {
		logger.Warnf("strategy: rule %s state version %d != %d, discarding", rule.ID, state.Version, types.StateVersion)
		state = nil
	}
	run.state = state

	if run.state == nil || !run.state.Active {
		stop, err := run.syncEntryOrder(ctx)
		if err != nil {
			return run.classify(ctx, err)
		}
		if stop {
			return nil
		}
		opened, err := run.detectEntryFill(ctx)
		if err != nil {
			return run.classify(ctx, err)
		}
		if !opened {
			return nil
		}
	} else {
		// Entry is done; a lingering entry order is an orphan.
		if err := run.cancelEntryOrder(ctx); err != nil {
			return run.classify(ctx, err)
		}
	}

	// From here the position is active. State is persisted on the way out even
	// when a later step fails, so applied fills are never lost.
	var stepErr error
	if err := run.updateTrailingPeak(ctx); err != nil {
		stepErr = err
	}
	if stepErr == nil {
		closed, err := run.applySellFills(ctx)
		if err != nil {
			stepErr = err
		} else if closed {
			return run.finishClosed(ctx)
		}
	}
	if stepErr == nil {
		if err := run.syncExitOrders(ctx); err != nil {
			stepErr = err
		}
	}
	if stepErr == nil {
		if err := run.syncStopOrder(ctx); err != nil {
			stepErr = err
		}
	}

	if err := run.persist(ctx); err != nil {
		if stepErr == nil {
			stepErr = err
		} else {
			logger.Errorf("strategy: persist state for rule %s failed after error: %v", rule.ID, err)
		}
	}
	if stepErr != nil {
		return run.classify(ctx, stepErr)
	}
	return nil
}

func (r *ruleRun) persist(ctx context.Context) error {
	if r.state == nil {
		return nil
	}
	r.state.LastUpdated = time.Now().UTC()
	if err := r.store.Save(ctx, r.userID, r.rule.ID, r.state); err != nil {
		return fmt.Errorf("save state for rule %s: %w", r.rule.ID, err)
	}
	return nil
}

func (r *ruleRun) finishClosed(ctx context.Context) error {
	if err := r.persist(ctx); err != nil {
		return err
	}
	r.caches.InvalidateOrders(r.rule.Symbol)
	r.notify(ctx, EventPositionClosed, map[string]any{
		"symbol":         r.state.Symbol,
		"entry_price":    r.state.EntryPrice,
		"base_qty":       r.state.BaseQty,
		"realized_quote": r.state.RealizedQuote,
		"quote_spent":    r.state.QuoteSpent,
	})
	logger.Infof("strategy: rule %s position closed, realized %.8f quote", r.rule.ID, r.state.RealizedQuote)
	return nil
}

// classify routes an error through the taxonomy: actionable API codes become
// rule issues, everything else is left to the caller to log and retry next
// tick.
func (r *ruleRun) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if code, ok := exchange.Actionable(err); ok {
		issue := RuleIssue{
			UserID:  r.userID,
			RuleID:  r.rule.ID,
			Code:    code,
			Message: err.Error(),
		}
		if hookErr := r.hooks.ReportRuleIssue(ctx, issue); hookErr != nil {
			logger.Warnf("strategy: report issue for rule %s failed: %v", r.rule.ID, hookErr)
		}
	}
	return err
}

// orderSucceeded clears a previously reported issue the first time an order
// operation goes through this tick.
func (r *ruleRun) orderSucceeded(ctx context.Context) {
	if r.issueCleared {
		return
	}
	r.issueCleared = true
	if err := r.hooks.ClearRuleIssue(ctx, r.userID, r.rule.ID); err != nil {
		logger.Warnf("strategy: clear issue for rule %s failed: %v", r.rule.ID, err)
	}
}

func (r *ruleRun) notify(ctx context.Context, eventType string, payload map[string]any) {
	evt := RuleEvent{
		UserID:    r.userID,
		RuleID:    r.rule.ID,
		EventType: eventType,
		Payload:   payload,
	}
	if err := r.hooks.NotifyRuleEvent(ctx, evt); err != nil {
		logger.Warnf("strategy: notify %s for rule %s failed: %v", eventType, r.rule.ID, err)
	}
}

func driftPct(current, desired float64) float64 {
	if desired == 0 {
		return 0
	}
	d := (current - desired) / desired * 100
	if d < 0 {
		return -d
	}
	return d
}
