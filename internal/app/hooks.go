package app

import (
	"context"
	"fmt"
	"sync"

	"dipbot/internal/logger"
	"dipbot/internal/notifier"
	"dipbot/internal/store/eventlog"
	"dipbot/internal/strategy"
)

// hostHooks bridges worker callbacks to logging, the audit trail and the
// outbound notifier. Issues are reported every tick while they persist; the
// audit log and notifier only see transitions so a stuck rule does not flood
// them.
type hostHooks struct {
	events *eventlog.Store
	notify notifier.Notifier

	mu     sync.Mutex
	active map[string]string // user/rule -> issue code
}

var _ strategy.Hooks = (*hostHooks)(nil)

func newHostHooks(events *eventlog.Store, notify notifier.Notifier) *hostHooks {
	return &hostHooks{events: events, notify: notify, active: make(map[string]string)}
}

// push delivers best-effort: a notifier outage never fails the hook.
func (h *hostHooks) push(ctx context.Context, text string) {
	if h.notify == nil {
		return
	}
	if err := h.notify.SendText(ctx, text); err != nil {
		logger.Warnf("notifier push failed: %v", err)
	}
}

func (h *hostHooks) ReportRuleIssue(ctx context.Context, issue strategy.RuleIssue) error {
	key := issue.UserID + "/" + issue.RuleID
	h.mu.Lock()
	prev, had := h.active[key]
	h.active[key] = issue.Code
	h.mu.Unlock()

	logger.Warnf("rule %s issue [%s]: %s", key, issue.Code, issue.Message)
	if had && prev == issue.Code {
		return nil
	}
	h.push(ctx, fmt.Sprintf("⚠️ rule %s issue [%s]: %s", key, issue.Code, issue.Message))
	if h.events == nil {
		return nil
	}
	return h.events.Append(ctx, issue.UserID, issue.RuleID, "issue", map[string]any{
		"code":    issue.Code,
		"message": issue.Message,
	})
}

func (h *hostHooks) ClearRuleIssue(ctx context.Context, userID, ruleID string) error {
	key := userID + "/" + ruleID
	h.mu.Lock()
	code, had := h.active[key]
	delete(h.active, key)
	h.mu.Unlock()

	if !had {
		return nil
	}
	logger.Infof("rule %s issue [%s] cleared", key, code)
	if h.events == nil {
		return nil
	}
	return h.events.Append(ctx, userID, ruleID, "issue_cleared", map[string]any{"code": code})
}

func (h *hostHooks) NotifyRuleEvent(ctx context.Context, event strategy.RuleEvent) error {
	logger.Infof("rule %s/%s event %s", event.UserID, event.RuleID, event.EventType)
	h.push(ctx, formatEventMessage(event))
	if h.events == nil {
		return nil
	}
	return h.events.Append(ctx, event.UserID, event.RuleID, event.EventType, event.Payload)
}

func formatEventMessage(event strategy.RuleEvent) string {
	symbol, _ := event.Payload["symbol"].(string)
	switch event.EventType {
	case strategy.EventPositionOpened:
		return fmt.Sprintf("🟢 %s position opened (rule %s/%s)", symbol, event.UserID, event.RuleID)
	case strategy.EventPositionClosed:
		return fmt.Sprintf("🔴 %s position closed (rule %s/%s)", symbol, event.UserID, event.RuleID)
	default:
		return fmt.Sprintf("ℹ️ %s %s (rule %s/%s)", symbol, event.EventType, event.UserID, event.RuleID)
	}
}
