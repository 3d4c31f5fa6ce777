package strategy

import (
	"context"

	"dipbot/internal/types"
)

// Rule event types relayed to the host.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
)

// RuleIssue is an actionable per-rule problem the host should surface to the
// user (e.g. the API key cannot trade the symbol).
type RuleIssue struct {
	UserID  string `json:"user_id"`
	RuleID  string `json:"rule_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RuleEvent is a lifecycle notification for a rule's position.
type RuleEvent struct {
	UserID    string         `json:"user_id"`
	RuleID    string         `json:"rule_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Hooks is the host-side callback surface. In production every call is a
// correlated round-trip from the tick worker to the manager; failures are soft
// and must never abort rule processing.
type Hooks interface {
	ReportRuleIssue(ctx context.Context, issue RuleIssue) error
	ClearRuleIssue(ctx context.Context, userID, ruleID string) error
	NotifyRuleEvent(ctx context.Context, event RuleEvent) error
}

// StateStore persists one PositionState per (user, rule). Load returns
// (nil, nil) when no state exists. Save must tolerate at-least-once delivery.
type StateStore interface {
	Load(ctx context.Context, userID, ruleID string) (*types.PositionState, error)
	Save(ctx context.Context, userID, ruleID string, state *types.PositionState) error
	Clear(ctx context.Context, userID, ruleID string) error
}
