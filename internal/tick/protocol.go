// Package tick contains the scheduler half of the system: a Manager that owns
// a fixed-interval timer and exactly one Worker, and the message protocol the
// two exchange. There is no shared mutable memory between them; state crosses
// the boundary only through these envelopes.
package tick

import (
	"time"

	"dipbot/internal/strategy"
	"dipbot/internal/types"
)

// batchMsg hands one tick's worth of rule/credential snapshots to the worker.
type batchMsg struct {
	TickID    string
	Snapshots []types.UserSnapshot
}

// stopMsg asks the worker to clear its caches and acknowledge.
type stopMsg struct{}

// Worker -> Manager lifecycle events.
type readyEvent struct{}

type stoppedEvent struct{}

type crashEvent struct {
	Reason string
}

// RuleError is a per-rule failure reported with a completed batch. It never
// aborts sibling rules.
type RuleError struct {
	UserID  string `json:"user_id"`
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

type doneEvent struct {
	TickID     string
	Duration   time.Duration
	Users      int
	Rules      int
	RuleErrors []RuleError
}

// hostRequest is the tagged-variant union of everything the worker may ask
// the host side to do. Dispatch is by type, not by string action name.
type hostRequest interface {
	isHostRequest()
}

type stateLoadReq struct {
	UserID string
	RuleID string
}

type stateSaveReq struct {
	UserID string
	RuleID string
	State  *types.PositionState
}

type stateClearReq struct {
	UserID string
	RuleID string
}

type reportIssueReq struct {
	Issue strategy.RuleIssue
}

type clearIssueReq struct {
	UserID string
	RuleID string
}

type notifyEventReq struct {
	Event strategy.RuleEvent
}

func (stateLoadReq) isHostRequest()   {}
func (stateSaveReq) isHostRequest()   {}
func (stateClearReq) isHostRequest()  {}
func (reportIssueReq) isHostRequest() {}
func (clearIssueReq) isHostRequest()  {}
func (notifyEventReq) isHostRequest() {}

// hostResult answers one hostCall. State is set for stateLoadReq only.
type hostResult struct {
	State *types.PositionState
	Err   error
}

// hostCall is a correlated round-trip from the worker to the manager. The
// worker generates the id, sends the call, and awaits exactly one result on
// Reply within its call timeout.
type hostCall struct {
	ID    string
	Req   hostRequest
	Reply chan hostResult
}

// Metrics is the manager's observable tick state.
type Metrics struct {
	LastTickID   string        `json:"last_tick_id"`
	LastTickAt   time.Time     `json:"last_tick_at"`
	LastDuration time.Duration `json:"last_duration"`
	LastUsers    int           `json:"last_users"`
	LastRules    int           `json:"last_rules"`
	LastError    string        `json:"last_error,omitempty"`
	WorkerReady  bool          `json:"worker_ready"`
	Busy         bool          `json:"busy"`
}
