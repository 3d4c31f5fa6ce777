package tick

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/logger"
	"dipbot/internal/strategy"
	"dipbot/internal/types"
)

// worker owns one batch at a time. It runs on its own goroutine as an
// isolated failure domain: a panic anywhere inside batch processing is
// converted into a crash event and the manager respawns a fresh worker.
// State-store and notification access is never local; every such need becomes
// a correlated hostCall awaited with a timeout.
type worker struct {
	factory     exchange.Factory
	engine      *strategy.Engine
	callTimeout time.Duration

	inCh    chan any
	eventCh chan<- any
	callCh  chan<- hostCall

	// Exchange clients are cached per user and rebuilt when the credential
	// fingerprint changes.
	clients map[string]cachedClient
}

type cachedClient struct {
	fingerprint string
	client      exchange.Client
}

func newWorker(factory exchange.Factory, engine *strategy.Engine, eventCh chan<- any, callCh chan<- hostCall, callTimeout time.Duration) *worker {
	return &worker{
		factory:     factory,
		engine:      engine,
		callTimeout: callTimeout,
		inCh:        make(chan any, 1),
		eventCh:     eventCh,
		callCh:      callCh,
		clients:     make(map[string]cachedClient),
	}
}

func (w *worker) start() {
	go w.run()
}

func (w *worker) run() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("tick worker panic: %v", r)
			debug.PrintStack()
			w.eventCh <- crashEvent{Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	w.eventCh <- readyEvent{}
	for msg := range w.inCh {
		switch m := msg.(type) {
		case batchMsg:
			w.eventCh <- w.processBatch(m)
		case stopMsg:
			w.clients = make(map[string]cachedClient)
			w.eventCh <- stoppedEvent{}
			return
		}
	}
}

func (w *worker) processBatch(batch batchMsg) doneEvent {
	start := time.Now()
	ctx := context.Background()
	done := doneEvent{TickID: batch.TickID}

	for _, snap := range batch.Snapshots {
		client := w.clientFor(snap)
		if client == nil {
			continue
		}
		done.Users++
		// Per-tick caches are scoped to one user: trades and open orders are
		// account data and must never leak between accounts.
		caches := strategy.NewTickCaches()
		for _, rule := range snap.Rules {
			done.Rules++
			if err := w.processRule(ctx, client, rule, caches, snap.UserID); err != nil {
				logger.Warnf("tick: rule %s (user %s) failed: %v", rule.ID, snap.UserID, err)
				done.RuleErrors = append(done.RuleErrors, RuleError{
					UserID:  snap.UserID,
					RuleID:  rule.ID,
					Message: err.Error(),
				})
			}
		}
	}

	done.Duration = time.Since(start)
	return done
}

// processRule isolates a single rule: a panic in engine or exchange code is
// captured as that rule's error and siblings keep running.
func (w *worker) processRule(ctx context.Context, client exchange.Client, rule types.Rule, caches *strategy.TickCaches, userID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.engine.ProcessRule(ctx, client, rule, caches, userID, w.hooks(), w.stateStore())
}

// clientFor returns the cached exchange client for a user, rebuilding it when
// the credential fingerprint changed and dropping it when credentials are
// gone. Nil means the snapshot is skipped.
func (w *worker) clientFor(snap types.UserSnapshot) exchange.Client {
	fp := exchange.Fingerprint(snap.Credentials)
	if fp == "" {
		delete(w.clients, snap.UserID)
		return nil
	}
	if cached, ok := w.clients[snap.UserID]; ok && cached.fingerprint == fp {
		return cached.client
	}
	client, err := w.factory.NewClient(snap.Credentials)
	if err != nil {
		logger.Warnf("tick: building client for user %s failed: %v", snap.UserID, err)
		delete(w.clients, snap.UserID)
		return nil
	}
	w.clients[snap.UserID] = cachedClient{fingerprint: fp, client: client}
	return client
}

// call performs one correlated round-trip to the manager.
func (w *worker) call(ctx context.Context, req hostRequest) (hostResult, error) {
	hc := hostCall{
		ID:    uuid.NewString(),
		Req:   req,
		Reply: make(chan hostResult, 1),
	}
	timer := time.NewTimer(w.callTimeout)
	defer timer.Stop()

	select {
	case w.callCh <- hc:
	case <-timer.C:
		return hostResult{}, fmt.Errorf("host call %s: send timed out after %s", hc.ID, w.callTimeout)
	case <-ctx.Done():
		return hostResult{}, ctx.Err()
	}
	select {
	case res := <-hc.Reply:
		return res, res.Err
	case <-timer.C:
		return hostResult{}, fmt.Errorf("host call %s: no answer within %s", hc.ID, w.callTimeout)
	case <-ctx.Done():
		return hostResult{}, ctx.Err()
	}
}

// stateStore exposes the host call protocol as the engine's StateStore.
func (w *worker) stateStore() strategy.StateStore {
	return &workerStateStore{w: w}
}

// hooks exposes the host call protocol as the engine's Hooks.
func (w *worker) hooks() strategy.Hooks {
	return &workerHooks{w: w}
}

type workerStateStore struct {
	w *worker
}

func (s *workerStateStore) Load(ctx context.Context, userID, ruleID string) (*types.PositionState, error) {
	res, err := s.w.call(ctx, stateLoadReq{UserID: userID, RuleID: ruleID})
	if err != nil {
		return nil, err
	}
	return res.State, nil
}

func (s *workerStateStore) Save(ctx context.Context, userID, ruleID string, state *types.PositionState) error {
	_, err := s.w.call(ctx, stateSaveReq{UserID: userID, RuleID: ruleID, State: state})
	return err
}

func (s *workerStateStore) Clear(ctx context.Context, userID, ruleID string) error {
	_, err := s.w.call(ctx, stateClearReq{UserID: userID, RuleID: ruleID})
	return err
}

type workerHooks struct {
	w *worker
}

func (h *workerHooks) ReportRuleIssue(ctx context.Context, issue strategy.RuleIssue) error {
	_, err := h.w.call(ctx, reportIssueReq{Issue: issue})
	return err
}

func (h *workerHooks) ClearRuleIssue(ctx context.Context, userID, ruleID string) error {
	_, err := h.w.call(ctx, clearIssueReq{UserID: userID, RuleID: ruleID})
	return err
}

func (h *workerHooks) NotifyRuleEvent(ctx context.Context, event strategy.RuleEvent) error {
	_, err := h.w.call(ctx, notifyEventReq{Event: event})
	return err
}
