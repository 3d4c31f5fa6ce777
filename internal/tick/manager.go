package tick

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dipbot/internal/gateway/exchange"
	"dipbot/internal/logger"
	"dipbot/internal/strategy"
	"dipbot/internal/types"
)

const (
	// DefaultInterval is the tick period when the config does not override it.
	DefaultInterval = 5 * time.Second

	stopDrainTimeout = 3 * time.Second
)

// SnapshotProvider supplies the current rule/credential snapshot set at the
// start of every tick.
type SnapshotProvider interface {
	GetSnapshots(ctx context.Context) ([]types.UserSnapshot, error)
}

// ManagerParams aggregates the manager's host-side collaborators.
type ManagerParams struct {
	Provider SnapshotProvider
	Factory  exchange.Factory
	Store    strategy.StateStore
	Hooks    strategy.Hooks
	Interval time.Duration
}

// Manager owns the tick timer and exactly one worker. Ticks are never queued:
// if the previous tick is still in flight, or the worker has not signaled
// readiness, the tick is dropped. A crashed worker is respawned transparently
// while the timer keeps running.
type Manager struct {
	provider SnapshotProvider
	factory  exchange.Factory
	store    strategy.StateStore
	hooks    strategy.Hooks
	engine   *strategy.Engine
	interval time.Duration

	mu      sync.Mutex
	metrics Metrics
	running bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	eventCh chan any
	callCh  chan hostCall
	worker  *worker
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Provider == nil {
		return nil, fmt.Errorf("tick: snapshot provider is required")
	}
	if params.Factory == nil {
		return nil, fmt.Errorf("tick: exchange factory is required")
	}
	if params.Store == nil || params.Hooks == nil {
		return nil, fmt.Errorf("tick: state store and hooks are required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		provider: params.Provider,
		factory:  params.Factory,
		store:    params.Store,
		hooks:    params.Hooks,
		engine:   strategy.NewEngine(),
		interval: interval,
	}, nil
}

// Start spawns the worker and arms the timer. Calling Start on a running
// manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.eventCh = make(chan any, 16)
	m.callCh = make(chan hostCall, 16)
	m.mu.Unlock()

	m.spawnWorker()
	m.wg.Add(1)
	go m.run()
	logger.Infof("tick: manager started, interval=%s", m.interval)
}

// Stop disarms the timer and terminates the worker. A worker that does not
// acknowledge within the drain timeout is abandoned; nothing beyond what the
// state store already persisted is assumed durable.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.setReady(false)
	m.setBusy(false)
	logger.Infof("tick: manager stopped")
}

// Metrics returns a copy of the current tick metrics.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Interval exposes the tick period for collaborators sizing their timeouts.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

func (m *Manager) spawnWorker() {
	// Host calls time out after two tick intervals on the worker side.
	m.worker = newWorker(m.factory, m.engine, m.eventCh, m.callCh, 2*m.interval)
	m.worker.start()
}

func (m *Manager) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.shutdownWorker()
			return
		case <-ticker.C:
			m.tick()
		case ev := <-m.eventCh:
			m.handleWorkerEvent(ev)
		case call := <-m.callCh:
			// Dispatched off-loop so a slow host handler cannot stall
			// worker lifecycle events.
			go m.dispatch(call)
		}
	}
}

func (m *Manager) tick() {
	m.mu.Lock()
	if m.metrics.Busy || !m.metrics.WorkerReady {
		m.mu.Unlock()
		logger.Debugf("tick: skipped (busy=%v ready=%v)", m.metrics.Busy, m.metrics.WorkerReady)
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	snapshots, err := m.provider.GetSnapshots(ctx)
	cancel()
	if err != nil {
		logger.Warnf("tick: snapshot provider failed: %v", err)
		m.mu.Lock()
		m.metrics.LastError = fmt.Sprintf("snapshots: %v", err)
		m.mu.Unlock()
		return
	}

	tickID := uuid.NewString()
	select {
	case m.worker.inCh <- batchMsg{TickID: tickID, Snapshots: snapshots}:
	default:
		logger.Warnf("tick: worker inbox full, tick %s dropped", tickID)
		return
	}

	m.mu.Lock()
	m.metrics.Busy = true
	m.metrics.LastTickID = tickID
	m.metrics.LastTickAt = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Manager) handleWorkerEvent(ev any) {
	switch e := ev.(type) {
	case readyEvent:
		m.setReady(true)
		logger.Infof("tick: worker ready")
	case doneEvent:
		m.mu.Lock()
		m.metrics.Busy = false
		m.metrics.LastDuration = e.Duration
		m.metrics.LastUsers = e.Users
		m.metrics.LastRules = e.Rules
		if n := len(e.RuleErrors); n > 0 {
			last := e.RuleErrors[n-1]
			m.metrics.LastError = fmt.Sprintf("rule %s: %s", last.RuleID, last.Message)
		} else {
			m.metrics.LastError = ""
		}
		m.mu.Unlock()
		logger.Debugf("tick: %s done in %s (%d users, %d rules, %d errors)",
			e.TickID, e.Duration, e.Users, e.Rules, len(e.RuleErrors))
	case crashEvent:
		logger.Errorf("tick: worker crashed: %s, respawning", e.Reason)
		m.mu.Lock()
		m.metrics.Busy = false
		m.metrics.WorkerReady = false
		m.metrics.LastError = fmt.Sprintf("worker crash: %s", e.Reason)
		m.mu.Unlock()
		m.spawnWorker()
	case stoppedEvent:
		m.setReady(false)
	}
}

// shutdownWorker delivers the stop message and keeps answering host calls
// until the worker acknowledges or the drain timeout passes.
func (m *Manager) shutdownWorker() {
	select {
	case m.worker.inCh <- stopMsg{}:
	default:
	}
	deadline := time.NewTimer(stopDrainTimeout)
	defer deadline.Stop()
	for {
		select {
		case ev := <-m.eventCh:
			if _, ok := ev.(stoppedEvent); ok {
				return
			}
		case call := <-m.callCh:
			go m.dispatch(call)
		case <-deadline.C:
			logger.Warnf("tick: worker did not acknowledge stop, abandoning")
			return
		}
	}
}

// dispatch answers one correlated worker call against the host-side handlers.
// An unrecognized request kind is reported back as an error, never dropped.
func (m *Manager) dispatch(call hostCall) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*m.interval)
	defer cancel()

	var res hostResult
	switch req := call.Req.(type) {
	case stateLoadReq:
		res.State, res.Err = m.store.Load(ctx, req.UserID, req.RuleID)
	case stateSaveReq:
		res.Err = m.store.Save(ctx, req.UserID, req.RuleID, req.State)
	case stateClearReq:
		res.Err = m.store.Clear(ctx, req.UserID, req.RuleID)
	case reportIssueReq:
		res.Err = m.hooks.ReportRuleIssue(ctx, req.Issue)
	case clearIssueReq:
		res.Err = m.hooks.ClearRuleIssue(ctx, req.UserID, req.RuleID)
	case notifyEventReq:
		res.Err = m.hooks.NotifyRuleEvent(ctx, req.Event)
	default:
		res.Err = fmt.Errorf("unrecognized host request %T (call %s)", call.Req, call.ID)
	}
	call.Reply <- res
}

func (m *Manager) setReady(v bool) {
	m.mu.Lock()
	m.metrics.WorkerReady = v
	m.mu.Unlock()
}

func (m *Manager) setBusy(v bool) {
	m.mu.Lock()
	m.metrics.Busy = v
	m.mu.Unlock()
}
