// Package scan serializes scan requests coming from host mutations, scroll
// settling and periodic reconciliation.
//
// The host page mutates at will, so scans are requested from several
// independent sources. The Scheduler collapses bursts with a debounce window,
// enforces a minimum interval between scan starts, caps mutation-triggered
// requests per second, and guarantees that at most one scan runs at a time.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/model"
)

// Scheduler timing defaults.
const (
	// DefaultDebounce is the window in which schedule calls collapse.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultThrottle is the minimum interval between scan starts.
	DefaultThrottle = 800 * time.Millisecond

	// DefaultScrollSettle is how long scrolling must pause before cleanup runs.
	DefaultScrollSettle = 1000 * time.Millisecond

	// DefaultReconcileInterval is the period of the reconciliation check.
	DefaultReconcileInterval = 2000 * time.Millisecond

	// DefaultMutationLimit is the number of mutation-triggered requests
	// accepted per budget window.
	DefaultMutationLimit = 10

	// DefaultMutationWindow is the length of the mutation budget window.
	DefaultMutationWindow = time.Second
)

// Func runs one scan. It is never called concurrently with itself.
type Func func(ctx context.Context) error

// Counters are cumulative scheduler statistics.
type Counters struct {
	// Requested counts schedule calls that reached the debounce stage.
	Requested int
	// Coalesced counts schedule calls absorbed by a pending request.
	Coalesced int
	// Started counts scans that ran.
	Started int
	// Dropped counts settled requests rejected by the throttle or the mutex.
	Dropped int
	// Suppressed counts mutations ignored by the budget guard.
	Suppressed int
	// Forced counts ForceScan calls.
	Forced int
	// Failed counts scans that returned an error or panicked.
	Failed int
	// Reconciled counts reconciliation checks that found pending candidates.
	Reconciled int
}

// Scheduler decides when scans start.
type Scheduler struct {
	scan   Func
	clock  Clock
	logger *slog.Logger

	debounce     time.Duration
	throttle     time.Duration
	scrollSettle time.Duration
	reconcile    time.Duration
	mutLimit     int
	mutWindow    time.Duration

	cleanup      func()
	countPending func() int

	mu          sync.Mutex
	state       model.ScanState
	budget      model.MutationBudget
	counters    Counters
	pending     Timer
	pendingGen  int
	scrollTimer Timer
	scrollGen   int
	reconTimer  Timer
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTiming overrides the debounce, throttle, scroll-settle and
// reconciliation intervals. Non-positive values keep the defaults.
func WithTiming(debounce, throttle, scrollSettle, reconcile time.Duration) Option {
	return func(s *Scheduler) {
		if debounce > 0 {
			s.debounce = debounce
		}
		if throttle > 0 {
			s.throttle = throttle
		}
		if scrollSettle > 0 {
			s.scrollSettle = scrollSettle
		}
		if reconcile > 0 {
			s.reconcile = reconcile
		}
	}
}

// WithMutationBudget overrides the mutation budget.
func WithMutationBudget(limit int, window time.Duration) Option {
	return func(s *Scheduler) {
		if limit > 0 {
			s.mutLimit = limit
		}
		if window > 0 {
			s.mutWindow = window
		}
	}
}

// WithCleanup sets the hook run when scrolling settles, before a scan is
// scheduled.
func WithCleanup(fn func()) Option {
	return func(s *Scheduler) {
		s.cleanup = fn
	}
}

// WithPendingCount sets the reconciliation check. It returns the number of
// candidate containers that are not processed yet.
func WithPendingCount(fn func() int) Option {
	return func(s *Scheduler) {
		s.countPending = fn
	}
}

// New creates a stopped Scheduler for the given scan function.
func New(scan Func, opts ...Option) *Scheduler {
	s := &Scheduler{
		scan:         scan,
		clock:        RealClock(),
		logger:       slog.Default(),
		debounce:     DefaultDebounce,
		throttle:     DefaultThrottle,
		scrollSettle: DefaultScrollSettle,
		reconcile:    DefaultReconcileInterval,
		mutLimit:     DefaultMutationLimit,
		mutWindow:    DefaultMutationWindow,
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the event source and arms the reconciliation timer.
// Scans receive a context derived from ctx. A nil source is allowed.
func (s *Scheduler) Start(ctx context.Context, source dom.EventSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	if source != nil {
		s.unsubscribe = source.OnChange(s.handleEvent)
	}
	if s.countPending != nil {
		s.reconTimer = s.clock.AfterFunc(s.reconcile, s.reconcileTick)
	}
	s.logger.Debug("scheduler started",
		"debounce", s.debounce,
		"throttle", s.throttle,
		"reconcile", s.reconcile)
	return nil
}

// Stop cancels every timer and the event subscription and waits for a
// running scan to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopTimersLocked()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
	s.logger.Debug("scheduler stopped")
}

// Reset stops the scheduler and restores its initial state.
func (s *Scheduler) Reset() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = model.ScanState{}
	s.budget = model.MutationBudget{}
	s.counters = Counters{}
	s.ctx = context.Background()
	s.cancel = nil
}

// Schedule requests a scan after delay. A non-positive delay uses the
// debounce window. While a request is pending, further calls collapse into it.
//
// Design decision: We absorb calls into the pending request rather than
// restarting its timer, and drop throttled requests rather than queueing them,
// because:
//  1. A feed that mutates continuously would starve a restarting debounce
//  2. Every scan re-reads the whole document, so a dropped request loses nothing
//     the next scan or the reconciliation check will not pick up
//  3. A queue would replay stale requests after a long scan finishes
func (s *Scheduler) Schedule(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(delay)
}

func (s *Scheduler) scheduleLocked(delay time.Duration) {
	s.counters.Requested++
	if s.pending != nil {
		s.counters.Coalesced++
		return
	}
	if delay <= 0 {
		delay = s.debounce
	}
	s.pendingGen++
	gen := s.pendingGen
	s.state.Pending = true
	s.pending = s.clock.AfterFunc(delay, func() { s.settle(gen) })
}

// settle runs when a debounced request falls due.
func (s *Scheduler) settle(gen int) {
	s.mu.Lock()
	if gen != s.pendingGen || s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.state.Pending = false

	now := s.clock.Now()
	if s.state.InProgress {
		s.counters.Dropped++
		s.mu.Unlock()
		s.logger.Debug("scan request dropped", "reason", "in progress")
		return
	}
	if !s.state.LastStartTime.IsZero() && now.Sub(s.state.LastStartTime) < s.throttle {
		s.counters.Dropped++
		s.mu.Unlock()
		s.logger.Debug("scan request dropped", "reason", "throttled",
			"since_last", now.Sub(s.state.LastStartTime))
		return
	}
	ctx := s.beginLocked(now)
	s.mu.Unlock()

	s.run(ctx)
}

// ForceScan cancels any pending request, clears the throttle and runs a scan
// immediately on the calling goroutine. It reports whether a scan ran; it
// does not run while another scan is in progress.
func (s *Scheduler) ForceScan() bool {
	s.mu.Lock()
	s.counters.Forced++
	s.cancelPendingLocked()
	s.state.LastStartTime = time.Time{}
	if s.state.InProgress {
		s.mu.Unlock()
		s.logger.Debug("forced scan skipped", "reason", "in progress")
		return false
	}
	ctx := s.beginLocked(s.clock.Now())
	s.mu.Unlock()

	s.run(ctx)
	return true
}

// OnMutation records one host mutation and schedules a scan unless the
// mutation budget for the current window is exhausted.
func (s *Scheduler) OnMutation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.budget.WindowStart.IsZero() || now.Sub(s.budget.WindowStart) >= s.mutWindow {
		s.budget = model.MutationBudget{WindowStart: now}
	}
	s.budget.Count++
	if s.budget.Count > s.mutLimit {
		s.counters.Suppressed++
		if s.budget.Count == s.mutLimit+1 {
			s.logger.Debug("mutation budget exhausted", "limit", s.mutLimit, "window", s.mutWindow)
		}
		return
	}
	s.scheduleLocked(0)
}

// OnScroll restarts the scroll-settle timer.
func (s *Scheduler) OnScroll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scrollTimer != nil {
		s.scrollTimer.Stop()
	}
	s.scrollGen++
	gen := s.scrollGen
	s.scrollTimer = s.clock.AfterFunc(s.scrollSettle, func() { s.scrollSettled(gen) })
}

func (s *Scheduler) scrollSettled(gen int) {
	s.mu.Lock()
	if gen != s.scrollGen {
		s.mu.Unlock()
		return
	}
	s.scrollTimer = nil
	cleanup := s.cleanup
	s.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	s.Schedule(0)
}

func (s *Scheduler) reconcileTick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	countPending := s.countPending
	s.mu.Unlock()

	if n := countPending(); n > 0 {
		s.mu.Lock()
		s.counters.Reconciled++
		s.mu.Unlock()
		s.logger.Debug("reconciliation found unprocessed candidates", "count", n)
		s.ForceScan()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.reconTimer = s.clock.AfterFunc(s.reconcile, s.reconcileTick)
	}
}

// State returns a snapshot of the scan state.
func (s *Scheduler) State() model.ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Counters returns a snapshot of the cumulative statistics.
func (s *Scheduler) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

func (s *Scheduler) handleEvent(ev dom.Event) {
	switch ev.Kind {
	case dom.EventMutation:
		s.OnMutation()
	case dom.EventScroll:
		s.OnScroll()
	}
}

// beginLocked takes the scan mutex. The caller must hold s.mu.
func (s *Scheduler) beginLocked(now time.Time) context.Context {
	s.state.InProgress = true
	s.state.LastStartTime = now
	s.counters.Started++
	s.wg.Add(1)
	return s.ctx
}

// run executes one scan. The mutex flag is released on every path,
// including a panic inside the scan.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.release()
	defer func() {
		if r := recover(); r != nil {
			s.fail()
			s.logger.Error("scan panicked", "panic", r)
		}
	}()

	started := s.clock.Now()
	if err := s.scan(ctx); err != nil {
		s.fail()
		s.logger.Error("scan failed", "error", err)
		return
	}
	s.logger.Debug("scan finished", "elapsed", s.clock.Now().Sub(started))
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.state.InProgress = false
	s.mu.Unlock()
}

func (s *Scheduler) fail() {
	s.mu.Lock()
	s.counters.Failed++
	s.mu.Unlock()
}

func (s *Scheduler) cancelPendingLocked() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.pendingGen++
	s.state.Pending = false
}

func (s *Scheduler) stopTimersLocked() {
	s.cancelPendingLocked()
	if s.scrollTimer != nil {
		s.scrollTimer.Stop()
		s.scrollTimer = nil
	}
	s.scrollGen++
	if s.reconTimer != nil {
		s.reconTimer.Stop()
		s.reconTimer = nil
	}
}
