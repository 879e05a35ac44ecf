package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/adsweep/internal/channel"
	"github.com/nao1215/adsweep/internal/classify"
	"github.com/nao1215/adsweep/internal/dedup"
	"github.com/nao1215/adsweep/internal/detect"
	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/extract"
	"github.com/nao1215/adsweep/internal/filter"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/pipeline"
	"github.com/nao1215/adsweep/internal/scan"
	"github.com/nao1215/adsweep/internal/store"
	"github.com/nao1215/adsweep/internal/vocab"
	"golang.org/x/net/html"
)

var (
	// ErrUnknownCard is returned for ids that are not in the registry.
	ErrUnknownCard = errors.New("unknown card")

	// ErrNotLoggedIn is returned when an action requires a login.
	ErrNotLoggedIn = errors.New("login required")

	// ErrNoMedia is returned when a card has nothing to download.
	ErrNoMedia = errors.New("card has no downloadable media")
)

// SettingsStore is the persisted state a session reads and writes.
type SettingsStore interface {
	LoadFilter(ctx context.Context, defaults model.FilterState) (model.FilterState, error)
	SaveFilter(ctx context.Context, state model.FilterState) error
	LoadAuth(ctx context.Context) (store.Auth, error)
}

// Session is the reconciliation loop of one page.
type Session struct {
	doc        *dom.Document
	tracker    *dedup.Tracker
	detector   *detect.Detector
	classifier *classify.Classifier
	extractor  *extract.Extractor
	pipeline   *pipeline.Pipeline
	scheduler  *scan.Scheduler

	port     channel.Port
	settings SettingsStore
	notifier Notifier
	logger   *slog.Logger

	table          *vocab.Table
	libraryBase    string
	detectLimit    int
	schedulerOpts  []scan.Option
	filterDefaults model.FilterState

	mu        sync.Mutex
	filter    model.FilterState
	selection model.SelectionSet
	auth      store.Auth
	last      *model.ScanResult
	hooks     []func(*model.ScanResult)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithPort sets the outbound channel used for downloads, saved offers and
// stats updates.
func WithPort(port channel.Port) Option {
	return func(s *Session) {
		s.port = port
	}
}

// WithSettings sets the settings store read at Init.
func WithSettings(settings SettingsStore) Option {
	return func(s *Session) {
		s.settings = settings
	}
}

// WithNotifier sets where user-visible failures are reported.
func WithNotifier(n Notifier) Option {
	return func(s *Session) {
		s.notifier = n
	}
}

// WithVocabulary sets the label table used by every heuristic.
func WithVocabulary(table *vocab.Table) Option {
	return func(s *Session) {
		s.table = table
	}
}

// WithLibraryBase sets the canonical ad library address.
func WithLibraryBase(base string) Option {
	return func(s *Session) {
		s.libraryBase = base
	}
}

// WithDetectLimit overrides the per-scan detection cap.
func WithDetectLimit(n int) Option {
	return func(s *Session) {
		s.detectLimit = n
	}
}

// WithFilterDefaults sets the filter used before settings are loaded.
func WithFilterDefaults(state model.FilterState) Option {
	return func(s *Session) {
		s.filterDefaults = state
	}
}

// WithSchedulerOptions passes options to the scheduler.
func WithSchedulerOptions(opts ...scan.Option) Option {
	return func(s *Session) {
		s.schedulerOpts = append(s.schedulerOpts, opts...)
	}
}

// New creates a Session over doc. Call Init before Start.
func New(doc *dom.Document, opts ...Option) *Session {
	s := &Session{
		doc:            doc,
		tracker:        dedup.New(),
		table:          vocab.Default(),
		filterDefaults: model.NewFilterState(),
		selection:      model.NewSelectionSet(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	s.logger = s.logger.With("address", doc.Address())
	s.filter = s.filterDefaults
	if s.filter.VisibleLimit <= 0 {
		s.filter.VisibleLimit = model.DefaultVisibleLimit
	}

	s.detector = detect.New(s.table, detect.WithLimit(s.detectLimit))
	s.classifier = classify.New(s.table)
	s.extractor = extract.New(s.table,
		extract.WithLibraryBase(s.libraryBase),
		extract.WithLogger(s.logger))

	s.pipeline = pipeline.New(pipeline.WithLogger(s.logger))
	s.pipeline.AddSteps(pipeline.ScanSteps(s.tracker, s.detector, s.classifier, s, s.logger)...)

	schedOpts := append([]scan.Option{
		scan.WithLogger(s.logger),
		scan.WithCleanup(s.cleanup),
		scan.WithPendingCount(s.PendingCount),
	}, s.schedulerOpts...)
	s.scheduler = scan.New(s.runScan, schedOpts...)
	return s
}

// Init loads persisted filter and login state. A session without a settings
// store keeps its defaults.
func (s *Session) Init(ctx context.Context) error {
	if s.settings == nil {
		return nil
	}
	state, err := s.settings.LoadFilter(ctx, s.filterDefaults)
	if err != nil {
		return fmt.Errorf("failed to load filter settings: %w", err)
	}
	auth, err := s.settings.LoadAuth(ctx)
	if err != nil {
		return fmt.Errorf("failed to load login state: %w", err)
	}

	s.mu.Lock()
	limit := s.filter.VisibleLimit
	s.filter = state
	s.filter.VisibleLimit = limit
	s.auth = auth
	s.mu.Unlock()

	s.logger.Debug("settings loaded",
		"topic_only", state.TopicOnly,
		"min_active_count", state.MinActiveCount,
		"logged_in", auth.LoggedIn())
	return nil
}

// Start subscribes to document changes, starts reconciliation and runs a
// first scan.
func (s *Session) Start(ctx context.Context) error {
	if err := s.scheduler.Start(ctx, s.doc); err != nil {
		return err
	}
	s.scheduler.ForceScan()
	return nil
}

// Stop halts the scheduler and waits for a running scan.
func (s *Session) Stop() {
	s.scheduler.Stop()
}

// Reset forgets every card, the selection and the scheduler state.
func (s *Session) Reset() {
	s.scheduler.Reset()
	s.doc.Do(func(*html.Node) {
		s.tracker.Reset()
	})
	s.mu.Lock()
	s.selection.Clear()
	s.filter = s.filterDefaults
	if s.filter.VisibleLimit <= 0 {
		s.filter.VisibleLimit = model.DefaultVisibleLimit
	}
	s.last = nil
	s.mu.Unlock()
}

// Document returns the page the session works on.
func (s *Session) Document() *dom.Document {
	return s.doc
}

// Scheduler returns the session's scheduler.
func (s *Session) Scheduler() *scan.Scheduler {
	return s.scheduler
}

// Phases returns the scan phase names in execution order.
func (s *Session) Phases() []string {
	return s.pipeline.StepNames()
}

// OnScan registers a hook called after every scan with its result.
func (s *Session) OnScan(hook func(*model.ScanResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// ScanNow runs a scan immediately, bypassing debounce and throttle.
// It reports false if a scan was already running.
func (s *Session) ScanNow() (*model.ScanResult, bool) {
	if !s.scheduler.ForceScan() {
		return s.LastResult(), false
	}
	return s.LastResult(), true
}

// LastResult returns the result of the most recent scan, or nil.
func (s *Session) LastResult() *model.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Cards returns a snapshot of the registry in processing order.
func (s *Session) Cards() []model.Card {
	var out []model.Card
	s.doc.Do(func(*html.Node) {
		for _, c := range s.tracker.Cards() {
			out = append(out, *c)
		}
	})
	return out
}

// Filter returns the current filter state.
func (s *Session) Filter() model.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Project implements pipeline.Projector. The caller holds the document lock.
// The returned selection is a copy.
func (s *Session) Project(cards []*model.Card) (model.Projection, model.SelectionSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := model.NewSelectionSet()
	for id := range s.selection {
		sel.Add(id)
	}
	return filter.Project(cards, s.filter, sel), sel
}

// PendingCount counts candidate containers a scan still has work to do on.
// It is the reconciliation check.
func (s *Session) PendingCount() int {
	n := 0
	s.doc.Do(func(root *html.Node) {
		for _, c := range s.detector.Candidates(root) {
			if s.tracker.Pending(c) {
				n++
			}
		}
	})
	return n
}

// runScan is the scheduler's scan function.
func (s *Session) runScan(ctx context.Context) error {
	started := time.Now()
	var (
		result *model.ScanResult
		err    error
	)
	s.doc.Do(func(root *html.Node) {
		pass := model.NewScanPass(root, s.doc.Address())
		err = s.pipeline.Execute(ctx, pass)
		result = model.NewScanResult(pass, s.tracker.Cards(), started, time.Since(started))
	})
	if err != nil {
		result.Error = err.Error()
	}

	s.mu.Lock()
	s.last = result
	hooks := append([]func(*model.ScanResult){}, s.hooks...)
	s.mu.Unlock()

	s.logger.Info("scan complete",
		"found", result.Found,
		"admitted", result.Admitted,
		"duplicates_removed", result.DuplicatesRemoved,
		"vanished", result.Vanished,
		"visible", len(result.Projection.Visible),
		"topic_matches", result.Projection.Stats.TopicMatches)

	s.sendStats(ctx, result.Projection.Stats)
	for _, hook := range hooks {
		hook(result)
	}
	return err
}

// cleanup runs after scrolling settles.
func (s *Session) cleanup() {
	s.doc.Do(func(root *html.Node) {
		if n := s.tracker.CleanupDuplicates(root); n > 0 {
			s.logger.Warn("removed duplicate controls after scroll", "count", n)
		}
	})
}

// reproject recomputes visibility after a filter or selection change.
func (s *Session) reproject(ctx context.Context) model.Projection {
	var p model.Projection
	s.doc.Do(func(*html.Node) {
		cards := s.tracker.Cards()
		var sel model.SelectionSet
		p, sel = s.Project(cards)
		pipeline.ApplyProjection(cards, p, sel)
	})
	s.mu.Lock()
	if s.last != nil {
		s.last.Projection = p
	}
	s.mu.Unlock()
	s.sendStats(ctx, p.Stats)
	return p
}

// Stats returns freshly projected stats.
func (s *Session) Stats() model.Stats {
	var st model.Stats
	s.doc.Do(func(*html.Node) {
		p, _ := s.Project(s.tracker.Cards())
		st = p.Stats
	})
	return st
}

// sendStats reports stats to the background. It is fire-and-forget.
func (s *Session) sendStats(ctx context.Context, stats model.Stats) {
	if s.port == nil {
		return
	}
	req, err := channel.NewRequest(channel.ActionUpdateStats, stats)
	if err != nil {
		return
	}
	if _, err := s.port.Send(ctx, req); err != nil {
		s.logger.Debug("stats update not delivered", "error", err)
	}
}
