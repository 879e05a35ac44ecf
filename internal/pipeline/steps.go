package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/adsweep/internal/classify"
	"github.com/nao1215/adsweep/internal/dedup"
	"github.com/nao1215/adsweep/internal/detect"
	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/filter"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/render"
	"golang.org/x/net/html"
)

// Phase names, in execution order.
const (
	PhaseCleanup = "cleanup"
	PhaseDetect  = "detect"
	PhaseAdmit   = "admit"
	PhasePrune   = "prune"
	PhaseProject = "project"
)

// CleanupStep removes duplicate control subtrees left behind by overlapping
// scans.
type CleanupStep struct {
	tracker *dedup.Tracker
	logger  *slog.Logger
}

// NewCleanupStep creates a CleanupStep.
func NewCleanupStep(tracker *dedup.Tracker, logger *slog.Logger) *CleanupStep {
	return &CleanupStep{tracker: tracker, logger: orDefault(logger)}
}

// Name returns the step name.
func (s *CleanupStep) Name() string { return PhaseCleanup }

// Do runs the cleanup.
func (s *CleanupStep) Do(_ context.Context, pass *model.ScanPass) error {
	pass.DuplicatesRemoved = s.tracker.CleanupDuplicates(pass.Root)
	if pass.DuplicatesRemoved > 0 {
		s.logger.Warn("removed duplicate controls", "count", pass.DuplicatesRemoved)
	}
	return nil
}

// DetectStep finds candidate containers that still need work.
type DetectStep struct {
	detector *detect.Detector
	tracker  *dedup.Tracker
}

// NewDetectStep creates a DetectStep. Containers the tracker reports as
// settled are skipped before the detector's result cap applies.
func NewDetectStep(detector *detect.Detector, tracker *dedup.Tracker) *DetectStep {
	return &DetectStep{detector: detector, tracker: tracker}
}

// Name returns the step name.
func (s *DetectStep) Name() string { return PhaseDetect }

// Do runs the detector.
func (s *DetectStep) Do(_ context.Context, pass *model.ScanPass) error {
	var keep func(*html.Node) bool
	if s.tracker != nil {
		keep = s.tracker.Pending
	}
	pass.Containers = s.detector.Detect(pass.Root, keep)
	return nil
}

// AdmitStep turns new containers into cards: dedup check, classify, mark,
// then inject controls. Containers that carry a known stamp are rebound to
// their card instead.
type AdmitStep struct {
	tracker    *dedup.Tracker
	classifier *classify.Classifier
	logger     *slog.Logger
}

// NewAdmitStep creates an AdmitStep.
func NewAdmitStep(tracker *dedup.Tracker, classifier *classify.Classifier, logger *slog.Logger) *AdmitStep {
	return &AdmitStep{tracker: tracker, classifier: classifier, logger: orDefault(logger)}
}

// Name returns the step name.
func (s *AdmitStep) Name() string { return PhaseAdmit }

// Do admits every new container of the pass.
func (s *AdmitStep) Do(_ context.Context, pass *model.ScanPass) error {
	for _, container := range pass.Containers {
		if stamp := dom.Attr(container, dom.ProcessedAttr); stamp != "" {
			if card, ok := s.tracker.Adopt(container); ok {
				// The host may re-render a card without our controls.
				if render.Controls(container) == nil {
					render.Inject(container, card)
				}
				continue
			}
			// Stamped by an earlier session, e.g. a saved snapshot.
			card := s.admit(container)
			card.UniqueID = stamp
			s.tracker.MarkProcessed(container, card)
			if render.Controls(container) == nil {
				render.Inject(container, card)
			}
			pass.Admitted = append(pass.Admitted, card)
			continue
		}
		if !s.tracker.IsNew(container) {
			continue
		}

		card := s.admit(container)
		s.tracker.MarkProcessed(container, card)
		render.Inject(container, card)
		pass.Admitted = append(pass.Admitted, card)
	}
	if len(pass.Admitted) > 0 {
		s.logger.Debug("admitted cards", "count", len(pass.Admitted))
	}
	return nil
}

func (s *AdmitStep) admit(container *html.Node) *model.Card {
	card := model.NewCard(container)
	card.IsTopicMatch = s.classifier.Classify(container)
	card.ActiveCount = s.classifier.ActiveCount(container)
	return card
}

// PruneStep drops cards whose containers the host removed.
type PruneStep struct {
	tracker *dedup.Tracker
	logger  *slog.Logger
}

// NewPruneStep creates a PruneStep.
func NewPruneStep(tracker *dedup.Tracker, logger *slog.Logger) *PruneStep {
	return &PruneStep{tracker: tracker, logger: orDefault(logger)}
}

// Name returns the step name.
func (s *PruneStep) Name() string { return PhasePrune }

// Do prunes vanished cards.
func (s *PruneStep) Do(_ context.Context, pass *model.ScanPass) error {
	pass.Vanished = s.tracker.Prune(pass.Root)
	if pass.Vanished > 0 {
		s.logger.Debug("cards vanished", "count", pass.Vanished)
	}
	return nil
}

// Projector computes visibility for the current cards.
type Projector interface {
	Project(cards []*model.Card) (model.Projection, model.SelectionSet)
}

// ProjectStep applies the filter to every known card and reflects the result
// on the containers.
type ProjectStep struct {
	tracker   *dedup.Tracker
	projector Projector
}

// NewProjectStep creates a ProjectStep.
func NewProjectStep(tracker *dedup.Tracker, projector Projector) *ProjectStep {
	return &ProjectStep{tracker: tracker, projector: projector}
}

// Name returns the step name.
func (s *ProjectStep) Name() string { return PhaseProject }

// Do projects and applies visibility.
func (s *ProjectStep) Do(_ context.Context, pass *model.ScanPass) error {
	cards := s.tracker.Cards()
	projection, selection := s.projector.Project(cards)
	ApplyProjection(cards, projection, selection)
	pass.Projection = projection
	return nil
}

// ApplyProjection records a projection on cards and their containers.
// Hidden containers stay mounted, so their controls keep their state.
func ApplyProjection(cards []*model.Card, projection model.Projection, selection model.SelectionSet) {
	filter.Apply(cards, projection, selection)
	for _, c := range cards {
		if c.Container == nil {
			continue
		}
		render.SetVisible(c.Container, c.Visible)
		render.SetSelected(c.Container, c.Selected)
	}
}

// ScanSteps returns the scan phases in their required order.
func ScanSteps(
	tracker *dedup.Tracker,
	detector *detect.Detector,
	classifier *classify.Classifier,
	projector Projector,
	logger *slog.Logger,
) []Step {
	return []Step{
		NewCleanupStep(tracker, logger),
		NewDetectStep(detector, tracker),
		NewAdmitStep(tracker, classifier, logger),
		NewPruneStep(tracker, logger),
		NewProjectStep(tracker, projector),
	}
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
