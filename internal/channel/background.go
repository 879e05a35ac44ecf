package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/adsweep/internal/model"
)

// OfferStore persists what the background handlers produce.
type OfferStore interface {
	SaveOffer(ctx context.Context, offer *model.Offer) (int64, error)
	RecordDownload(ctx context.Context, d *model.Download) (int64, error)
}

// Background serves the outbound actions of a session: downloads, saved
// offers and stats updates.
type Background struct {
	downloader *Downloader
	store      OfferStore
	logger     *slog.Logger

	mu    sync.Mutex
	stats model.Stats
}

// NewBackground creates handlers backed by the downloader and the store.
// A nil store disables saveOffer.
func NewBackground(downloader *Downloader, store OfferStore, logger *slog.Logger) *Background {
	if logger == nil {
		logger = slog.Default()
	}
	return &Background{downloader: downloader, store: store, logger: logger}
}

// Register installs the handlers on the router.
func (b *Background) Register(r *Router) {
	r.Handle(ActionDownload, b.handleDownload)
	r.Handle(ActionSaveOffer, b.handleSaveOffer)
	r.Handle(ActionUpdateStats, b.handleUpdateStats)
}

// Stats returns the last stats reported by the session.
func (b *Background) Stats() model.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Background) handleDownload(ctx context.Context, payload json.RawMessage) (any, error) {
	var p DownloadPayload
	if err := Decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidPayload)
	}

	d, err := b.downloader.Fetch(ctx, p.URL, p.Filename)
	if err != nil {
		return nil, err
	}
	if b.store != nil {
		id, err := b.store.RecordDownload(ctx, d)
		if err != nil {
			b.logger.Warn("failed to record download", "path", d.Path, "error", err)
		}
		d.ID = id
	}
	b.logger.Info("media downloaded",
		"file", d.Filename,
		"size", d.Size,
		"exif_tags", len(d.Metadata))
	return d, nil
}

func (b *Background) handleSaveOffer(ctx context.Context, payload json.RawMessage) (any, error) {
	var p SaveOfferPayload
	if err := Decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.OfferName) == "" {
		return nil, fmt.Errorf("%w: offerName is required", ErrInvalidPayload)
	}
	if b.store == nil {
		return nil, fmt.Errorf("%w: no offer store configured", ErrUnavailable)
	}

	offer := &model.Offer{
		Name:              strings.TrimSpace(p.OfferName),
		ExternalReference: p.ExternalReference,
		SavedAt:           time.Now(),
	}
	id, err := b.store.SaveOffer(ctx, offer)
	if err != nil {
		return nil, fmt.Errorf("failed to save offer: %w", err)
	}
	offer.ID = id
	b.logger.Info("offer saved", "name", offer.Name, "reference", offer.ExternalReference)
	return offer, nil
}

func (b *Background) handleUpdateStats(_ context.Context, payload json.RawMessage) (any, error) {
	var s model.Stats
	if err := Decode(payload, &s); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.stats = s
	b.mu.Unlock()
	b.logger.Debug("stats updated",
		"total", s.Total,
		"topic_matches", s.TopicMatches,
		"selected", s.Selected)
	return nil, nil
}
