package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/nao1215/adsweep/internal/channel"
	"github.com/nao1215/adsweep/internal/extract"
	"github.com/nao1215/adsweep/internal/filter"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/pipeline"
	"github.com/nao1215/adsweep/internal/render"
	"golang.org/x/net/html"
)

// ToggleSelect flips the selection of a card and reports whether it is now
// selected.
func (s *Session) ToggleSelect(ctx context.Context, id string) (bool, error) {
	var (
		selected bool
		err      error
	)
	s.doc.Do(func(*html.Node) {
		card, ok := s.tracker.Lookup(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownCard, id)
			return
		}
		s.mu.Lock()
		selected = s.selection.Toggle(id)
		s.mu.Unlock()
		card.Selected = selected
		render.SetSelected(card.Container, selected)
	})
	if err != nil {
		return false, err
	}
	s.sendStats(ctx, s.Stats())
	return selected, nil
}

// SelectAll selects every currently visible card.
func (s *Session) SelectAll(ctx context.Context) int {
	n := 0
	s.doc.Do(func(*html.Node) {
		cards := s.tracker.Cards()
		p, sel := s.Project(cards)
		s.mu.Lock()
		for _, id := range p.Visible {
			s.selection.Add(id)
			sel.Add(id)
			n++
		}
		s.mu.Unlock()
		pipeline.ApplyProjection(cards, p, sel)
	})
	s.sendStats(ctx, s.Stats())
	return n
}

// ClearSelection deselects every card.
func (s *Session) ClearSelection(ctx context.Context) {
	s.mu.Lock()
	s.selection.Clear()
	s.mu.Unlock()
	s.reproject(ctx)
}

// Selection returns the selected ids.
func (s *Session) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.IDs()
}

// LoadMore raises the visible limit by one step and reprojects.
func (s *Session) LoadMore(ctx context.Context) model.Projection {
	s.mu.Lock()
	s.filter = filter.LoadMore(s.filter)
	s.mu.Unlock()
	return s.reproject(ctx)
}

// SetTopicOnly changes and persists the topic filter.
func (s *Session) SetTopicOnly(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.filter.TopicOnly = on
	s.mu.Unlock()
	return s.filterChanged(ctx)
}

// SetMinActiveCount changes and persists the minimum active count.
func (s *Session) SetMinActiveCount(ctx context.Context, n int) error {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.filter.MinActiveCount = n
	s.mu.Unlock()
	return s.filterChanged(ctx)
}

// SetFilter applies an updateFilter request.
func (s *Session) SetFilter(ctx context.Context, name string, value json.RawMessage) error {
	switch name {
	case channel.FilterTopic:
		var on bool
		if err := json.Unmarshal(value, &on); err != nil {
			return fmt.Errorf("%w: topic filter expects a boolean", channel.ErrInvalidPayload)
		}
		return s.SetTopicOnly(ctx, on)
	case channel.FilterMinActive:
		var n int
		if err := json.Unmarshal(value, &n); err != nil {
			return fmt.Errorf("%w: minActive filter expects an integer", channel.ErrInvalidPayload)
		}
		return s.SetMinActiveCount(ctx, n)
	default:
		return fmt.Errorf("%w: unknown filter %q", channel.ErrInvalidPayload, name)
	}
}

func (s *Session) filterChanged(ctx context.Context) error {
	state := s.Filter()
	s.reproject(ctx)
	if s.settings == nil {
		return nil
	}
	if err := s.settings.SaveFilter(ctx, state); err != nil {
		return fmt.Errorf("failed to persist filter: %w", err)
	}
	return nil
}

// LoggedIn reports whether a user is logged in.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth.LoggedIn()
}

// Reference computes and caches the external reference of a card.
func (s *Session) Reference(id string) (extract.Reference, error) {
	var (
		ref extract.Reference
		err error
	)
	s.doc.Do(func(*html.Node) {
		card, ok := s.tracker.Lookup(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownCard, id)
			return
		}
		ref = s.extractor.Extract(card.Container, s.doc.Address())
		card.Reference = ref.Value
	})
	return ref, err
}

// Download asks the background to fetch every media file of a card.
// The download control is disabled while requests are in flight and
// re-enabled afterwards, whatever the outcome.
func (s *Session) Download(ctx context.Context, id string) error {
	ref, err := s.Reference(id)
	if err != nil {
		return err
	}

	var media []string
	s.doc.Do(func(*html.Node) {
		card, ok := s.tracker.Lookup(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownCard, id)
			return
		}
		media = extract.MediaURLs(card.Container, s.doc.Address())
		render.SetBusy(card.Container, render.ActionDownload, true)
	})
	if err != nil {
		return err
	}
	defer s.release(id, render.ActionDownload)

	if len(media) == 0 {
		s.notifier.Notify(LevelError, "Nothing to download for this ad")
		return fmt.Errorf("%w: %s", ErrNoMedia, id)
	}
	if s.port == nil {
		return s.fail("download", channel.ErrUnavailable)
	}

	base := ref.ID
	if base == "" {
		base = model.ShortID(id)
	}
	for i, u := range media {
		payload := channel.DownloadPayload{URL: u, Filename: mediaName(base, i, len(media), u)}
		if _, err := channel.Send(ctx, s.port, channel.ActionDownload, payload); err != nil {
			return s.fail("download", err)
		}
	}
	s.notifier.Notify(LevelInfo, fmt.Sprintf("Downloaded %d file(s)", len(media)))
	return nil
}

// SaveOffer asks the background to store a card as a named offer.
// It requires a logged-in user.
func (s *Session) SaveOffer(ctx context.Context, id, name string) error {
	if !s.LoggedIn() {
		s.notifier.Notify(LevelError, "Log in to save offers")
		return ErrNotLoggedIn
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: offer name is required", channel.ErrInvalidPayload)
	}
	ref, err := s.Reference(id)
	if err != nil {
		return err
	}

	s.doc.Do(func(*html.Node) {
		if card, ok := s.tracker.Lookup(id); ok {
			render.SetBusy(card.Container, render.ActionSave, true)
		}
	})
	defer s.release(id, render.ActionSave)

	if s.port == nil {
		return s.fail("save offer", channel.ErrUnavailable)
	}
	payload := channel.SaveOfferPayload{OfferName: name, ExternalReference: ref.Value}
	if _, err := channel.Send(ctx, s.port, channel.ActionSaveOffer, payload); err != nil {
		return s.fail("save offer", err)
	}
	s.notifier.Notify(LevelInfo, "Offer saved")
	return nil
}

// Progress reports one finished item of a bulk download.
type Progress struct {
	Index int
	Total int
	ID    string
	Err   error
}

// BulkResult summarizes a bulk download.
type BulkResult struct {
	Succeeded int
	Failed    []string
}

// BulkDownload downloads every selected card, one at a time and in registry
// order. A failed item is reported and skipped; the rest continue.
func (s *Session) BulkDownload(ctx context.Context, progress func(Progress)) BulkResult {
	var ids []string
	s.doc.Do(func(*html.Node) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, c := range s.tracker.Cards() {
			if s.selection.Contains(c.UniqueID) {
				ids = append(ids, c.UniqueID)
			}
		}
	})

	var result BulkResult
	for i, id := range ids {
		err := s.Download(ctx, id)
		if err != nil {
			result.Failed = append(result.Failed, id)
		} else {
			result.Succeeded++
		}
		if progress != nil {
			progress(Progress{Index: i + 1, Total: len(ids), ID: id, Err: err})
		}
	}
	s.logger.Info("bulk download finished",
		"succeeded", result.Succeeded,
		"failed", len(result.Failed))
	return result
}

// fail surfaces a failed background request to the user.
func (s *Session) fail(what string, err error) error {
	if errors.Is(err, channel.ErrUnavailable) {
		s.notifier.Notify(LevelError, "Connection lost, please try again")
	} else {
		s.notifier.Notify(LevelError, fmt.Sprintf("Could not %s: %v", what, err))
	}
	s.logger.Warn("background request failed", "action", what, "error", err)
	return err
}

// release re-enables an action control.
func (s *Session) release(id, action string) {
	s.doc.Do(func(*html.Node) {
		if card, ok := s.tracker.Lookup(id); ok {
			render.SetBusy(card.Container, action, false)
		}
	})
}

func mediaName(base string, i, total int, rawURL string) string {
	ext := ""
	if u, err := url.Parse(rawURL); err == nil {
		ext = path.Ext(u.Path)
	}
	if total == 1 {
		return base + ext
	}
	return fmt.Sprintf("%s_%d%s", base, i+1, ext)
}
