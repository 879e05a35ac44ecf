package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nao1215/adsweep/internal/channel"
	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/extract"
	adslog "github.com/nao1215/adsweep/internal/log"
	"github.com/nao1215/adsweep/internal/model"
	"github.com/nao1215/adsweep/internal/render"
	"github.com/nao1215/adsweep/internal/scan"
	"github.com/nao1215/adsweep/internal/store"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const pageAddress = "https://www.facebook.com/ads/library/?q=bread"

const page = `<html><body>
<div id="feed">
  <div id="topic" data-adsweep-w="320" data-adsweep-h="560">
    <span>Sponsored</span><img src="/media/bread.jpg">
    <p>Fresh bread delivered every morning, order through WhatsApp today.</p>
    <p>4 ads use this creative and text</p>
    <p>Library ID: 1234567890123456</p>
    <a href="#">See ad details</a>
  </div>
  <div id="plain" data-adsweep-w="320" data-adsweep-h="560">
    <span>Sponsored</span><img src="data:image/png;base64,AAAA">
    <p>Handmade leather boots, resoled for life, shipped from our workshop.</p>
    <a href="#">See ad details</a>
  </div>
</div>
</body></html>`

const extraCard = `<div id="late" data-adsweep-w="320" data-adsweep-h="560">
  <span>Sponsored</span><img src="/media/late.jpg">
  <p>Late arriving card with enough descriptive text to pass the length check.</p>
  <a href="#">See ad details</a>
</div>`

// recordingNotifier keeps every notification.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(level Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prefix := "info: "
	if level == LevelError {
		prefix = "error: "
	}
	n.messages = append(n.messages, prefix+message)
}

func (n *recordingNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1]
}

// background is a stub of the background side of the port.
type background struct {
	mu        sync.Mutex
	downloads []channel.DownloadPayload
	offers    []channel.SaveOfferPayload
	stats     []model.Stats
	fail      error
}

func (b *background) router() *channel.Router {
	r := channel.NewRouter(channel.WithRouterLogger(adslog.Discard()))
	r.Handle(channel.ActionDownload, func(_ context.Context, payload json.RawMessage) (any, error) {
		var p channel.DownloadPayload
		if err := channel.Decode(payload, &p); err != nil {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.fail != nil {
			return nil, b.fail
		}
		b.downloads = append(b.downloads, p)
		return nil, nil
	})
	r.Handle(channel.ActionSaveOffer, func(_ context.Context, payload json.RawMessage) (any, error) {
		var p channel.SaveOfferPayload
		if err := channel.Decode(payload, &p); err != nil {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.offers = append(b.offers, p)
		return nil, nil
	})
	r.Handle(channel.ActionUpdateStats, func(_ context.Context, payload json.RawMessage) (any, error) {
		var st model.Stats
		if err := channel.Decode(payload, &st); err != nil {
			return nil, err
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.stats = append(b.stats, st)
		return nil, nil
	})
	return r
}

type fixture struct {
	doc      *dom.Document
	session  *Session
	bg       *background
	router   *channel.Router
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureFrom(t, page, opts...)
}

func newFixtureFrom(t *testing.T, markup string, opts ...Option) *fixture {
	t.Helper()
	doc, err := dom.Parse(strings.NewReader(markup), pageAddress)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{doc: doc, bg: &background{}, notifier: &recordingNotifier{}}
	f.router = f.bg.router()
	opts = append([]Option{
		WithLogger(adslog.Discard()),
		WithPort(f.router),
		WithNotifier(f.notifier),
	}, opts...)
	f.session = New(doc, opts...)
	f.session.Register(f.router)
	return f
}

// scanned returns a fixture after one scan, with the ids of both cards.
func scanned(t *testing.T, opts ...Option) (*fixture, string, string) {
	t.Helper()
	f := newFixture(t, opts...)
	if _, ran := f.session.ScanNow(); !ran {
		t.Fatal("expected the scan to run")
	}
	return f, f.cardID(t, "topic"), f.cardID(t, "plain")
}

func (f *fixture) cardID(t *testing.T, elementID string) string {
	t.Helper()
	var id string
	f.doc.Do(func(root *html.Node) {
		n := dom.FindFirst(root, func(n *html.Node) bool { return dom.Attr(n, "id") == elementID })
		id = dom.Attr(n, dom.ProcessedAttr)
	})
	if id == "" {
		t.Fatalf("container %s is not stamped", elementID)
	}
	return id
}

func (f *fixture) container(elementID string) *html.Node {
	var n *html.Node
	f.doc.Do(func(root *html.Node) {
		n = dom.FindFirst(root, func(n *html.Node) bool { return dom.Attr(n, "id") == elementID })
	})
	return n
}

func TestScanNow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if got := f.session.PendingCount(); got != 2 {
		t.Errorf("expected 2 pending candidates, got %d", got)
	}

	var hooked *model.ScanResult
	f.session.OnScan(func(r *model.ScanResult) { hooked = r })

	result, ran := f.session.ScanNow()
	if !ran {
		t.Fatal("expected the scan to run")
	}
	if result.Found != 2 || result.Admitted != 2 || result.Error != "" {
		t.Errorf("unexpected result %+v", result)
	}
	if result.Projection.Stats.TopicMatches != 1 {
		t.Errorf("expected one topic match, got %+v", result.Projection.Stats)
	}
	if hooked != result || f.session.LastResult() != result {
		t.Error("expected the hook and LastResult to see the scan result")
	}
	if got := f.session.PendingCount(); got != 0 {
		t.Errorf("expected no pending candidates after the scan, got %d", got)
	}
	if len(f.bg.stats) != 1 || f.bg.stats[0].Total != 2 {
		t.Errorf("expected stats to be reported once, got %+v", f.bg.stats)
	}
	want := []string{"cleanup", "detect", "admit", "prune", "project"}
	if diff := cmp.Diff(want, f.session.Phases()); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}

	again, _ := f.session.ScanNow()
	if again.Admitted != 0 || len(f.session.Cards()) != 2 {
		t.Errorf("expected a rescan to admit nothing, got %d admitted", again.Admitted)
	}
}

func TestCardsReturnsCopies(t *testing.T) {
	t.Parallel()

	f, topicID, _ := scanned(t)
	cards := f.session.Cards()
	if len(cards) != 2 || cards[0].UniqueID != topicID {
		t.Fatalf("expected cards in processing order, got %+v", cards)
	}
	if !cards[0].IsTopicMatch || cards[0].ActiveCount != 4 || cards[1].ActiveCount != 1 {
		t.Errorf("unexpected classification %+v %+v", cards[0], cards[1])
	}
	cards[0].Selected = true
	if f.session.Cards()[0].Selected {
		t.Error("expected Cards to return copies")
	}
}

func TestInitLoadsSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := store.Open(t.TempDir(), store.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.SaveFilter(ctx, model.FilterState{TopicOnly: true, MinActiveCount: 2}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveAuth(ctx, store.Auth{AccessToken: "tok", UserEmail: "a@example.com"}); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, WithSettings(db))
	if err := f.session.Init(ctx); err != nil {
		t.Fatal(err)
	}
	got := f.session.Filter()
	if !got.TopicOnly || got.MinActiveCount != 2 || got.VisibleLimit != model.DefaultVisibleLimit {
		t.Errorf("unexpected filter %+v", got)
	}
	if !f.session.LoggedIn() {
		t.Error("expected the stored login to be loaded")
	}

	result, _ := f.session.ScanNow()
	if len(result.Projection.Visible) != 1 || !render.Hidden(f.container("plain")) {
		t.Errorf("expected only the topic card visible, got %+v", result.Projection)
	}

	if err := f.session.SetTopicOnly(ctx, false); err != nil {
		t.Fatal(err)
	}
	stored, err := db.LoadFilter(ctx, model.NewFilterState())
	if err != nil {
		t.Fatal(err)
	}
	if stored.TopicOnly || stored.MinActiveCount != 2 {
		t.Errorf("expected the change to be persisted, got %+v", stored)
	}
}

type failingSettings struct {
	filterErr, authErr, saveErr error
}

func (f failingSettings) LoadFilter(_ context.Context, d model.FilterState) (model.FilterState, error) {
	return d, f.filterErr
}

func (f failingSettings) SaveFilter(context.Context, model.FilterState) error { return f.saveErr }

func (f failingSettings) LoadAuth(context.Context) (store.Auth, error) {
	return store.Auth{}, f.authErr
}

func TestInitErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name     string
		settings failingSettings
		want     string
	}{
		{name: "filter", settings: failingSettings{filterErr: boom}, want: "failed to load filter settings"},
		{name: "auth", settings: failingSettings{authErr: boom}, want: "failed to load login state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, WithSettings(tt.settings))
			err := f.session.Init(context.Background())
			if !errors.Is(err, boom) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q wrapping boom, got %v", tt.want, err)
			}
		})
	}

	t.Run("persist failure", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, WithSettings(failingSettings{saveErr: boom}))
		err := f.session.SetMinActiveCount(context.Background(), 3)
		if !errors.Is(err, boom) {
			t.Errorf("expected the save error, got %v", err)
		}
		if f.session.Filter().MinActiveCount != 3 {
			t.Error("expected the in-memory filter to change anyway")
		}
	})

	t.Run("no settings store keeps defaults", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, WithFilterDefaults(model.FilterState{TopicOnly: true}))
		if err := f.session.Init(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got := f.session.Filter(); !got.TopicOnly || got.VisibleLimit != model.DefaultVisibleLimit {
			t.Errorf("unexpected filter %+v", got)
		}
	})
}

func TestSelection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, topicID, plainID := scanned(t)

	selected, err := f.session.ToggleSelect(ctx, plainID)
	if err != nil || !selected {
		t.Fatalf("expected the card to be selected, got %v (%v)", selected, err)
	}
	if !dom.HasAttr(render.Button(f.container("plain"), render.ActionSelect), "checked") {
		t.Error("expected the checkbox to be checked")
	}
	if got := f.session.Stats().Selected; got != 1 {
		t.Errorf("expected 1 selected, got %d", got)
	}

	selected, _ = f.session.ToggleSelect(ctx, plainID)
	if selected {
		t.Error("expected a second toggle to deselect")
	}

	if _, err := f.session.ToggleSelect(ctx, "nope"); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("expected ErrUnknownCard, got %v", err)
	}

	if err := f.session.SetTopicOnly(ctx, true); err != nil {
		t.Fatal(err)
	}
	if n := f.session.SelectAll(ctx); n != 1 {
		t.Errorf("expected only the visible card to be selected, got %d", n)
	}
	if diff := cmp.Diff([]string{topicID}, f.session.Selection()); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}

	f.session.ClearSelection(ctx)
	if len(f.session.Selection()) != 0 || f.session.Stats().Selected != 0 {
		t.Error("expected an empty selection")
	}
	if dom.HasAttr(render.Button(f.container("topic"), render.ActionSelect), "checked") {
		t.Error("expected the checkbox to be cleared")
	}
}

func TestFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("min active count", func(t *testing.T) {
		t.Parallel()

		f, _, _ := scanned(t)
		if err := f.session.SetMinActiveCount(ctx, 4); err != nil {
			t.Fatal(err)
		}
		if render.Hidden(f.container("topic")) || !render.Hidden(f.container("plain")) {
			t.Error("expected the inclusive threshold to keep the card with 4 ads")
		}
		if err := f.session.SetMinActiveCount(ctx, -3); err != nil {
			t.Fatal(err)
		}
		if f.session.Filter().MinActiveCount != 0 || render.Hidden(f.container("plain")) {
			t.Error("expected a negative threshold to disable the filter")
		}
		if got := f.session.LastResult().Projection; len(got.Visible) != 2 {
			t.Errorf("expected the last result to carry the new projection, got %+v", got)
		}
	})

	t.Run("load more", func(t *testing.T) {
		t.Parallel()

		f, _, _ := scanned(t)
		p := f.session.LoadMore(ctx)
		if f.session.Filter().VisibleLimit != 2*model.DefaultVisibleLimit {
			t.Errorf("expected limit %d, got %d", 2*model.DefaultVisibleLimit, f.session.Filter().VisibleLimit)
		}
		if len(p.Visible) != 2 {
			t.Errorf("expected both cards visible, got %+v", p)
		}
	})

	t.Run("set filter payloads", func(t *testing.T) {
		t.Parallel()

		f, _, _ := scanned(t)
		tests := []struct {
			name    string
			filter  string
			value   string
			wantErr bool
		}{
			{name: "topic on", filter: channel.FilterTopic, value: "true"},
			{name: "min active", filter: channel.FilterMinActive, value: "3"},
			{name: "topic not boolean", filter: channel.FilterTopic, value: `"yes"`, wantErr: true},
			{name: "min active not integer", filter: channel.FilterMinActive, value: "2.5", wantErr: true},
			{name: "unknown filter", filter: "color", value: "1", wantErr: true},
		}
		for _, tt := range tests {
			err := f.session.SetFilter(ctx, tt.filter, json.RawMessage(tt.value))
			if tt.wantErr {
				if !errors.Is(err, channel.ErrInvalidPayload) {
					t.Errorf("%s: expected ErrInvalidPayload, got %v", tt.name, err)
				}
				continue
			}
			if err != nil {
				t.Errorf("%s: unexpected error %v", tt.name, err)
			}
		}
		got := f.session.Filter()
		if !got.TopicOnly || got.MinActiveCount != 3 {
			t.Errorf("unexpected filter %+v", got)
		}
	})
}

func TestReference(t *testing.T) {
	t.Parallel()

	f, topicID, plainID := scanned(t)

	ref, err := f.session.Reference(topicID)
	if err != nil {
		t.Fatal(err)
	}
	if ref.ID != "1234567890123456" || ref.Strategy != extract.StrategyLabel {
		t.Errorf("unexpected reference %+v", ref)
	}
	if f.session.Cards()[0].Reference != ref.Value {
		t.Error("expected the reference to be cached on the card")
	}

	ref, err = f.session.Reference(plainID)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Value != pageAddress || ref.Strategy != extract.StrategyPageAddress {
		t.Errorf("expected the page address fallback, got %+v", ref)
	}

	if _, err := f.session.Reference("nope"); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("expected ErrUnknownCard, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("sends one request per media file", func(t *testing.T) {
		t.Parallel()

		f, topicID, _ := scanned(t)
		if err := f.session.Download(ctx, topicID); err != nil {
			t.Fatal(err)
		}
		want := []channel.DownloadPayload{{URL: "https://www.facebook.com/media/bread.jpg", Filename: "1234567890123456.jpg"}}
		if diff := cmp.Diff(want, f.bg.downloads); diff != "" {
			t.Errorf("download requests mismatch (-want +got):\n%s", diff)
		}
		if render.Busy(f.container("topic"), render.ActionDownload) {
			t.Error("expected the download control to be released")
		}
		if got := f.notifier.last(); got != "info: Downloaded 1 file(s)" {
			t.Errorf("unexpected notification %q", got)
		}
	})

	t.Run("card without media", func(t *testing.T) {
		t.Parallel()

		f, _, plainID := scanned(t)
		if err := f.session.Download(ctx, plainID); !errors.Is(err, ErrNoMedia) {
			t.Errorf("expected ErrNoMedia, got %v", err)
		}
		if render.Busy(f.container("plain"), render.ActionDownload) {
			t.Error("expected the download control to be released")
		}
	})

	t.Run("background failure", func(t *testing.T) {
		t.Parallel()

		f, topicID, _ := scanned(t)
		f.bg.fail = errors.New("disk full")
		err := f.session.Download(ctx, topicID)
		if err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Errorf("expected the background error, got %v", err)
		}
		if got := f.notifier.last(); !strings.HasPrefix(got, "error: Could not download") {
			t.Errorf("unexpected notification %q", got)
		}
		if render.Busy(f.container("topic"), render.ActionDownload) {
			t.Error("expected the download control to be released after a failure")
		}
	})

	t.Run("closed channel", func(t *testing.T) {
		t.Parallel()

		f, topicID, _ := scanned(t)
		f.router.Close()
		if err := f.session.Download(ctx, topicID); !errors.Is(err, channel.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
		if got := f.notifier.last(); got != "error: Connection lost, please try again" {
			t.Errorf("unexpected notification %q", got)
		}
	})

	t.Run("unknown card", func(t *testing.T) {
		t.Parallel()

		f, _, _ := scanned(t)
		if err := f.session.Download(ctx, "nope"); !errors.Is(err, ErrUnknownCard) {
			t.Errorf("expected ErrUnknownCard, got %v", err)
		}
	})
}

func TestSaveOffer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, topicID, _ := scanned(t)

	if err := f.session.SaveOffer(ctx, topicID, "Bread"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if got := f.notifier.last(); got != "error: Log in to save offers" {
		t.Errorf("unexpected notification %q", got)
	}

	if _, err := channel.Send(ctx, f.router, channel.ActionUserLoggedIn, channel.UserLoggedInPayload{Email: "a@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := f.session.SaveOffer(ctx, topicID, "  "); !errors.Is(err, channel.ErrInvalidPayload) {
		t.Errorf("expected a missing name error, got %v", err)
	}
	if err := f.session.SaveOffer(ctx, topicID, " Bread kit "); err != nil {
		t.Fatal(err)
	}
	want := []channel.SaveOfferPayload{{
		OfferName:         "Bread kit",
		ExternalReference: "https://www.facebook.com/ads/library/?id=1234567890123456",
	}}
	if diff := cmp.Diff(want, f.bg.offers); diff != "" {
		t.Errorf("offer requests mismatch (-want +got):\n%s", diff)
	}
	if render.Busy(f.container("topic"), render.ActionSave) {
		t.Error("expected the save control to be released")
	}
}

func TestBulkDownload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, topicID, plainID := scanned(t)
	f.session.SelectAll(ctx)

	var progress []Progress
	result := f.session.BulkDownload(ctx, func(p Progress) { progress = append(progress, p) })

	if result.Succeeded != 1 {
		t.Errorf("expected 1 success, got %d", result.Succeeded)
	}
	if diff := cmp.Diff([]string{plainID}, result.Failed); diff != "" {
		t.Errorf("failed ids mismatch (-want +got):\n%s", diff)
	}
	if len(progress) != 2 || progress[0].ID != topicID || progress[0].Err != nil || progress[1].Index != 2 || progress[1].Total != 2 {
		t.Errorf("unexpected progress %+v", progress)
	}
	if !errors.Is(progress[1].Err, ErrNoMedia) {
		t.Errorf("expected the failed item to carry ErrNoMedia, got %v", progress[1].Err)
	}
}

func TestHandlers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("getStats", func(t *testing.T) {
		t.Parallel()

		f, _, _ := scanned(t)
		resp, err := channel.Send(ctx, f.router, channel.ActionGetStats, nil)
		if err != nil {
			t.Fatal(err)
		}
		var st model.Stats
		if err := resp.Decode(&st); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(model.Stats{Total: 2, TopicMatches: 1}, st); diff != "" {
			t.Errorf("stats mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("updateFilter and selectAll", func(t *testing.T) {
		t.Parallel()

		f, topicID, _ := scanned(t)
		payload := channel.UpdateFilterPayload{Filter: channel.FilterTopic, Value: json.RawMessage("true")}
		if _, err := channel.Send(ctx, f.router, channel.ActionUpdateFilter, payload); err != nil {
			t.Fatal(err)
		}
		if _, err := channel.Send(ctx, f.router, channel.ActionSelectAll, nil); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{topicID}, f.session.Selection()); diff != "" {
			t.Errorf("selection mismatch (-want +got):\n%s", diff)
		}
		bad := channel.UpdateFilterPayload{Filter: "color", Value: json.RawMessage("1")}
		if _, err := channel.Send(ctx, f.router, channel.ActionUpdateFilter, bad); err == nil {
			t.Error("expected an unknown filter to fail")
		}
	})

	t.Run("login and logout", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		if _, err := channel.Send(ctx, f.router, channel.ActionUserLoggedIn, channel.UserLoggedInPayload{Email: " "}); err == nil {
			t.Error("expected an empty email to fail")
		}
		if _, err := channel.Send(ctx, f.router, channel.ActionUserLoggedIn, channel.UserLoggedInPayload{Email: "a@example.com"}); err != nil {
			t.Fatal(err)
		}
		if !f.session.LoggedIn() {
			t.Error("expected a login without a stored token to count")
		}
		if _, err := channel.Send(ctx, f.router, channel.ActionUserLoggedOut, nil); err != nil {
			t.Fatal(err)
		}
		if f.session.LoggedIn() {
			t.Error("expected logout to clear the login")
		}
	})

	t.Run("login keeps the stored token", func(t *testing.T) {
		t.Parallel()

		db, err := store.Open(t.TempDir(), store.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = db.Close() })
		if err := db.SaveAuth(ctx, store.Auth{AccessToken: "tok", UserEmail: "old@example.com"}); err != nil {
			t.Fatal(err)
		}

		f := newFixture(t, WithSettings(db))
		if _, err := channel.Send(ctx, f.router, channel.ActionUserLoggedIn, channel.UserLoggedInPayload{Email: "new@example.com"}); err != nil {
			t.Fatal(err)
		}
		auth := f.session.currentAuth()
		if auth.AccessToken != "tok" || auth.UserEmail != "new@example.com" {
			t.Errorf("unexpected auth %+v", auth)
		}
	})

	t.Run("forceInject", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		resp, err := channel.Send(ctx, f.router, channel.ActionForceInject, nil)
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]bool
		if err := resp.Decode(&got); err != nil {
			t.Fatal(err)
		}
		if !got["success"] || len(f.session.Cards()) != 2 {
			t.Errorf("expected the forced scan to run, got %v with %d cards", got, len(f.session.Cards()))
		}
	})
}

func TestStartReactsToMutations(t *testing.T) {
	t.Parallel()

	clock := scan.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, WithSchedulerOptions(scan.WithClock(clock)))
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.session.Stop()

	if len(f.session.Cards()) != 2 {
		t.Fatalf("expected Start to run a first scan, got %d cards", len(f.session.Cards()))
	}

	// Move past the throttle window of the first scan.
	clock.Advance(scan.DefaultThrottle)

	late, err := html.ParseFragment(strings.NewReader(extraCard), &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"})
	if err != nil {
		t.Fatal(err)
	}
	f.doc.Mutate(func(root *html.Node) {
		feed := dom.FindFirst(root, func(n *html.Node) bool { return dom.Attr(n, "id") == "feed" })
		for _, n := range late {
			feed.AppendChild(n)
		}
	})
	if len(f.session.Cards()) != 2 {
		t.Error("expected the scan to wait for the debounce window")
	}

	clock.Advance(scan.DefaultDebounce)
	if len(f.session.Cards()) != 3 {
		t.Errorf("expected the mutation to trigger a scan, got %d cards", len(f.session.Cards()))
	}
}

func TestScrollSettleCleansDuplicates(t *testing.T) {
	t.Parallel()

	clock := scan.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, WithSchedulerOptions(scan.WithClock(clock)))
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.session.Stop()

	topic := f.container("topic")
	card := f.session.Cards()[0]
	f.doc.Do(func(*html.Node) {
		render.Inject(topic, &card)
	})
	f.doc.Scroll()
	clock.Advance(scan.DefaultScrollSettle)

	var controls int
	f.doc.Do(func(*html.Node) {
		controls = len(dom.Find(topic, func(n *html.Node) bool { return dom.HasAttr(n, dom.ControlsAttr) }))
	})
	if controls != 1 {
		t.Errorf("expected the duplicate controls to be removed, got %d", controls)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, topicID, _ := scanned(t, WithFilterDefaults(model.FilterState{MinActiveCount: 2}))
	if _, err := f.session.ToggleSelect(ctx, topicID); err != nil {
		t.Fatal(err)
	}
	f.session.LoadMore(ctx)

	f.session.Reset()
	if len(f.session.Cards()) != 0 || len(f.session.Selection()) != 0 || f.session.LastResult() != nil {
		t.Error("expected Reset to forget cards, selection and results")
	}
	got := f.session.Filter()
	if got.MinActiveCount != 2 || got.VisibleLimit != model.DefaultVisibleLimit {
		t.Errorf("expected the default filter back, got %+v", got)
	}

	result, _ := f.session.ScanNow()
	if result.Admitted != 2 {
		t.Errorf("expected stamped containers to be restored, got %d", result.Admitted)
	}
	if _, err := f.session.Reference(topicID); err != nil {
		t.Errorf("expected the restored card to keep its id, got %v", err)
	}
}

func TestLongFeedIsAdmittedAcrossScans(t *testing.T) {
	t.Parallel()

	const cards = 230
	var b strings.Builder
	b.WriteString(`<html><body><div id="feed">`)
	for i := 0; i < cards; i++ {
		fmt.Fprintf(&b, `<div id="c%d" data-adsweep-w="320" data-adsweep-h="560">
  <img src="/media/%d.jpg">
  <p>Card number %d with enough descriptive text to pass the length check.</p>
  <a href="#">See ad details</a>
</div>`, i, i, i)
	}
	b.WriteString(`</div></body></html>`)
	f := newFixtureFrom(t, b.String())

	scans := (cards + 199) / 200
	for i := 0; i < scans; i++ {
		if _, ran := f.session.ScanNow(); !ran {
			t.Fatalf("scan %d did not run", i+1)
		}
	}
	if got := len(f.session.Cards()); got != cards {
		t.Errorf("expected %d cards after %d scans, got %d", cards, scans, got)
	}
	if got := f.session.PendingCount(); got != 0 {
		t.Errorf("expected nothing pending, got %d", got)
	}

	result, ran := f.session.ScanNow()
	if !ran {
		t.Fatal("expected the rescan to run")
	}
	if result.Found != 0 || result.Admitted != 0 {
		t.Errorf("expected a settled rescan, got found=%d admitted=%d", result.Found, result.Admitted)
	}
}

func TestNestedCardsKeepTheirControls(t *testing.T) {
	t.Parallel()

	const nested = `<html><body>
<div id="group" data-adsweep-w="360" data-adsweep-h="900">
  <p>Two versions of this ad share the same creative and text in this group.</p>
  <a href="#">See summary details</a>
  <div id="version" data-adsweep-w="320" data-adsweep-h="560">
    <img src="/media/version.jpg">
    <p>Fresh bread delivered every morning, order through WhatsApp today.</p>
    <a href="#">See ad details</a>
  </div>
</div>
</body></html>`
	f := newFixtureFrom(t, nested)

	for i := 0; i < 3; i++ {
		result, ran := f.session.ScanNow()
		if !ran {
			t.Fatalf("scan %d did not run", i+1)
		}
		if result.DuplicatesRemoved != 0 {
			t.Errorf("scan %d: expected no duplicates removed, got %d", i+1, result.DuplicatesRemoved)
		}
	}
	if got := len(f.session.Cards()); got != 2 {
		t.Fatalf("expected 2 cards, got %d", got)
	}

	groupID, versionID := f.cardID(t, "group"), f.cardID(t, "version")
	f.doc.Do(func(root *html.Node) {
		for id, elementID := range map[string]string{groupID: "group", versionID: "version"} {
			n := dom.FindFirst(root, func(n *html.Node) bool { return dom.Attr(n, "id") == elementID })
			owned := dom.OwnedControls(n)
			if len(owned) != 1 || dom.Attr(owned[0], dom.ControlsAttr) != id {
				t.Errorf("expected %s to own exactly its own controls, got %d", elementID, len(owned))
			}
		}
	})

	// A scroll-settle cleanup leaves the nested card alone too.
	f.session.cleanup()
	f.doc.Do(func(root *html.Node) {
		version := dom.FindFirst(root, func(n *html.Node) bool { return dom.Attr(n, "id") == "version" })
		if render.Controls(version) == nil {
			t.Error("expected the nested card to keep its controls after cleanup")
		}
	})
}
