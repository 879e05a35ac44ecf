package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nao1215/adsweep/internal/dom"
	"golang.org/x/net/html"
)

// DefaultPollInterval is how often a live page is re-captured.
const DefaultPollInterval = time.Second

// captureJS stamps rendered geometry and a stable node id onto every element
// and returns the serialized document.
const captureJS = `() => {
	window.__adsweepNid = window.__adsweepNid || 0;
	for (const el of document.querySelectorAll('*')) {
		if (!el.hasAttribute('data-adsweep-nid')) {
			el.setAttribute('data-adsweep-nid', String(window.__adsweepNid++));
		}
		const r = el.getBoundingClientRect();
		el.setAttribute('data-adsweep-w', String(Math.round(r.width)));
		el.setAttribute('data-adsweep-h', String(Math.round(r.height)));
	}
	return document.documentElement.outerHTML;
}`

// syncJS applies stamps, controls and visibility computed on the captured
// tree back onto the live page.
const syncJS = `(ops) => {
	let applied = 0;
	for (const op of ops) {
		const el = document.querySelector('[data-adsweep-nid="' + op.nid + '"]');
		if (!el) continue;
		el.setAttribute('data-adsweep-processed', op.id);
		const controls = el.querySelectorAll(':scope [data-adsweep-controls]');
		for (let i = 1; i < controls.length; i++) controls[i].remove();
		if (controls.length === 0) {
			el.insertAdjacentHTML('afterbegin', op.controls);
		}
		if (op.hidden) {
			el.setAttribute('hidden', '');
			el.setAttribute('data-adsweep-hidden', '');
		} else if (el.hasAttribute('data-adsweep-hidden')) {
			el.removeAttribute('hidden');
			el.removeAttribute('data-adsweep-hidden');
		}
		applied++;
	}
	return applied;
}`

// geometryPattern strips stamped geometry before hashing.
var geometryPattern = regexp.MustCompile(` data-adsweep-[wh]="[0-9]+"`)

const scrollJS = `() => { window.scrollBy(0, window.innerHeight); return window.scrollY; }`

// LiveOptions configures a live page.
type LiveOptions struct {
	// ControlURL connects to an already running browser. When empty, a
	// browser is launched.
	ControlURL string

	// Headless controls the launched browser.
	Headless bool

	// PollInterval is how often the page is re-captured.
	PollInterval time.Duration

	// NavigationTimeout bounds the initial page load.
	NavigationTimeout time.Duration

	// UserDataDir is the profile directory of a launched browser. A
	// persistent profile keeps the user logged in between runs.
	UserDataDir string
}

// Live is a page open in a browser, mirrored into a Document.
type Live struct {
	address  string
	opts     LiveOptions
	logger   *slog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	doc      *dom.Document

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// OpenLive opens address in a browser and captures it.
func OpenLive(ctx context.Context, address string, opts LiveOptions, logger *slog.Logger) (*Live, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}

	l := &Live{address: address, opts: opts, logger: logger}

	controlURL := opts.ControlURL
	if controlURL == "" {
		l.launcher = launcher.New().Headless(opts.Headless)
		if opts.UserDataDir != "" {
			l.launcher = l.launcher.UserDataDir(opts.UserDataDir)
		}
		u, err := l.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	l.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := l.browser.Connect(); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := l.browser.Page(proto.TargetCreateTarget{URL: address})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to open %s: %w", address, err)
	}
	l.page = page
	if err := page.Timeout(opts.NavigationTimeout).WaitLoad(); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to load %s: %w", address, err)
	}

	root, sum, err := l.capture(ctx)
	if err != nil {
		l.Close()
		return nil, err
	}
	l.lastHash = sum
	l.doc = dom.NewDocument(root, address)
	return l, nil
}

// Document returns the mirrored document.
func (l *Live) Document() *dom.Document {
	return l.doc
}

// Start polls the page for changes until Stop or ctx cancellation.
func (l *Live) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.poll(ctx)
}

// Stop ends polling.
func (l *Live) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()
	close(l.stopCh)
	<-l.doneCh
}

// Close stops polling and shuts the browser down.
func (l *Live) Close() {
	l.Stop()
	if l.page != nil {
		_ = l.page.Close()
	}
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.launcher != nil {
		l.launcher.Kill()
	}
}

// Scroll scrolls the page by one viewport to trigger lazy loading and
// reports it to the document's subscribers.
func (l *Live) Scroll(ctx context.Context) error {
	if _, err := l.page.Context(ctx).Evaluate(rod.Eval(scrollJS)); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	l.doc.Scroll()
	return nil
}

// Sync pushes every stamped container's state from the document back to
// the live page.
func (l *Live) Sync(ctx context.Context) error {
	type op struct {
		NID      string `json:"nid"`
		ID       string `json:"id"`
		Hidden   bool   `json:"hidden"`
		Controls string `json:"controls"`
	}
	var ops []op
	var renderErr error
	l.doc.Do(func(root *html.Node) {
		for _, n := range dom.Find(root, func(n *html.Node) bool {
			return n.Type == html.ElementNode && dom.HasAttr(n, dom.ProcessedAttr)
		}) {
			nid := dom.Attr(n, dom.NodeIDAttr)
			if nid == "" {
				continue
			}
			o := op{NID: nid, ID: dom.Attr(n, dom.ProcessedAttr), Hidden: dom.HasAttr(n, dom.HiddenAttr)}
			if owned := dom.OwnedControls(n); len(owned) > 0 {
				c := owned[0]
				var buf bytes.Buffer
				if err := html.Render(&buf, c); err != nil {
					renderErr = err
					return
				}
				o.Controls = buf.String()
			}
			ops = append(ops, o)
		}
	})
	if renderErr != nil {
		return fmt.Errorf("failed to render controls: %w", renderErr)
	}
	if len(ops) == 0 {
		return nil
	}

	payload, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to encode sync ops: %w", err)
	}
	var args []any
	if err := json.Unmarshal(payload, &args); err != nil {
		return fmt.Errorf("failed to encode sync ops: %w", err)
	}
	res, err := l.page.Context(ctx).Evaluate(rod.Eval(syncJS, args))
	if err != nil {
		return fmt.Errorf("failed to sync page: %w", err)
	}
	l.logger.Debug("live page synced", "containers", res.Value.Int())
	return nil
}

func (l *Live) poll(ctx context.Context) {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			root, sum, err := l.capture(ctx)
			if err != nil {
				l.logger.Warn("live capture failed", "error", err)
				continue
			}
			l.mu.Lock()
			changed := sum != l.lastHash
			l.lastHash = sum
			l.mu.Unlock()
			if changed {
				l.doc.Replace(root)
			}
		}
	}
}

// capture stamps and serializes the page. The hash ignores geometry so that
// layout jitter alone does not count as a change.
func (l *Live) capture(ctx context.Context) (*html.Node, [sha256.Size]byte, error) {
	res, err := l.page.Context(ctx).Evaluate(rod.Eval(captureJS))
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("failed to capture page: %w", err)
	}
	markup := res.Value.Str()
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("failed to parse captured page: %w", err)
	}
	return root, sha256.Sum256([]byte(geometryPattern.ReplaceAllString(markup, ""))), nil
}
