// Package extract computes a card's external reference: the best available
// pointer back to the ad in the library.
//
// Extraction runs on demand, when a user action needs a reference, never
// during a scan. It is total: the worst case is the page address.
package extract

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/vocab"
	"golang.org/x/net/html"
)

// DefaultLibraryBase is the canonical ad library address ids are appended to.
const DefaultLibraryBase = "https://www.facebook.com/ads/library/"

// Strategy names the fallback step that produced a reference.
type Strategy string

const (
	StrategyCopyLink     Strategy = "copy-link"
	StrategyLabel        Strategy = "label"
	StrategyOutboundLink Strategy = "outbound-link"
	StrategyLooseLabel   Strategy = "loose-label"
	StrategyBareNumber   Strategy = "bare-number"
	StrategyPageAddress  Strategy = "page-address"
)

// Reference is the extraction result.
type Reference struct {
	// Value is the usable reference: a canonical library link or the page address.
	Value string `json:"value"`
	// ID is the numeric library id, empty for the page address fallback.
	ID string `json:"id,omitempty"`
	// Strategy is the step that produced Value.
	Strategy Strategy `json:"strategy"`
}

var (
	idParamPattern    = regexp.MustCompile(`[?&]id=(\d{10,20})(?:\D|$)`)
	bareNumberPattern = regexp.MustCompile(`(?:^|\D)(\d{16})(?:\D|$)`)
)

// clipboardAttrs are where the host attaches the copied address.
var clipboardAttrs = []string{"href", "data-href", "data-clipboard-text", "data-url"}

// Extractor runs the fallback chain.
type Extractor struct {
	base     string
	copyLink vocab.Set
	label    *regexp.Regexp
	looseLbl *regexp.Regexp
	logger   *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLibraryBase overrides the canonical library address.
func WithLibraryBase(base string) Option {
	return func(e *Extractor) {
		if base != "" {
			e.base = base
		}
	}
}

// WithLogger sets the logger used for the fallback warning.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an Extractor from every locale in the table.
func New(table *vocab.Table, opts ...Option) *Extractor {
	labels := table.All()
	e := &Extractor{
		base:     DefaultLibraryBase,
		copyLink: vocab.NewSet(labels.CopyLink),
		logger:   slog.Default(),
	}
	if alt := vocab.Alternation(labels.LibraryID); alt != "" {
		e.label = regexp.MustCompile(`(?i)(?:` + alt + `)\s*:?\s*(\d{10,20})\b`)
		e.looseLbl = regexp.MustCompile(`(?i)(?:` + alt + `)\D{0,40}(\d{13,20})`)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Canonical builds the library link for an id.
func (e *Extractor) Canonical(id string) string {
	u, err := url.Parse(e.base)
	if err != nil {
		return e.base + "?id=" + id
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()
	return u.String()
}

// Extract returns the best reference for the container.
// pageAddress is returned when no step succeeds.
//
// Design decision: We try the steps in a fixed order, most specific first,
// and stop at the first hit because:
//  1. The copy link and the localized label carry the id the host itself
//     shows, so they win over anything inferred from the markup
//  2. A bare number is the weakest signal and matches unrelated digits, so
//     it runs only after every labelled form failed
//  3. Recording the winning Strategy keeps the fallback visible in reports
func (e *Extractor) Extract(container *html.Node, pageAddress string) Reference {
	if container != nil {
		steps := []struct {
			strategy Strategy
			find     func(*html.Node, string) string
		}{
			{StrategyCopyLink, e.fromCopyLink},
			{StrategyLabel, e.fromLabel},
			{StrategyOutboundLink, e.fromOutboundLink},
			{StrategyLooseLabel, e.fromLooseLabel},
			{StrategyBareNumber, e.fromBareNumber},
		}
		text := vocab.Normalize(dom.Text(container))
		for _, step := range steps {
			if id := step.find(container, text); id != "" {
				return Reference{Value: e.Canonical(id), ID: id, Strategy: step.strategy}
			}
		}
	}
	e.logger.Warn("no library id found, falling back to page address",
		"address", pageAddress)
	return Reference{Value: pageAddress, Strategy: StrategyPageAddress}
}

func (e *Extractor) fromCopyLink(container *html.Node, _ string) string {
	for _, n := range dom.Find(container, dom.IsInteractive) {
		if dom.WithinAttr(n, dom.ControlsAttr) {
			continue
		}
		label := dom.NormalizedText(n)
		if !e.copyLink.Has(label) && !e.copyLink.Has(vocab.Normalize(dom.Attr(n, "aria-label"))) {
			continue
		}
		for _, attr := range clipboardAttrs {
			if id := idParam(dom.Attr(n, attr)); id != "" {
				return id
			}
		}
	}
	return ""
}

func (e *Extractor) fromLabel(_ *html.Node, text string) string {
	return firstGroup(e.label, text)
}

func (e *Extractor) fromOutboundLink(container *html.Node, _ string) string {
	for _, a := range dom.Find(container, func(n *html.Node) bool { return dom.IsElement(n, "a") }) {
		if dom.WithinAttr(a, dom.ControlsAttr) {
			continue
		}
		if id := idParam(dom.Attr(a, "href")); id != "" {
			return id
		}
	}
	return ""
}

func (e *Extractor) fromLooseLabel(_ *html.Node, text string) string {
	return firstGroup(e.looseLbl, text)
}

func (e *Extractor) fromBareNumber(_ *html.Node, text string) string {
	return firstGroup(bareNumberPattern, text)
}

func idParam(address string) string {
	if address == "" {
		return ""
	}
	if unescaped, err := url.QueryUnescape(address); err == nil {
		address = unescaped
	}
	return firstGroup(idParamPattern, address)
}

func firstGroup(re *regexp.Regexp, s string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// minMediaSide is the size below which an image is treated as an icon.
const minMediaSide = 64

// MediaURLs lists the downloadable media of a card in document order,
// resolved against the page address. Inline data URIs and icons are skipped.
func MediaURLs(container *html.Node, pageAddress string) []string {
	base, _ := url.Parse(pageAddress)
	seen := make(map[string]bool)
	out := make([]string, 0)

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
			return
		}
		if base != nil {
			if ref, err := url.Parse(raw); err == nil {
				raw = base.ResolveReference(ref).String()
			}
		}
		if !seen[raw] {
			seen[raw] = true
			out = append(out, raw)
		}
	}

	for _, n := range dom.Find(container, func(n *html.Node) bool {
		return dom.IsElement(n, "img", "video", "source") && !dom.WithinAttr(n, dom.ControlsAttr)
	}) {
		if n.Data == "img" && isIcon(n) {
			continue
		}
		add(dom.Attr(n, "src"))
		if n.Data == "video" {
			add(dom.Attr(n, "poster"))
		}
	}
	return out
}

func isIcon(n *html.Node) bool {
	w, h, ok := dom.Box(n)
	return ok && (w < minMediaSide || h < minMediaSide)
}
