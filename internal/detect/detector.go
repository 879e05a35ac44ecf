// Package detect finds advertisement card containers in a host page.
//
// The host provides no stable class names or ids. The detector anchors on
// short, stable, localized UI labels ("See ad details", "Sponsored", ...) and
// climbs from each label to the nearest ancestor that looks like a card by
// size, media and text volume. This survives markup refactors on the host
// side that would break any selector-based approach.
package detect

import (
	"unicode/utf8"

	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/vocab"
	"golang.org/x/net/html"
)

// Detection thresholds.
const (
	// MaxResults bounds worst-case latency of one scan on very large pages.
	MaxResults = 200

	// MaxAscent is how many ancestors above a marker are inspected.
	MaxAscent = 12

	// MinWidth and MinHeight are exclusive lower bounds in CSS pixels.
	MinWidth  = 250
	MinHeight = 300

	// MinTextLength is an exclusive lower bound on visible text, in runes.
	MinTextLength = 50

	// maxLabelBytes bounds the raw text of an element considered as a marker.
	maxLabelBytes = 256
)

// Detector finds card containers by marker ascent.
type Detector struct {
	primary   vocab.Set
	secondary vocab.Set
	limit     int
}

// Option configures a Detector.
type Option func(*Detector)

// WithLimit overrides the per-call result cap. Non-positive values are ignored.
func WithLimit(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.limit = n
		}
	}
}

// New creates a Detector using the marker labels of every locale in the table.
func New(table *vocab.Table, opts ...Option) *Detector {
	labels := table.All()
	d := &Detector{
		primary:   vocab.NewSet(labels.AdDetails, labels.SummaryDetails),
		secondary: vocab.NewSet(labels.Sponsored),
		limit:     MaxResults,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns card containers under root, primary-pass results first,
// deduplicated by identity and capped at the configured limit.
//
// keep selects the containers worth returning; a nil keep returns every
// container. Rejected containers do not count toward the limit.
//
// Design decision: The cap applies to containers a scan still has to work
// on, not to every container on the page, because:
//  1. The cap bounds the work of one scan, and settled cards cost nothing
//  2. A feed longer than the cap would otherwise return the same settled
//     prefix forever and never admit the cards after it
//  3. The reconciliation check then sees its pending count reach zero
func (d *Detector) Detect(root *html.Node, keep func(*html.Node) bool) []*html.Node {
	return d.collect(root, d.limit, keep)
}

// Candidates returns every container reachable from a marker, without the
// result cap. The reconciliation check uses it to count what a scan missed.
func (d *Detector) Candidates(root *html.Node) []*html.Node {
	return d.collect(root, 0, nil)
}

func (d *Detector) collect(root *html.Node, limit int, keep func(*html.Node) bool) []*html.Node {
	seen := make(map[*html.Node]bool)
	out := make([]*html.Node, 0)

	for _, set := range []vocab.Set{d.primary, d.secondary} {
		for _, marker := range d.markers(root, set) {
			container := Ascend(marker)
			if container == nil || seen[container] {
				continue
			}
			seen[container] = true
			if keep != nil && !keep(container) {
				continue
			}
			out = append(out, container)
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// Markers returns every primary and secondary marker element under root.
func (d *Detector) Markers(root *html.Node) []*html.Node {
	return append(d.markers(root, d.primary), d.markers(root, d.secondary)...)
}

// markers returns elements whose normalized text equals a label in set.
// Markers inside injected controls never count.
func (d *Detector) markers(root *html.Node, set vocab.Set) []*html.Node {
	return dom.Find(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || dom.WithinAttr(n, dom.ControlsAttr) {
			return false
		}
		text, ok := dom.ShortText(n, maxLabelBytes)
		return ok && set.Has(text)
	})
}

// Ascend walks up from a marker and returns the first ancestor that
// qualifies as a card container, or nil.
func Ascend(marker *html.Node) *html.Node {
	n := marker.Parent
	for i := 0; i < MaxAscent && n != nil; i++ {
		if n.Type == html.ElementNode && Qualifies(n) {
			return n
		}
		n = n.Parent
	}
	return nil
}

// Qualifies reports whether n satisfies every container criterion:
// rendered size, a media descendant, enough visible text, and not being
// nested inside an injected control subtree.
func Qualifies(n *html.Node) bool {
	w, h, ok := dom.Box(n)
	if !ok || w <= MinWidth || h <= MinHeight {
		return false
	}
	if !dom.HasDescendant(n, isMedia) {
		return false
	}
	if utf8.RuneCountInString(dom.NormalizedText(n)) <= MinTextLength {
		return false
	}
	return !dom.WithinAttr(n, dom.ControlsAttr)
}

func isMedia(n *html.Node) bool {
	return dom.IsElement(n, "img", "video")
}
