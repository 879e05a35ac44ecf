package dom

import (
	"strconv"
	"strings"

	"github.com/nao1215/adsweep/internal/vocab"
	"golang.org/x/net/html"
)

// Attribute names written by adsweep onto the host document.
// Everything adsweep stamps or injects carries the data-adsweep- prefix so
// it can never collide with host markup.
const (
	// ProcessedAttr marks a container as handled. Its value is the card's unique id.
	ProcessedAttr = "data-adsweep-processed"

	// ControlsAttr marks the root of an injected control subtree.
	ControlsAttr = "data-adsweep-controls"

	// HiddenAttr marks a container hidden by the projector rather than by the host.
	HiddenAttr = "data-adsweep-hidden"

	// WidthAttr and HeightAttr carry rendered geometry stamped by a live source.
	WidthAttr  = "data-adsweep-w"
	HeightAttr = "data-adsweep-h"

	// NodeIDAttr carries a live source's element index for write-back.
	NodeIDAttr = "data-adsweep-nid"
)

// skippedTextTags never contribute visible text.
var skippedTextTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// Attr retrieves an attribute value from an element.
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether an element carries the attribute at all.
func HasAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// IsElement reports whether n is an element with one of the given tags.
// With no tags it matches any element.
func IsElement(n *html.Node, tags ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if n.Data == t {
			return true
		}
	}
	return false
}

// IsInteractive reports whether n is a link, a button, or an ARIA button.
func IsInteractive(n *html.Node) bool {
	if IsElement(n, "a", "button") {
		return true
	}
	return IsElement(n) && strings.EqualFold(Attr(n, "role"), "button")
}

// Find returns every node under root (root included) matching pred,
// in document order.
func Find(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// FindFirst returns the first node in document order matching pred.
func FindFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := FindFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// HasDescendant reports whether any strict descendant matches pred.
func HasDescendant(n *html.Node, pred func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if FindFirst(c, pred) != nil {
			return true
		}
	}
	return false
}

// WithinAttr reports whether n or any of its ancestors carries the attribute.
func WithinAttr(n *html.Node, key string) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && HasAttr(p, key) {
			return true
		}
	}
	return false
}

// OwnedControls returns the injected control subtrees that belong to
// container, in document order. A control subtree belongs to the nearest
// stamped container above it, so the walk does not descend into nested
// stamped containers or into control subtrees themselves.
func OwnedControls(container *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch {
			case HasAttr(c, ControlsAttr):
				out = append(out, c)
			case HasAttr(c, ProcessedAttr):
			default:
				walk(c)
			}
		}
	}
	walk(container)
	return out
}

// Attached reports whether n is still reachable from root.
func Attached(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Remove detaches n from its parent.
func Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Text returns the visible text under n, with text nodes joined by spaces.
// Script-like elements, host-hidden elements and injected control subtrees
// are skipped. Elements hidden by the projector still count, since their
// content is merely collapsed, not absent.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if skippedTextTags[n.Data] || HasAttr(n, ControlsAttr) || hiddenByHost(n) {
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}

// NormalizedText returns Text(n) normalized for label comparison.
func NormalizedText(n *html.Node) string {
	return vocab.Normalize(Text(n))
}

// hiddenByHost reports whether the host page hides the element.
func hiddenByHost(n *html.Node) bool {
	if HasAttr(n, "hidden") && !HasAttr(n, HiddenAttr) {
		return true
	}
	if strings.EqualFold(Attr(n, "aria-hidden"), "true") {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(Attr(n, "style")), " ", "")
	return strings.Contains(style, "display:none") && !HasAttr(n, HiddenAttr)
}

// Box returns the rendered width and height of an element.
// Geometry stamped by a live source wins; saved snapshots fall back to
// inline style pixels and then to width/height attributes.
func Box(n *html.Node) (width, height float64, ok bool) {
	if w, wok := parsePixels(Attr(n, WidthAttr)); wok {
		if h, hok := parsePixels(Attr(n, HeightAttr)); hok {
			return w, h, true
		}
	}
	style := styleMap(Attr(n, "style"))
	w, wok := parsePixels(style["width"])
	h, hok := parsePixels(style["height"])
	if !wok {
		w, wok = parsePixels(Attr(n, "width"))
	}
	if !hok {
		h, hok = parsePixels(Attr(n, "height"))
	}
	return w, h, wok && hok
}

// styleMap parses an inline style attribute into lowercase property/value pairs.
func styleMap(style string) map[string]string {
	m := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		k, v, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		m[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return m
}

// parsePixels parses "320", "320px" or "320.5px".
func parsePixels(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// Before reports whether a precedes b in document order.
// Both nodes must belong to the same tree.
func Before(a, b *html.Node) bool {
	if a == b {
		return false
	}
	pa, pb := pathFromRoot(a), pathFromRoot(b)
	i := 0
	for i < len(pa) && i < len(pb) && pa[i] == pb[i] {
		i++
	}
	if i == len(pa) {
		return true // a is an ancestor of b
	}
	if i == len(pb) {
		return false
	}
	for s := pa[i]; s != nil; s = s.NextSibling {
		if s == pb[i] {
			return true
		}
	}
	return false
}

// pathFromRoot returns the ancestor chain of n, root first.
func pathFromRoot(n *html.Node) []*html.Node {
	var path []*html.Node
	for p := n; p != nil; p = p.Parent {
		path = append(path, p)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ShortText returns the normalized visible text of n if its raw text stays
// within limit bytes. Traversal stops as soon as the limit is exceeded, which
// keeps label matching linear on large pages.
func ShortText(n *html.Node, limit int) (string, bool) {
	var b strings.Builder
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return b.Len() <= limit
		case html.ElementNode:
			if skippedTextTags[n.Data] || HasAttr(n, ControlsAttr) || hiddenByHost(n) {
				return true
			}
		case html.CommentNode:
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	if n == nil || !walk(n) {
		return "", false
	}
	return vocab.Normalize(b.String()), true
}
