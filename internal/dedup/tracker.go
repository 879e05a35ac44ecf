// Package dedup keeps card processing idempotent.
//
// A container counts as handled when it carries the processed attribute OR
// already holds an injected control subtree. Both checks are needed because
// stamping and injection are separate steps, and scans triggered on either
// side of a debounce boundary can interleave between them. CleanupDuplicates
// is the correction mechanism for whatever slips through: it runs at the start
// of every scan and after scrolling settles.
package dedup

import (
	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/model"
	"golang.org/x/net/html"
)

// Tracker is the processed-container registry.
// It is owned by one session and touched only from its scan path,
// so it carries no lock of its own.
type Tracker struct {
	byNode map[*html.Node]*model.Card
	byID   map[string]*model.Card
	order  []*model.Card
}

// New creates an empty Tracker.
func New() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset forgets every card.
func (t *Tracker) Reset() {
	t.byNode = make(map[*html.Node]*model.Card)
	t.byID = make(map[string]*model.Card)
	t.order = make([]*model.Card, 0)
}

// IsNew reports whether a container has not been handled yet.
//
// Design decision: We check both the stamp and the owned controls because
// stamping and injection are separate steps. A container that received
// controls but lost its stamp to a host re-render must not be admitted again.
// Controls of a nested, already stamped card do not make the outer
// container handled.
func (t *Tracker) IsNew(container *html.Node) bool {
	if dom.HasAttr(container, dom.ProcessedAttr) {
		return false
	}
	return len(dom.OwnedControls(container)) == 0
}

// Pending reports whether a scan still has work to do on container. That is
// the case when it is new, when its stamp is unknown or bound to another
// element, or when it lost its controls. Containers that are fully settled
// are not pending, so they never use up a scan's detection limit.
func (t *Tracker) Pending(container *html.Node) bool {
	id := dom.Attr(container, dom.ProcessedAttr)
	if id == "" {
		return t.IsNew(container)
	}
	card, ok := t.byID[id]
	if !ok || card.Container != container {
		return true
	}
	return len(dom.OwnedControls(container)) == 0
}

// MarkProcessed stamps the container and records the card.
// The attribute and the registry entry together form the two-phase mark.
//
// Design decision: We keep the mark in the document as well as in the
// registry because:
//  1. The attribute survives host re-renders that copy the element, so Adopt
//     can rebind the card instead of admitting it twice
//  2. The registry binds the id to one element, so copies that kept the
//     stamp are still told apart by Pending
//  3. Annotated snapshots carry the stamp across runs
func (t *Tracker) MarkProcessed(container *html.Node, card *model.Card) {
	dom.SetAttr(container, dom.ProcessedAttr, card.UniqueID)
	card.Container = container
	card.Processed = true

	if prev, ok := t.byNode[container]; ok && prev != card {
		t.drop(prev)
	}
	if _, ok := t.byID[card.UniqueID]; !ok {
		t.order = append(t.order, card)
	}
	t.byNode[container] = card
	t.byID[card.UniqueID] = card
}

// Adopt rebinds a known card to a container that already carries its stamp,
// as happens when the host re-renders a card into a fresh element.
// It reports whether the stamp belonged to a known card.
func (t *Tracker) Adopt(container *html.Node) (*model.Card, bool) {
	id := dom.Attr(container, dom.ProcessedAttr)
	card, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	if card.Container != container {
		delete(t.byNode, card.Container)
		card.Container = container
		t.byNode[container] = card
	}
	return card, true
}

// CleanupDuplicates removes every injected control subtree beyond the first,
// in document order, inside each stamped container. Controls owned by a
// nested stamped card are left to that card. It returns the number of
// subtrees removed.
func (t *Tracker) CleanupDuplicates(root *html.Node) int {
	removed := 0
	for _, container := range dom.Find(root, isStamped) {
		owned := dom.OwnedControls(container)
		for i := 1; i < len(owned); i++ {
			dom.Remove(owned[i])
			removed++
		}
	}
	return removed
}

// Prune drops cards whose containers left the document. A card whose stamp
// reappears elsewhere in the tree is rebound instead of dropped.
// It returns the number of vanished cards.
func (t *Tracker) Prune(root *html.Node) int {
	var stamped map[string]*html.Node
	vanished := 0
	for _, card := range append([]*model.Card(nil), t.order...) {
		if dom.Attached(root, card.Container) {
			continue
		}
		if stamped == nil {
			stamped = make(map[string]*html.Node)
			for _, n := range dom.Find(root, isStamped) {
				stamped[dom.Attr(n, dom.ProcessedAttr)] = n
			}
		}
		if n, ok := stamped[card.UniqueID]; ok {
			t.Adopt(n)
			continue
		}
		t.drop(card)
		vanished++
	}
	return vanished
}

// Cards returns every known card in processing order.
func (t *Tracker) Cards() []*model.Card {
	return append([]*model.Card(nil), t.order...)
}

// Lookup finds a card by unique id.
func (t *Tracker) Lookup(id string) (*model.Card, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Len returns the number of known cards.
func (t *Tracker) Len() int {
	return len(t.order)
}

func (t *Tracker) drop(card *model.Card) {
	delete(t.byID, card.UniqueID)
	if t.byNode[card.Container] == card {
		delete(t.byNode, card.Container)
	}
	for i, c := range t.order {
		if c == card {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func isStamped(n *html.Node) bool {
	return n.Type == html.ElementNode && dom.HasAttr(n, dom.ProcessedAttr)
}
