// Package render injects adsweep's control subtree into card containers and
// reflects card state onto it.
package render

import (
	"strconv"

	"github.com/nao1215/adsweep/internal/dom"
	"github.com/nao1215/adsweep/internal/model"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attributes on injected elements.
const (
	// ActionAttr names the user action a control triggers.
	ActionAttr = "data-adsweep-action"
	// CardAttr carries the unique id of the card a control belongs to.
	CardAttr = "data-adsweep-card"
	// BadgeAttr marks the topic badge.
	BadgeAttr = "data-adsweep-badge"
	// ActiveAttr marks the active-count label.
	ActiveAttr = "data-adsweep-active"
)

// Control actions.
const (
	ActionSelect   = "select"
	ActionDownload = "download"
	ActionSave     = "save"
)

// TopicLabel is the text of the topic badge.
const TopicLabel = "WhatsApp"

// Inject inserts a control subtree as the first child of the container and
// returns it. Callers check the dedup tracker first; Inject itself does not.
func Inject(container *html.Node, card *model.Card) *html.Node {
	root := element(atom.Div, dom.ControlsAttr, card.UniqueID)

	if card.IsTopicMatch {
		badge := element(atom.Span, BadgeAttr, "")
		badge.AppendChild(text(TopicLabel))
		root.AppendChild(badge)
	}

	active := element(atom.Span, ActiveAttr, "")
	active.AppendChild(text(activeLabel(card.ActiveCount)))
	root.AppendChild(active)

	label := element(atom.Label, "", "")
	box := element(atom.Input, ActionAttr, ActionSelect)
	dom.SetAttr(box, "type", "checkbox")
	dom.SetAttr(box, CardAttr, card.UniqueID)
	if card.Selected {
		dom.SetAttr(box, "checked", "")
	}
	label.AppendChild(box)
	label.AppendChild(text("Select"))
	root.AppendChild(label)

	root.AppendChild(button(ActionDownload, card.UniqueID, "Download"))
	root.AppendChild(button(ActionSave, card.UniqueID, "Save offer"))

	container.InsertBefore(root, container.FirstChild)
	return root
}

// Controls returns the container's own control subtree, or nil. Controls of
// a nested card never count.
func Controls(container *html.Node) *html.Node {
	if owned := dom.OwnedControls(container); len(owned) > 0 {
		return owned[0]
	}
	return nil
}

// Button returns the control element for an action, or nil.
func Button(container *html.Node, action string) *html.Node {
	controls := Controls(container)
	if controls == nil {
		return nil
	}
	return dom.FindFirst(controls, func(n *html.Node) bool {
		return n.Type == html.ElementNode && dom.Attr(n, ActionAttr) == action
	})
}

// SetBusy disables or re-enables an action control while a background
// request is in flight. It reports whether the control exists.
func SetBusy(container *html.Node, action string, busy bool) bool {
	b := Button(container, action)
	if b == nil {
		return false
	}
	if busy {
		dom.SetAttr(b, "disabled", "")
		dom.SetAttr(b, "aria-busy", "true")
	} else {
		dom.RemoveAttr(b, "disabled")
		dom.RemoveAttr(b, "aria-busy")
	}
	return true
}

// Busy reports whether an action control is disabled.
func Busy(container *html.Node, action string) bool {
	return dom.HasAttr(Button(container, action), "disabled")
}

// SetSelected reflects selection on the checkbox.
func SetSelected(container *html.Node, selected bool) {
	box := Button(container, ActionSelect)
	if box == nil {
		return
	}
	if selected {
		dom.SetAttr(box, "checked", "")
	} else {
		dom.RemoveAttr(box, "checked")
	}
}

// SetVisible collapses or restores a container without unmounting it.
// Containers the host hid itself are never revealed.
func SetVisible(container *html.Node, visible bool) {
	if visible {
		if dom.HasAttr(container, dom.HiddenAttr) {
			dom.RemoveAttr(container, dom.HiddenAttr)
			dom.RemoveAttr(container, "hidden")
		}
		return
	}
	if dom.HasAttr(container, "hidden") && !dom.HasAttr(container, dom.HiddenAttr) {
		return
	}
	dom.SetAttr(container, "hidden", "")
	dom.SetAttr(container, dom.HiddenAttr, "")
}

// Hidden reports whether adsweep collapsed the container.
func Hidden(container *html.Node) bool {
	return dom.HasAttr(container, dom.HiddenAttr)
}

func activeLabel(n int) string {
	if n == 1 {
		return "1 active ad"
	}
	return strconv.Itoa(n) + " active ads"
}

func element(a atom.Atom, key, val string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if key != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	return n
}

func button(action, id, label string) *html.Node {
	b := element(atom.Button, ActionAttr, action)
	dom.SetAttr(b, "type", "button")
	dom.SetAttr(b, CardAttr, id)
	b.AppendChild(text(label))
	return b
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
