package dom

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// EventKind distinguishes change notifications coming from the host page.
type EventKind int

const (
	// EventMutation reports that the host changed the document tree.
	EventMutation EventKind = iota

	// EventScroll reports that the viewport scrolled.
	EventScroll
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventMutation:
		return "mutation"
	case EventScroll:
		return "scroll"
	default:
		return "unknown"
	}
}

// Event is one change notification.
type Event struct {
	Kind EventKind
	At   time.Time
}

// EventSource delivers change notifications to subscribers.
// The returned cancel function unsubscribes the callback.
type EventSource interface {
	OnChange(callback func(Event)) (cancel func())
}

// Document is the host page as seen by adsweep: a parsed tree plus the page
// address, guarded by a lock because host mutations and scans arrive from
// different goroutines.
type Document struct {
	mu      sync.Mutex
	root    *html.Node
	address string

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// NewDocument wraps an existing tree.
func NewDocument(root *html.Node, address string) *Document {
	return &Document{
		root:    root,
		address: address,
		subs:    make(map[int]func(Event)),
	}
}

// Parse reads HTML and returns a Document for the given page address.
func Parse(r io.Reader, address string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return NewDocument(root, address), nil
}

// Address returns the page address.
func (d *Document) Address() string {
	return d.address
}

// Do runs fn with exclusive access to the tree. Changes made inside Do are
// adsweep's own and are not reported to subscribers.
func (d *Document) Do(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Mutate applies a host-side change and notifies subscribers afterwards.
func (d *Document) Mutate(fn func(root *html.Node)) {
	d.mu.Lock()
	fn(d.root)
	d.mu.Unlock()
	d.emit(EventMutation)
}

// Replace swaps the whole tree, as happens when the host re-renders the
// page, and notifies subscribers.
func (d *Document) Replace(root *html.Node) {
	d.mu.Lock()
	d.root = root
	d.mu.Unlock()
	d.emit(EventMutation)
}

// Scroll notifies subscribers that the viewport moved.
func (d *Document) Scroll() {
	d.emit(EventScroll)
}

// OnChange subscribes to mutation and scroll notifications.
func (d *Document) OnChange(callback func(Event)) (cancel func()) {
	d.subsMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = callback
	d.subsMu.Unlock()

	return func() {
		d.subsMu.Lock()
		delete(d.subs, id)
		d.subsMu.Unlock()
	}
}

// Render writes the current tree, including injected controls, as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// emit delivers an event outside the tree lock so callbacks may read the tree.
func (d *Document) emit(kind EventKind) {
	ev := Event{Kind: kind, At: time.Now()}

	d.subsMu.Lock()
	callbacks := make([]func(Event), 0, len(d.subs))
	for _, cb := range d.subs {
		callbacks = append(callbacks, cb)
	}
	d.subsMu.Unlock()

	for _, cb := range callbacks {
		cb(ev)
	}
}
