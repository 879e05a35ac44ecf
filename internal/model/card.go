package model

import (
	"sort"

	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// Card identifies one detected advertisement container.
//
// A Card is created when the detector finds a qualifying container and the
// tracker confirms that the container has not been handled before. It is
// mutated in place by classification and filtering and is never destroyed by
// adsweep itself: it only disappears when the host page removes its container.
type Card struct {
	// UniqueID is a random identifier stamped onto the container.
	UniqueID string `json:"unique_id"`

	// Processed reports whether the container was stamped and had controls injected.
	Processed bool `json:"processed"`

	// IsTopicMatch is the cached classifier verdict.
	IsTopicMatch bool `json:"is_topic_match"`

	// ActiveCount is the number of active ads sharing this creative.
	// Cards without an explicit count have an ActiveCount of 1.
	ActiveCount int `json:"active_count"`

	// Selected mirrors membership in the session's SelectionSet.
	Selected bool `json:"selected"`

	// Visible is the visibility assigned by the last projection.
	Visible bool `json:"visible"`

	// Reference is the external reference computed on demand by the extractor.
	// It stays empty until a user action needs it.
	Reference string `json:"reference,omitempty"`

	// Container is the card's root element in the host document.
	Container *html.Node `json:"-"`
}

// NewCard creates an unprocessed card bound to a container.
func NewCard(container *html.Node) *Card {
	return &Card{
		UniqueID:    uuid.NewString(),
		ActiveCount: 1,
		Container:   container,
	}
}

// ShortID shortens a card unique id for file names and terminal output.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SelectionSet is the set of card unique ids selected for bulk operations.
type SelectionSet map[string]struct{}

// NewSelectionSet returns an empty selection.
func NewSelectionSet() SelectionSet {
	return make(SelectionSet)
}

// Toggle flips membership of id and reports whether it is now selected.
func (s SelectionSet) Toggle(id string) bool {
	if _, ok := s[id]; ok {
		delete(s, id)
		return false
	}
	s[id] = struct{}{}
	return true
}

// Add selects id.
func (s SelectionSet) Add(id string) {
	s[id] = struct{}{}
}

// Remove deselects id.
func (s SelectionSet) Remove(id string) {
	delete(s, id)
}

// Contains reports whether id is selected.
func (s SelectionSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Clear deselects everything.
func (s SelectionSet) Clear() {
	for id := range s {
		delete(s, id)
	}
}

// IDs returns the selected ids in sorted order.
func (s SelectionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
