package model

// Visible-limit defaults.
const (
	// DefaultVisibleLimit is the number of qualifying cards shown before
	// the user asks for more.
	DefaultVisibleLimit = 50

	// LoadMoreStep is how much VisibleLimit grows per "load more" request.
	LoadMoreStep = 50
)

// FilterState holds the user's filter settings.
// TopicOnly and MinActiveCount are persisted externally; VisibleLimit lives
// for the lifetime of a session.
type FilterState struct {
	// TopicOnly drops cards that did not match the topic classifier.
	TopicOnly bool `json:"topic_only" yaml:"topicOnly"`

	// MinActiveCount drops cards with fewer active ads. Zero disables the filter.
	MinActiveCount int `json:"min_active_count" yaml:"minActiveCount"`

	// VisibleLimit caps how many qualifying cards are visible.
	// It only ever grows, in LoadMoreStep increments.
	VisibleLimit int `json:"visible_limit" yaml:"-"`
}

// NewFilterState returns a filter with no predicates and the default limit.
func NewFilterState() FilterState {
	return FilterState{VisibleLimit: DefaultVisibleLimit}
}

// Stats is derived on every projection and never stored independently.
type Stats struct {
	Total        int `json:"total"`
	TopicMatches int `json:"topicMatches"`
	Selected     int `json:"selected"`
}

// Projection is the result of applying a FilterState to all known cards.
type Projection struct {
	// Visible contains the unique ids of visible cards in registry order.
	Visible []string `json:"visible"`

	// Hidden contains the unique ids of cards that are mounted but hidden,
	// either filtered out or beyond the visible limit.
	Hidden []string `json:"hidden"`

	// Qualifying is the number of cards that passed every predicate,
	// before truncation at the visible limit.
	Qualifying int `json:"qualifying"`

	// Stats are recomputed with every projection.
	Stats Stats `json:"stats"`
}

// HasMore reports whether "load more" would reveal additional cards.
func (p Projection) HasMore() bool {
	return p.Qualifying > len(p.Visible)
}
