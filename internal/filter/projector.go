// Package filter projects the user's filter settings onto the card registry.
package filter

import (
	"github.com/nao1215/adsweep/internal/model"
)

// Project applies the filter to cards in registry order: topic-only first,
// then the minimum active count, then truncation at the visible limit.
// Cards beyond the limit or filtered out are reported as hidden; nothing is
// dropped. Project does not modify its inputs.
func Project(cards []*model.Card, state model.FilterState, selection model.SelectionSet) model.Projection {
	limit := state.VisibleLimit
	if limit <= 0 {
		limit = model.DefaultVisibleLimit
	}

	p := model.Projection{
		Visible: make([]string, 0, min(limit, len(cards))),
		Hidden:  make([]string, 0),
	}
	for _, c := range cards {
		p.Stats.Total++
		if c.IsTopicMatch {
			p.Stats.TopicMatches++
		}
		if selection.Contains(c.UniqueID) {
			p.Stats.Selected++
		}

		if !Qualifies(c, state) {
			p.Hidden = append(p.Hidden, c.UniqueID)
			continue
		}
		p.Qualifying++
		if len(p.Visible) < limit {
			p.Visible = append(p.Visible, c.UniqueID)
		} else {
			p.Hidden = append(p.Hidden, c.UniqueID)
		}
	}
	return p
}

// Qualifies reports whether a card passes every inclusion predicate.
func Qualifies(c *model.Card, state model.FilterState) bool {
	if state.TopicOnly && !c.IsTopicMatch {
		return false
	}
	if state.MinActiveCount > 0 && c.ActiveCount < state.MinActiveCount {
		return false
	}
	return true
}

// LoadMore raises the visible limit by one step. The limit never shrinks.
func LoadMore(state model.FilterState) model.FilterState {
	if state.VisibleLimit <= 0 {
		state.VisibleLimit = model.DefaultVisibleLimit
	}
	state.VisibleLimit += model.LoadMoreStep
	return state
}

// Apply records the projection on the cards themselves, so reports and
// controls can read Visible and Selected without recomputing.
func Apply(cards []*model.Card, p model.Projection, selection model.SelectionSet) {
	visible := make(map[string]bool, len(p.Visible))
	for _, id := range p.Visible {
		visible[id] = true
	}
	for _, c := range cards {
		c.Visible = visible[c.UniqueID]
		c.Selected = selection.Contains(c.UniqueID)
	}
}
