package model

import (
	"time"

	"golang.org/x/net/html"
)

// ScanPass carries the working state of one scan through the phase pipeline.
// Each phase reads what earlier phases produced and appends its own output.
type ScanPass struct {
	// Root is the document root the scan runs against.
	Root *html.Node

	// Address is the page address, used in logs and reports.
	Address string

	// Containers are the candidate containers returned by the detector.
	Containers []*html.Node

	// Admitted are the cards created during this pass.
	Admitted []*Card

	// DuplicatesRemoved counts control subtrees removed by the cleanup phase.
	DuplicatesRemoved int

	// Vanished counts cards whose containers left the document.
	Vanished int

	// Projection is the visibility computed at the end of the pass.
	Projection Projection

	// Phases records the phases that ran, in order.
	Phases []string
}

// NewScanPass creates a pass over the given root.
func NewScanPass(root *html.Node, address string) *ScanPass {
	return &ScanPass{
		Root:    root,
		Address: address,
		Phases:  make([]string, 0, 5),
	}
}

// ScanResult summarizes a completed scan for reports and history.
type ScanResult struct {
	Address           string        `json:"address"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	Found             int           `json:"found"`
	Admitted          int           `json:"admitted"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	Vanished          int           `json:"vanished"`
	Projection        Projection    `json:"projection"`
	Cards             []CardSummary `json:"cards"`
	Error             string        `json:"error,omitempty"`
}

// CardSummary is the serializable view of a Card used in reports.
type CardSummary struct {
	UniqueID     string `json:"unique_id"`
	IsTopicMatch bool   `json:"is_topic_match"`
	ActiveCount  int    `json:"active_count"`
	Selected     bool   `json:"selected"`
	Visible      bool   `json:"visible"`
	Reference    string `json:"reference,omitempty"`
}

// NewScanResult builds a result from a finished pass and the current cards.
func NewScanResult(pass *ScanPass, cards []*Card, startedAt time.Time, elapsed time.Duration) *ScanResult {
	result := &ScanResult{
		Address:           pass.Address,
		StartedAt:         startedAt,
		Duration:          elapsed,
		Found:             len(pass.Containers),
		Admitted:          len(pass.Admitted),
		DuplicatesRemoved: pass.DuplicatesRemoved,
		Vanished:          pass.Vanished,
		Projection:        pass.Projection,
		Cards:             make([]CardSummary, 0, len(cards)),
	}
	for _, c := range cards {
		result.Cards = append(result.Cards, CardSummary{
			UniqueID:     c.UniqueID,
			IsTopicMatch: c.IsTopicMatch,
			ActiveCount:  c.ActiveCount,
			Selected:     c.Selected,
			Visible:      c.Visible,
			Reference:    c.Reference,
		})
	}
	return result
}

// ScanState is the scheduler's view of scan execution.
// It is owned and mutated only by the scheduler.
type ScanState struct {
	// InProgress is the scan mutex flag.
	InProgress bool `json:"in_progress"`

	// LastStartTime is when the most recent scan started.
	// The zero value means no throttle applies.
	LastStartTime time.Time `json:"last_start_time"`

	// Pending reports whether a debounced request is waiting.
	Pending bool `json:"pending"`
}

// MutationBudget bounds how many mutation-triggered scan requests are
// accepted per window.
type MutationBudget struct {
	// Count is the number of mutations observed in the current window.
	Count int `json:"count"`

	// WindowStart is when the current window opened.
	WindowStart time.Time `json:"window_start"`
}
