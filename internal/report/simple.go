package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/adsweep/internal/model"
)

// SimpleWriter outputs human-readable text for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose lists every card, not just the totals.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists every card.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs one result.
func (w *SimpleWriter) Write(result *model.ScanResult) (int, error) {
	var sb strings.Builder
	separator := strings.Repeat("=", 60)
	stats := result.Projection.Stats

	sb.WriteString(separator + "\n")
	sb.WriteString("adsweep scan\n")
	sb.WriteString(separator + "\n")
	fmt.Fprintf(&sb, "Page:           %s\n", result.Address)
	fmt.Fprintf(&sb, "Scanned:        %s (%s)\n", result.StartedAt.Format("2006-01-02 15:04:05"), result.Duration.Round(time.Millisecond))
	if result.Error != "" {
		fmt.Fprintf(&sb, "Error:          %s\n", result.Error)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Containers:     %d found, %d new\n", result.Found, result.Admitted)
	fmt.Fprintf(&sb, "Cards:          %d total\n", stats.Total)
	fmt.Fprintf(&sb, "Topic matches:  %d (%.1f%%)\n", stats.TopicMatches, topicShare(stats))
	fmt.Fprintf(&sb, "Visible:        %d of %d qualifying\n", len(result.Projection.Visible), result.Projection.Qualifying)
	fmt.Fprintf(&sb, "Selected:       %d\n", stats.Selected)
	if result.DuplicatesRemoved > 0 {
		fmt.Fprintf(&sb, "Duplicates:     %d control set(s) removed\n", result.DuplicatesRemoved)
	}
	if result.Vanished > 0 {
		fmt.Fprintf(&sb, "Vanished:       %d card(s)\n", result.Vanished)
	}

	if w.verbose && len(result.Cards) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("-", 60) + "\n")
		for _, c := range result.Cards {
			mark := " "
			if c.IsTopicMatch {
				mark = "*"
			}
			vis := "hidden"
			if c.Visible {
				vis = "visible"
			}
			fmt.Fprintf(&sb, "%s %s  active=%d  %s", mark, c.UniqueID, c.ActiveCount, vis)
			if c.Reference != "" {
				fmt.Fprintf(&sb, "  %s", c.Reference)
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString(separator + "\n")

	return io.WriteString(w.output, sb.String())
}

// WriteSummary outputs one line per result.
func (w *SimpleWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	var sb strings.Builder
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, "FAIL  %s: %s\n", r.Address, r.Error)
			continue
		}
		s := r.Projection.Stats
		fmt.Fprintf(&sb, "OK    %s: %d cards, %d topic matches, %d visible\n",
			r.Address, s.Total, s.TopicMatches, len(r.Projection.Visible))
	}
	return io.WriteString(w.output, sb.String())
}
