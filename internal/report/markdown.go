package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/adsweep/internal/model"
)

// MarkdownWriter outputs results in Markdown for sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs one result.
func (w *MarkdownWriter) Write(result *model.ScanResult) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("adsweep Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Page", "`" + result.Address + "`"},
			{"Scan Date", result.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Containers Found", strconv.Itoa(result.Found)},
			{"Status", statusText(result)},
		},
	})
	md.PlainText("")

	w.writeStats(md, result)
	w.writeCards(md, result)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Report generated by adsweep*")

	return len(md.String()), md.Build()
}

// WriteSummary outputs a table with one row per result.
func (w *MarkdownWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("adsweep Batch Report")
	md.PlainText("")

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		s := r.Projection.Stats
		rows = append(rows, []string{
			"`" + r.Address + "`",
			strconv.Itoa(s.Total),
			strconv.Itoa(s.TopicMatches),
			strconv.Itoa(len(r.Projection.Visible)),
			statusText(r),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Page", "Cards", "Topic Matches", "Visible", "Status"},
		Rows:   rows,
	})
	md.PlainText("")
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeStats(md *markdown.Markdown, result *model.ScanResult) {
	stats := result.Projection.Stats
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Cards", strconv.Itoa(stats.Total)},
			{"Topic matches", strconv.Itoa(stats.TopicMatches)},
			{"Qualifying", strconv.Itoa(result.Projection.Qualifying)},
			{"Visible", strconv.Itoa(len(result.Projection.Visible))},
			{"Selected", strconv.Itoa(stats.Selected)},
			{"Duplicates removed", strconv.Itoa(result.DuplicatesRemoved)},
			{"Vanished", strconv.Itoa(result.Vanished)},
		},
	})
	md.PlainText("")

	if stats.Total > 0 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Cards by Topic"),
			piechart.WithShowData(true),
		)
		if stats.TopicMatches > 0 {
			chart.LabelAndIntValue("WhatsApp", uint64(stats.TopicMatches))
		}
		if other := stats.Total - stats.TopicMatches; other > 0 {
			chart.LabelAndIntValue("Other", uint64(other))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	switch {
	case result.Error != "":
		md.Warningf("The scan ended with an error: %s", result.Error)
	case result.Projection.HasMore():
		md.Note(fmt.Sprintf("%d qualifying card(s) are beyond the visible limit.",
			result.Projection.Qualifying-len(result.Projection.Visible)))
	case stats.TopicMatches == 0:
		md.Tip("No WhatsApp-driven ads on this page.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeCards(md *markdown.Markdown, result *model.ScanResult) {
	md.H2("Cards")
	md.PlainText("")
	if len(result.Cards) == 0 {
		md.PlainText("No ad cards detected.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(result.Cards))
	for i, c := range result.Cards {
		ref := c.Reference
		if ref == "" {
			ref = "-"
		}
		rows[i] = []string{
			"`" + truncateString(c.UniqueID, 8) + "`",
			yesNo(c.IsTopicMatch),
			strconv.Itoa(c.ActiveCount),
			yesNo(c.Visible),
			truncateString(ref, 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Card", "WhatsApp", "Active Ads", "Visible", "Reference"},
		Rows:   rows,
	})
	md.PlainText("")
}

func statusText(result *model.ScanResult) string {
	if result.Error != "" {
		return fmt.Sprintf("❌ Error - %s", result.Error)
	}
	return "✅ Complete"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// truncateString truncates a string to maxLen bytes.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
