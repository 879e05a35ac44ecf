package report

import (
	"io"

	"github.com/nao1215/adsweep/internal/model"
)

// Writer renders scan results.
type Writer interface {
	// Write outputs one scan result.
	// Returns the number of bytes written and any error encountered.
	Write(result *model.ScanResult) (int, error)

	// WriteSummary outputs a compact overview of several results, as
	// produced by a batch scan.
	WriteSummary(results []*model.ScanResult) (int, error)
}

// MultiWriter writes to multiple Writers in order.
// It stops on the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the result to all configured Writers.
func (m *MultiWriter) Write(result *model.ScanResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(result)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteSummary outputs the summary to all configured Writers.
func (m *MultiWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteSummary(results)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// topicShare returns the topic-matching percentage of all cards.
func topicShare(stats model.Stats) float64 {
	if stats.Total == 0 {
		return 0
	}
	return float64(stats.TopicMatches) * 100 / float64(stats.Total)
}
