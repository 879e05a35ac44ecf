package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/adsweep/internal/model"
)

// JSONWriter outputs results in JSON format for tool integration.
//
// Design decision: We use standard encoding/json because:
//  1. The model types already carry json tags for it
//  2. Results are written once per run, so encoding speed does not matter
//  3. The output stays stable for scripts that diff reports between runs
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed output.
	// When false, output is compact.
	indent       bool
	indentPrefix string
	indentString string

	// version wraps every document in an Envelope when set.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion wraps every document with the adsweep version.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Envelope wraps results with version metadata.
type Envelope struct {
	Version string              `json:"version"`
	Results []*model.ScanResult `json:"results"`
}

// Write outputs one result.
func (w *JSONWriter) Write(result *model.ScanResult) (int, error) {
	if w.version != "" {
		return w.writeJSON(Envelope{Version: w.version, Results: []*model.ScanResult{result}})
	}
	return w.writeJSON(result)
}

// WriteSummary outputs every result as one JSON array, or one envelope.
func (w *JSONWriter) WriteSummary(results []*model.ScanResult) (int, error) {
	if w.version != "" {
		return w.writeJSON(Envelope{Version: w.version, Results: results})
	}
	return w.writeJSON(results)
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
