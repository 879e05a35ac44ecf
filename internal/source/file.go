package source

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/nao1215/adsweep/internal/dom"
	"golang.org/x/net/html"
)

// FileAddress returns the page address used for a snapshot file.
func FileAddress(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// LoadFile parses a snapshot file into a Document.
func LoadFile(path string) (*dom.Document, error) {
	root, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	return dom.NewDocument(root, FileAddress(path)), nil
}

// SaveFile writes the document, with injected controls, to path.
func SaveFile(doc *dom.Document, path string) error {
	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func parseFile(path string) (*html.Node, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return root, nil
}
