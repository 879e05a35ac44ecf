package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// libraryPage copies the saved ad library fixture into dir and returns its path.
// The fixture holds three cards; only the first links to WhatsApp.
func libraryPage(t *testing.T, dir, name string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join("testdata", "library.html"))
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

// executeRoot runs the root command with args and returns its stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}
