package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// TempDir wraps t.TempDir for consistency and future shared setup.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFile drops content into dir under name and returns the full path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
