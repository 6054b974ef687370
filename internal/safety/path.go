package safety

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanProbePath validates a slash separated path relative to a mirror root.
// It rejects absolute paths, parent traversal and anything that would alter
// the query or fragment of the resulting URL.
func CleanProbePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.ContainsAny(p, "?#\\") {
		return "", fmt.Errorf("path contains reserved characters: %q", p)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute paths are not allowed: %q", p)
	}

	clean := path.Clean(p)
	if clean == "." {
		return "", fmt.Errorf("path resolves to the mirror root")
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("parent traversal is not allowed: %q", p)
	}
	return clean, nil
}

// FileUnder returns the absolute path of the last element of probePath inside
// dir. rsync writes the probe object there when copying into dir.
func FileUnder(dir, probePath string) (string, error) {
	clean, err := CleanProbePath(probePath)
	if err != nil {
		return "", err
	}

	rootAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory: %w", err)
	}
	candidate := filepath.Join(rootAbs, path.Base(clean))

	rel, err := filepath.Rel(rootAbs, candidate)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes directory: %q", probePath)
	}
	return candidate, nil
}
