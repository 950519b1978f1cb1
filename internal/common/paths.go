package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CleanPath cleans a path, rejects directory traversal and makes it absolute.
func CleanPath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path: contains directory traversal")
	}

	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		cleaned = abs
	}

	return cleaned, nil
}

// ValidatePath ensures a path is within baseDir.
func ValidatePath(path, baseDir string) (string, error) {
	cleanedPath, err := CleanPath(path)
	if err != nil {
		return "", err
	}

	cleanedBase, err := CleanPath(baseDir)
	if err != nil {
		return "", err
	}

	if cleanedPath != cleanedBase && !strings.HasPrefix(cleanedPath, cleanedBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s", cleanedPath, cleanedBase)
	}

	return cleanedPath, nil
}

// JoinPath joins elements onto base and checks the result stays inside it.
// Partition values such as "year=2018" are passed through unchanged.
func JoinPath(base string, elements ...string) (string, error) {
	cleanedBase, err := CleanPath(base)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(append([]string{cleanedBase}, elements...)...)
	return ValidatePath(joined, cleanedBase)
}

// EnsureDir creates dir and its parents with normal permissions.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirPermissionNormal); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// WriteReport writes a generated report into dir, creating dir if needed.
func WriteReport(dir, name string, data []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	path, err := JoinPath(dir, name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, FilePermissionNormal); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
