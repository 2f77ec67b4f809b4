// Package workspace locates the town root: the directory containing
// .hivemind/town.toml that anchors every daemon, CLI, and mailbox path.
//
// Grounded on gastown's internal/workspace/find.go: walk up from a
// starting directory looking for a marker file, stopping at the first
// match rather than the filesystem root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hivemind-dev/coordinator/internal/config"
)

// ErrNotFound indicates no town root was found.
var ErrNotFound = errors.New("not in a hivemind town (no .hivemind/town.toml found)")

// Find locates the town root by walking up from startDir looking for
// config.ManifestPath.
func Find(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	current := absDir
	for {
		if _, err := os.Stat(filepath.Join(current, config.ManifestPath)); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", nil
		}
		current = parent
	}
}

// FindOrError is like Find but returns ErrNotFound instead of an empty
// string when nothing is found.
func FindOrError(startDir string) (string, error) {
	root, err := Find(startDir)
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", ErrNotFound
	}
	return root, nil
}

// FindFromCwdOrError locates the town root from the current working
// directory.
func FindFromCwdOrError() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return FindOrError(cwd)
}

// Init creates a fresh town root at dir: the .hivemind directory and a
// minimal town.toml, plus the triggers mailbox directory so the Trigger
// Router has somewhere to watch on first daemon start.
func Init(dir string) error {
	hivemindDir := filepath.Join(dir, ".hivemind")
	if err := os.MkdirAll(hivemindDir, 0755); err != nil {
		return fmt.Errorf("creating .hivemind directory: %w", err)
	}
	manifestPath := filepath.Join(dir, config.ManifestPath)
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("town.toml already exists at %s", manifestPath)
	}
	const template = "version = 1\n\n[timing]\n\n# [[agent]]\n# pane = 1\n# role = \"architect\"\n# mode = \"interactive\"\n# cwd = \".\"\n# argv = [\"claude\"]\n"
	if err := os.WriteFile(manifestPath, []byte(template), 0644); err != nil {
		return fmt.Errorf("writing town.toml: %w", err)
	}
	return os.MkdirAll(filepath.Join(dir, "triggers"), 0755)
}
