// Package builtintools implements the in-process tool providers spec §4.d
// requires every runtime to synthesize: shell, text_editor, and list_files.
// Grounded on the teacher's internal/tools/exec and internal/tools/files
// packages (schema shape, workspace-confinement resolver, exec plumbing),
// generalized to the Message-role tool-call contract this runtime uses.
package builtintools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolver resolves workspace-relative paths and refuses any path that
// would escape the workspace root, matching the teacher's
// internal/tools/files.Resolver.
type resolver struct {
	root string
}

func newResolver(root string) resolver {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	return resolver{root: root}
}

func (r resolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := filepath.Abs(r.root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}
