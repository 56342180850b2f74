package builtintools

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// listFilesParams mirrors spec §4.d's list_files(directory, pattern?,
// content?, max_depth?) signature.
type listFilesParams struct {
	Directory string `json:"directory" jsonschema:"required,description=Directory to search, relative to the workspace"`
	Pattern   string `json:"pattern,omitempty" jsonschema:"description=Glob pattern filenames must match"`
	Content   string `json:"content,omitempty" jsonschema:"description=Substring that must appear in file contents"`
	MaxDepth  int    `json:"max_depth,omitempty" jsonschema:"description=Maximum directory depth to recurse, 0 = unlimited"`
}

type fileMatch struct {
	Path  string `json:"path"`
	Lines []int  `json:"matching_lines,omitempty"`
}

type listFilesResult struct {
	Success bool        `json:"success"`
	Files   []fileMatch `json:"files"`
	Count   int         `json:"count"`
	Message string      `json:"message,omitempty"`
}

func listFilesSchema() json.RawMessage {
	return mustSchema(&listFilesParams{})
}

// listFiles walks directory, honoring .gitignore files discovered along the
// way (one ignore set per directory level, teacher's content-search tools
// delegate to ripgrep/the `ignore` crate for this; no such Go library
// appears anywhere in the example pack, so this is a minimal from-scratch
// matcher — see DESIGN.md).
func listFiles(ctx context.Context, workspace string, params json.RawMessage) (json.RawMessage, error) {
	var in listFilesParams
	if err := json.Unmarshal(params, &in); err != nil {
		return marshalResult(listFilesResult{Message: "invalid parameters: " + err.Error()})
	}

	res := newResolver(workspace)
	root, err := res.resolve(in.Directory)
	if err != nil {
		return marshalResult(listFilesResult{Message: err.Error()})
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return marshalResult(listFilesResult{Message: "directory not found: " + in.Directory})
	}

	var matches []fileMatch
	ignores := newIgnoreSet(root)
	ignores.loadDir(root)
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			ignores.loadDir(path)
			if ignores.matches(rel, true) {
				return filepath.SkipDir
			}
			if in.MaxDepth > 0 && strings.Count(rel, string(filepath.Separator))+1 > in.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if ignores.matches(rel, false) {
			return nil
		}
		if in.MaxDepth > 0 && strings.Count(rel, string(filepath.Separator))+1 > in.MaxDepth {
			return nil
		}
		if in.Pattern != "" {
			ok, _ := filepath.Match(in.Pattern, d.Name())
			if !ok {
				return nil
			}
		}

		if in.Content == "" {
			matches = append(matches, fileMatch{Path: rel})
			return nil
		}
		lines, found := grepFile(path, in.Content)
		if found {
			matches = append(matches, fileMatch{Path: rel, Lines: lines})
		}
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return marshalResult(listFilesResult{Message: walkErr.Error()})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return marshalResult(listFilesResult{Success: true, Files: matches, Count: len(matches)})
}

func grepFile(path, needle string) ([]int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var lines []int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if strings.Contains(scanner.Text(), needle) {
			lines = append(lines, lineNo)
		}
	}
	return lines, len(lines) > 0
}

// ignoreSet accumulates .gitignore glob patterns discovered while walking,
// scoped to the directory they were declared in.
type ignoreSet struct {
	root     string
	patterns map[string][]string // directory (relative to root, "." for root) -> patterns
}

func newIgnoreSet(root string) *ignoreSet {
	return &ignoreSet{root: root, patterns: map[string][]string{}}
}

func (s *ignoreSet) loadDir(dir string) {
	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) > 0 {
		if relDir, err := filepath.Rel(s.root, dir); err == nil {
			s.patterns[relDir] = patterns
		}
	}
}

// matches reports whether rel (relative to the walk root) is ignored by any
// pattern loaded from an ancestor directory. This is a best-effort subset of
// gitignore semantics: trailing-slash directory patterns and plain
// basename/glob patterns, no negation.
func (s *ignoreSet) matches(rel string, isDir bool) bool {
	base := filepath.Base(rel)
	for dir, patterns := range s.patterns {
		sub := rel
		if dir != "." {
			prefix := dir + string(filepath.Separator)
			if !strings.HasPrefix(rel, prefix) {
				continue
			}
			sub = strings.TrimPrefix(rel, prefix)
		}
		for _, p := range patterns {
			dirOnly := strings.HasSuffix(p, "/")
			pat := strings.TrimSuffix(p, "/")
			if dirOnly && !isDir {
				continue
			}
			if ok, _ := filepath.Match(pat, base); ok {
				return true
			}
			if ok, _ := filepath.Match(pat, sub); ok {
				return true
			}
		}
	}
	return false
}
