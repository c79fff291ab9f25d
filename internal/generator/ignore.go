package generator

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// defaultIgnorePatterns are skipped in every document tree.
var defaultIgnorePatterns = []string{
	".git",
	"node_modules",
	"__pycache__",
	"*.pyc",
	".DS_Store",
	"*.lock",
	"*.log",
	"vendor",
	"dist",
	"build",
	".idea",
	".vscode",
}

// IgnoreFilter matches paths against the default patterns and the root's
// .gitignore and .riceignore files.
type IgnoreFilter struct {
	root    string
	matcher gitignore.Matcher
}

// NewIgnoreFilter loads the ignore files found in root. Missing files are
// not an error.
func NewIgnoreFilter(root string) (*IgnoreFilter, error) {
	var patterns []gitignore.Pattern
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	for _, name := range []string{".gitignore", ".riceignore"} {
		extra, err := readPatterns(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}

	return &IgnoreFilter{root: root, matcher: gitignore.NewMatcher(patterns)}, nil
}

func readPatterns(path string) ([]gitignore.Pattern, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, scanner.Err()
}

// ShouldIgnore reports whether path, a file or directory under root, is
// excluded.
func (f *IgnoreFilter) ShouldIgnore(path string, isDir bool) bool {
	relPath, err := filepath.Rel(f.root, path)
	if err != nil || relPath == "." {
		return false
	}
	return f.matcher.Match(strings.Split(relPath, string(filepath.Separator)), isDir)
}
