package syncmirror

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultIgnorePatterns are operating-system, editor and version-control
// droppings that never travel between the trees. Workflow state
// directories must not appear here.
var DefaultIgnorePatterns = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"._*",
	"*.swp",
	"*~",
	".git",
	".svn",
	".hg",
	"__pycache__",
	"*.pyc",
	".idea",
	".vscode",
}

// IgnoreSet matches path elements against glob patterns.
type IgnoreSet struct {
	patterns []string
	globs    []glob.Glob
}

// NewIgnoreSet compiles patterns. A pattern matches a single path element,
// so ".git" ignores the directory and everything under it at any depth.
func NewIgnoreSet(patterns ...string) (*IgnoreSet, error) {
	s := &IgnoreSet{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, p)
		s.globs = append(s.globs, g)
	}
	return s, nil
}

// MatchName reports whether a single path element is ignored.
func (s *IgnoreSet) MatchName(name string) bool {
	for _, g := range s.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Match reports whether any element of the slash-separated relative path
// is ignored.
func (s *IgnoreSet) Match(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		if elem != "" && s.MatchName(elem) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns.
func (s *IgnoreSet) Patterns() []string {
	return append([]string(nil), s.patterns...)
}
