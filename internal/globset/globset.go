// Package globset ORs a list of shell-style glob patterns into a single
// match test, the way a configured entry's file name allow-list is applied.
package globset

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Set is a compiled, ordered list of patterns matched with OR semantics.
type Set []glob.Glob

// Compile builds a Set from raw glob patterns. An empty patterns slice
// compiles to a Set that matches nothing.
func Compile(patterns []string) (Set, error) {
	set := make(Set, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("globset: compile %q: %w", p, err)
		}
		set = append(set, g)
	}
	return set, nil
}

// Match reports whether name matches any pattern in the set.
func (s Set) Match(name string) bool {
	for _, g := range s {
		if g.Match(name) {
			return true
		}
	}
	return false
}
