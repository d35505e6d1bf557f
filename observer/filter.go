package observer

import (
	"fmt"

	"github.com/gobwas/glob"
)

// RowFilter matches rows against glob patterns
type RowFilter struct {
	globs []glob.Glob
}

// NewRowFilter creates a filter. Empty patterns match every row.
func NewRowFilter(patterns []string) (*RowFilter, error) {
	filter := &RowFilter{globs: make([]glob.Glob, 0, len(patterns))}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid row pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Match returns true if row matches any pattern
func (f *RowFilter) Match(row []byte) bool {
	if f == nil || len(f.globs) == 0 {
		return true
	}

	r := string(row)
	for _, g := range f.globs {
		if g.Match(r) {
			return true
		}
	}
	return false
}
