// internal/app/system/search/search.go
package search

import (
	"strings"

	"github.com/dalemusser/waffle/pantry/text"
)

// Query is a folded, whitespace-collapsed search string.
type Query string

// Parse folds q for case- and accent-insensitive matching and collapses runs
// of whitespace. An empty Query matches everything.
func Parse(q string) Query {
	return Query(text.Fold(strings.Join(strings.Fields(q), " ")))
}

// Empty reports whether the query has no terms.
func (q Query) Empty() bool { return q == "" }

// Matches reports whether every term of q appears in s.
func (q Query) Matches(s string) bool {
	if q.Empty() {
		return true
	}
	folded := text.Fold(s)
	for _, term := range strings.Fields(string(q)) {
		if !strings.Contains(folded, term) {
			return false
		}
	}
	return true
}
