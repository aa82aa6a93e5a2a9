// internal/app/system/paging/paging.go
package paging

import (
	"net/http"
	"strconv"

	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/waffle/pantry/query"
)

// PageSize is the default number of operations returned per history page.
const PageSize = 500

// MaxPageSize caps the limit a client may request.
const MaxPageSize = 1000

// ParseLimit extracts the "limit" query parameter, defaulting to PageSize and
// clamped to [1, MaxPageSize].
func ParseLimit(r *http.Request) int {
	s := query.Get(r, "limit")
	if s == "" {
		return PageSize
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return PageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// ParseSequence extracts a non-negative sequence number from query key.
// Missing means 0.
func ParseSequence(r *http.Request, key string) (int64, error) {
	s := query.Get(r, key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, syncerr.E(syncerr.Invalid, "%s must be a non-negative integer", key)
	}
	return n, nil
}

// LimitPlusOne returns limit+1 for look-ahead paging (fetch one extra row to
// detect a next page).
func LimitPlusOne(limit int) int64 { return int64(limit + 1) }

// TrimPage trims rows fetched with LimitPlusOne back to limit and reports
// whether more rows exist.
func TrimPage[T any](rows *[]T, limit int) (hasNext bool) {
	if len(*rows) > limit {
		*rows = (*rows)[:limit]
		return true
	}
	return false
}
