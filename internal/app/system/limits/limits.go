// internal/app/system/limits/limits.go
package limits

// Request body size limits for the JSON API.
// These limits help prevent memory exhaustion from oversized requests.
const (
	// MaxJSONBody is the maximum size for ordinary API request bodies
	// (content creation, operations, grants).
	MaxJSONBody = 1 << 20 // 1 MB

	// MaxCommentBody is the maximum size for comment submissions.
	MaxCommentBody = 64 << 10 // 64 KB
)
