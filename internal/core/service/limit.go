package service

const (
	// DefaultLogLimit is the default page size for retained log-line reads.
	DefaultLogLimit = 200
	// MaxLogLimit caps how much of the retained ring one read may return.
	MaxLogLimit = 5000
)

// ClampLimit returns a sane list limit using the provided default and
// maximum. Non-positive values yield the default; values above max clamp
// to max.
func ClampLimit(limit, defaultLimit, max int) int {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLogLimit
	}
	if max <= 0 {
		max = defaultLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}
