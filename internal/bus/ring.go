package bus

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/forgefleet/orchestrator/internal/domain/event"
)

// logRing is a fixed-capacity, FIFO-trimmed buffer of recent LogLine
// events. It is backed by an LRU cache used
// strictly Add-only: every entry is looked up at most once by its
// monotonically increasing sequence key and never re-touched, so the
// cache's "least recently used" eviction degenerates to plain FIFO.
type logRing struct {
	cache *lru.Cache[uint64, event.Event]
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New[uint64, event.Event](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &logRing{cache: c}
}

func (r *logRing) add(seq uint64, e event.Event) {
	r.cache.Add(seq, e)
}

// recent returns up to limit of the most recently added entries, oldest
// first. limit <= 0 means "all".
func (r *logRing) recent(limit int) []event.Event {
	keys := r.cache.Keys() // oldest-add-order first for an Add-only cache
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	out := make([]event.Event, 0, len(keys))
	for _, k := range keys {
		if e, ok := r.cache.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}
