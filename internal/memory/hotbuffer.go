package memory

import (
	"sync"

	"github.com/vieroc/salespilot/internal/conversation"
)

// HotBuffer is the bounded recency tier: an ordered FIFO window of the most
// recent turns per conversation, held in process. It does not evict on its
// own; the manager runs eviction as a two-phase operation (durable write to
// the episodic store, then EvictOldest here), so nothing is dropped before
// it is safe.
type HotBuffer struct {
	mu  sync.RWMutex
	cap int
	buf map[conversation.ID][]conversation.Turn
}

// NewHotBuffer creates a buffer holding up to capacity turns per
// conversation window.
func NewHotBuffer(capacity int) *HotBuffer {
	if capacity <= 0 {
		capacity = 20
	}
	return &HotBuffer{
		cap: capacity,
		buf: make(map[conversation.ID][]conversation.Turn),
	}
}

// Capacity returns the per-conversation window size N.
func (b *HotBuffer) Capacity() int { return b.cap }

// Append adds a turn at the tail of the conversation's window.
func (b *HotBuffer) Append(id conversation.ID, turn conversation.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf[id] = append(b.buf[id], turn)
}

// ReadWindow returns up to n most recent turns in original order.
func (b *HotBuffer) ReadWindow(id conversation.ID, n int) []conversation.Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	arr := b.buf[id]
	if len(arr) == 0 {
		return nil
	}
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	out := make([]conversation.Turn, n)
	copy(out, arr[len(arr)-n:])
	return out
}

// Len returns the current window size for a conversation.
func (b *HotBuffer) Len(id conversation.ID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buf[id])
}

// Surplus returns the oldest turns beyond capacity, in original order,
// without removing them. This is phase one of eviction.
func (b *HotBuffer) Surplus(id conversation.ID) []conversation.Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	arr := b.buf[id]
	if len(arr) <= b.cap {
		return nil
	}
	out := make([]conversation.Turn, len(arr)-b.cap)
	copy(out, arr[:len(arr)-b.cap])
	return out
}

// EvictOldest removes up to count turns from the head of the window. Phase
// two of eviction; call only after the surplus is durable.
func (b *HotBuffer) EvictOldest(id conversation.ID, count int) {
	if count <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	arr := b.buf[id]
	if count >= len(arr) {
		delete(b.buf, id)
		return
	}
	rest := make([]conversation.Turn, len(arr)-count)
	copy(rest, arr[count:])
	b.buf[id] = rest
}

// Seed fills a cold window from durable history. Existing contents win:
// seeding never clobbers turns that arrived while the fallback read ran.
func (b *HotBuffer) Seed(id conversation.ID, turns []conversation.Turn) {
	if len(turns) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf[id]) > 0 {
		return
	}
	window := turns
	if len(window) > b.cap {
		window = window[len(window)-b.cap:]
	}
	arr := make([]conversation.Turn, len(window))
	copy(arr, window)
	b.buf[id] = arr
}
