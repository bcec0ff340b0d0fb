package orchestrator

import (
	"sync"
	"time"

	"ballotscan/internal/ballot"
)

// historyCapacity bounds the in-memory transition log.
const historyCapacity = 256

// Transition is one ballot state change kept for operators. ID increases by
// one per change since the daemon started.
type Transition struct {
	ID         int64     `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurredAt"`
}

// history is a fixed-size ring of recent transitions. Nothing in it outlives
// the process.
type history struct {
	mu      sync.Mutex
	entries []Transition
	next    int
	seq     int64
	now     func() time.Time
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = historyCapacity
	}
	return &history{entries: make([]Transition, 0, capacity), now: time.Now}
}

func (h *history) add(tr ballot.Transition) {
	at := tr.Event.At
	if at.IsZero() {
		at = h.now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	entry := Transition{
		ID:         h.seq,
		From:       tr.From.String(),
		To:         tr.To.String(),
		Event:      string(tr.Event.Type),
		OccurredAt: at,
	}
	if len(h.entries) < cap(h.entries) {
		h.entries = append(h.entries, entry)
		return
	}
	h.entries[h.next] = entry
	h.next = (h.next + 1) % len(h.entries)
}

// recent returns up to limit entries, newest first.
func (h *history) recent(limit int) []Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Transition, 0, limit)
	// Before the ring wraps, next is 0 and the newest entry is last.
	newest := (h.next - 1 + n) % max(n, 1)
	for i := 0; i < limit; i++ {
		out = append(out, h.entries[(newest-i+n)%n])
	}
	return out
}
