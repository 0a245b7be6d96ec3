package audit

import (
	"sync"

	"github.com/queryglass-ai/queryglass-engine/pkg/models"
)

// DefaultHistorySize is the number of execution records retained in memory.
const DefaultHistorySize = 100

// History is a fixed-capacity, concurrency-safe ring of execution records.
// Once full, each append overwrites the oldest record.
type History struct {
	mu      sync.Mutex
	records []models.ExecutionRecord
	next    int
	full    bool
}

// NewHistory creates a ring retaining up to capacity records.
// Non-positive capacities fall back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{records: make([]models.ExecutionRecord, 0, capacity)}
}

// Append stores a record, evicting the oldest when the ring is full.
func (h *History) Append(rec models.ExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		h.records = append(h.records, rec)
		if len(h.records) == cap(h.records) {
			h.full = true
		}
		return
	}
	h.records[h.next] = rec
	h.next = (h.next + 1) % cap(h.records)
}

// Records returns a copy of the retained records, newest first.
func (h *History) Records() []models.ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.records)
	out := make([]models.ExecutionRecord, 0, n)
	if !h.full {
		for i := n - 1; i >= 0; i-- {
			out = append(out, h.records[i])
		}
		return out
	}
	// Newest record sits just before the overwrite cursor.
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + n) % n
		out = append(out, h.records[idx])
	}
	return out
}

// Len reports how many records are currently retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
