package domain

import "time"

// StatusHistoryEntry records one order status transition. FromStatus is nil
// for the entry written when the order is created.
type StatusHistoryEntry struct {
	FromStatus *OrderStatus `json:"from_status"`
	ToStatus   OrderStatus  `json:"to_status"`
	Timestamp  time.Time    `json:"timestamp"`
	Notes      string       `json:"notes"`
	ChangedBy  string       `json:"changed_by,omitempty"`
}

// Audit carries who performed a transition and when.
type Audit struct {
	At time.Time
	By string
}

// statusHistory is append-only; reads hand out copies.
type statusHistory struct {
	entries []StatusHistoryEntry
}

func (h *statusHistory) append(from *OrderStatus, to OrderStatus, notes string, audit Audit) {
	if from != nil {
		f := *from
		from = &f
	}
	h.entries = append(h.entries, StatusHistoryEntry{
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  audit.At,
		Notes:      notes,
		ChangedBy:  audit.By,
	})
}

func (h *statusHistory) list() []StatusHistoryEntry {
	return h.since(0)
}

func (h *statusHistory) len() int { return len(h.entries) }

// since returns the entries appended after the first n, used by stores that
// persist history incrementally.
func (h *statusHistory) since(n int) []StatusHistoryEntry {
	if n >= len(h.entries) {
		return nil
	}
	out := make([]StatusHistoryEntry, 0, len(h.entries)-n)
	for _, e := range h.entries[n:] {
		if e.FromStatus != nil {
			from := *e.FromStatus
			e.FromStatus = &from
		}
		out = append(out, e)
	}
	return out
}
