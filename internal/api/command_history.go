package api

import (
	"sync"
	"time"

	"github.com/resident-x/go-tmtc/internal/domain"
)

const defaultHistorySize = 100

// CommandRecord is one command issued through the API.
type CommandRecord struct {
	Command   string                  `json:"command"`
	Time      time.Time               `json:"time"`
	Binary    string                  `json:"binary,omitempty"`
	Arguments []*domain.ArgumentValue `json:"arguments,omitempty"`
	SentTo    []string                `json:"sent_to,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// CommandHistory keeps the most recent command records.
type CommandHistory struct {
	records []CommandRecord
	next    int
	full    bool
	mutex   sync.RWMutex
}

// NewCommandHistory creates a history holding up to size records.
func NewCommandHistory(size int) *CommandHistory {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &CommandHistory{records: make([]CommandRecord, size)}
}

// Add stores a record, dropping the oldest when full.
func (h *CommandHistory) Add(rec CommandRecord) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.records[h.next] = rec
	h.next = (h.next + 1) % len(h.records)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns the records newest first.
func (h *CommandHistory) Recent() []CommandRecord {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := h.next
	if h.full {
		n = len(h.records)
	}
	out := make([]CommandRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.records[(h.next-i+len(h.records))%len(h.records)])
	}
	return out
}
