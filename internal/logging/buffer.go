package logging

import (
	"sync"
	"time"
)

// LogEntry is one captured log line, served back over GET /api/logs.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log entries in a fixed-size circular
// store. Safe for concurrent use.
type RingBuffer struct {
	mu   sync.RWMutex
	buf  []LogEntry
	next int
	full bool
}

// NewRingBuffer allocates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]LogEntry, size)}
}

// Write stores an entry, evicting the oldest one once the buffer is full.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.next] = entry
	rb.next++
	if rb.next == len(rb.buf) {
		rb.next = 0
		rb.full = true
	}
}

// ReadAll returns the buffered entries oldest-first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		if rb.next == 0 {
			return nil
		}
		out := make([]LogEntry, rb.next)
		copy(out, rb.buf[:rb.next])
		return out
	}

	// Full buffer: the oldest entry sits at the write cursor.
	out := make([]LogEntry, 0, len(rb.buf))
	out = append(out, rb.buf[rb.next:]...)
	return append(out, rb.buf[:rb.next]...)
}

// Count reports how many entries are buffered.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return len(rb.buf)
	}
	return rb.next
}
