package engine

import (
	"sync"

	"github.com/renholm/stagehand/pkg/schema"
)

// ExecutionLog is the in-memory append-only log of one instance. The
// dispatcher appends exactly one entry per dispatched action; the final
// RunResult exposes a snapshot.
type ExecutionLog struct {
	mu      sync.Mutex
	entries []schema.LogEntry
}

// Append adds an entry to the log. Entries are never modified or removed.
func (l *ExecutionLog) Append(entry schema.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the log in append order.
func (l *ExecutionLog) Entries() []schema.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schema.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *ExecutionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
