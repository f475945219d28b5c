// Package eventlog keeps the ordered history of inbound messages, including
// notices synthesized by the session, for the presentation layer.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

// Entry is one received message. Entries are immutable once inserted.
type Entry struct {
	ID      uuid.UUID
	Seq     uint64
	At      time.Time
	Message protocol.Inbound
}

// Log is an append-only message history viewed newest-first.
// It never evicts entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry // oldest-first
	changed chan struct{}
	now     func() time.Time
}

// New creates an empty Log.
func New() *Log {
	return &Log{
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Prepend records msg as the newest entry and returns it. File data is
// copied so later changes by the caller do not reach the log; readers must
// treat returned data as read-only.
func (l *Log) Prepend(msg protocol.Inbound) Entry {
	if f, ok := msg.Content.(protocol.File); ok {
		f.Data = append([]byte(nil), f.Data...)
		msg.Content = f
	}

	l.mu.Lock()
	e := Entry{
		ID:      uuid.New(),
		Seq:     uint64(len(l.entries)) + 1,
		At:      l.now(),
		Message: msg,
	}
	l.entries = append(l.entries, e)
	ch := l.changed
	l.changed = make(chan struct{})
	l.mu.Unlock()

	close(ch)
	return e
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns a newest-first copy of all entries.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e
	}
	return out
}

// At returns the entry at newest-first index i.
func (l *Log) At(i int) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i < 0 || i >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1-i], true
}

// Find looks an entry up by ID.
func (l *Log) Find(id uuid.UUID) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

// Since returns the entries with Seq greater than seq, oldest-first.
// Renderers use it to print only what they have not shown yet.
func (l *Log) Since(seq uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]Entry, len(l.entries)-int(seq))
	copy(out, l.entries[seq:])
	return out
}

// Changed returns a channel that is closed on the next Prepend.
func (l *Log) Changed() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.changed
}
