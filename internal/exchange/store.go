package exchange

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultLimit = 200

// Entry captures one upstream bot call.
type Entry struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	Bot        string    `json:"bot"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Fragments  int       `json:"fragments"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Store keeps the most recent exchanges in memory, newest first.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
	nextID  atomic.Int64
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Store{limit: limit, entries: make([]Entry, 0, limit)}
}

func (s *Store) Add(e Entry) Entry {
	e.ID = s.nextID.Add(1)
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append([]Entry{e}, s.entries...)
	if len(s.entries) > s.limit {
		s.entries = s.entries[:s.limit]
	}
	return e
}

func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
