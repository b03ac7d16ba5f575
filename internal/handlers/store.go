// Package handlers implements the versioned endpoint handlers for the
// vocabulary, description and image-search resources. Each resource keeps
// one handler per API version; payload shapes differ between versions and
// the handlers branch on feature flags rather than version identity.
package handlers

import (
	"sort"
	"sync"
	"time"
)

// Word is a vocabulary entry saved by a learner.
type Word struct {
	ID        int64     `json:"id"`
	Spanish   string    `json:"spanish"`
	English   string    `json:"english"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an in-memory vocabulary store. It stands in for the relational
// persistence layer, which is out of scope for this service.
type Store struct {
	mu    sync.RWMutex
	words map[int64]Word
	next  int64
	now   func() time.Time
}

// NewStore returns an empty store. A nil clock defaults to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		words: make(map[int64]Word),
		next:  1,
		now:   now,
	}
}

// Insert saves a word and returns it with its assigned ID and timestamp.
func (s *Store) Insert(w Word) Word {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = s.next
	w.CreatedAt = s.now().UTC()
	s.next++
	s.words[w.ID] = w
	return w
}

// Get returns the word with the given ID.
func (s *Store) Get(id int64) (Word, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.words[id]
	return w, ok
}

// List returns up to limit words starting at offset, ordered by ID,
// together with the total count.
func (s *Store) List(offset, limit int) ([]Word, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Word, 0, len(s.words))
	for _, w := range s.words {
		all = append(all, w)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Word{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total
}

// Len returns the number of stored words.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.words)
}
