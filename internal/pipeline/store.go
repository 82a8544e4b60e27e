package pipeline

import "sync/atomic"

// Store holds the single current Result. Publish swaps the whole value
// with one atomic pointer store; Current never blocks.
type Store struct {
	current atomic.Pointer[Result]
}

// NewStore returns a store holding the pending sentinel.
func NewStore() *Store {
	s := &Store{}
	r := PendingResult()
	s.current.Store(&r)
	return s
}

// Publish replaces the current result. r is copied, so the caller may
// reuse it afterwards.
func (s *Store) Publish(r Result) {
	c := r.Clone()
	s.current.Store(&c)
}

// Current returns a copy of the published result.
func (s *Store) Current() Result {
	return s.current.Load().Clone()
}

// Query is the read-only view handed to transport layers.
type Query struct {
	store *Store
}

// NewQuery returns a Query over s.
func NewQuery(s *Store) *Query {
	return &Query{store: s}
}

// Latest returns the most recently published result.
func (q *Query) Latest() Result {
	return q.store.Current()
}
