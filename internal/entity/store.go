package entity

import (
	"slices"

	"github.com/matheus3301/livesync/internal/status"
)

// Store is the in-memory ordered message collection backing one thread.
// Rows keep their insertion order; in-place replacements never move a row.
// Store is not safe for concurrent use: it is owned by the presenter loop.
type Store struct {
	rows    []Message
	index   map[string]int
	pending map[string]struct{}
	version uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		index:   make(map[string]int),
		pending: make(map[string]struct{}),
	}
}

// Len returns the number of rows.
func (s *Store) Len() int { return len(s.rows) }

// Version increases on every mutation.
func (s *Store) Version() uint64 { return s.version }

// At returns the row at position i.
func (s *Store) At(i int) Message { return s.rows[i] }

// Get looks a row up by id and returns its position.
func (s *Store) Get(id string) (Message, int, bool) {
	i, ok := s.index[id]
	if !ok {
		return Message{}, -1, false
	}
	return s.rows[i], i, true
}

// Has reports whether a row with id exists.
func (s *Store) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Append adds m at the end. It returns false without changing anything if a
// row with the same id already exists.
func (s *Store) Append(m Message) (int, bool) {
	if i, ok := s.index[m.ID]; ok {
		return i, false
	}
	s.rows = append(s.rows, m)
	i := len(s.rows) - 1
	s.index[m.ID] = i
	s.track(m)
	s.version++
	return i, true
}

// Insert places m at position i and shifts later rows down. It returns false
// without changing anything if a row with the same id already exists.
func (s *Store) Insert(i int, m Message) (int, bool) {
	if j, ok := s.index[m.ID]; ok {
		return j, false
	}
	if i >= len(s.rows) {
		return s.Append(m)
	}
	i = max(i, 0)
	s.rows = slices.Insert(s.rows, i, m)
	for j := i; j < len(s.rows); j++ {
		s.index[s.rows[j].ID] = j
	}
	s.track(m)
	s.version++
	return i, true
}

// LocalTail returns the position where the trailing run of rows with
// temporary ids starts, or Len() when the last row is durable.
func (s *Store) LocalTail() int {
	i := len(s.rows)
	for i > 0 && s.rows[i-1].Temporary() {
		i--
	}
	return i
}

// Replace overwrites the row identified by id with m, keeping its position.
// m may carry a different id, in which case the index follows it. It returns
// false if id is unknown or if m.ID already belongs to another row.
func (s *Store) Replace(id string, m Message) (int, bool) {
	i, ok := s.index[id]
	if !ok {
		return -1, false
	}
	if m.ID != id {
		if _, taken := s.index[m.ID]; taken {
			return i, false
		}
		delete(s.index, id)
		delete(s.pending, id)
		s.index[m.ID] = i
	}
	s.rows[i] = m
	s.track(m)
	s.version++
	return i, true
}

// Remove deletes the row with id and shifts later rows up by one.
func (s *Store) Remove(id string) (int, bool) {
	i, ok := s.index[id]
	if !ok {
		return -1, false
	}
	s.rows = slices.Delete(s.rows, i, i+1)
	delete(s.index, id)
	delete(s.pending, id)
	for j := i; j < len(s.rows); j++ {
		s.index[s.rows[j].ID] = j
	}
	s.version++
	return i, true
}

// Pending returns the unconfirmed local outgoing rows of a conversation in
// store order.
func (s *Store) Pending(conversationID string) []Message {
	positions := make([]int, 0, len(s.pending))
	for id := range s.pending {
		i := s.index[id]
		if s.rows[i].ConversationID == conversationID {
			positions = append(positions, i)
		}
	}
	slices.Sort(positions)
	out := make([]Message, len(positions))
	for k, i := range positions {
		out[k] = s.rows[i]
	}
	return out
}

// PendingCount returns the number of unconfirmed local rows.
func (s *Store) PendingCount() int { return len(s.pending) }

// Rows returns a copy of all rows in order.
func (s *Store) Rows() []Message {
	return slices.Clone(s.rows)
}

// Reset replaces the whole content with msgs.
func (s *Store) Reset(msgs []Message) {
	s.rows = s.rows[:0]
	clear(s.index)
	clear(s.pending)
	for _, m := range msgs {
		s.Append(m)
	}
	s.version++
}

func (s *Store) track(m Message) {
	if m.Temporary() && m.Direction == Outgoing && m.Status == status.Pending {
		s.pending[m.ID] = struct{}{}
		return
	}
	delete(s.pending, m.ID)
}
