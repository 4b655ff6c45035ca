// Package presence holds the shared "who is in" state, either in memory for a
// single process or in Redis for a group of cooperating processes.
package presence

import (
	"sync"
)

// Snapshot is the per-recipient view pushed to a client.
type Snapshot struct {
	PeopleIn int  `json:"people_in"`
	ImIn     bool `json:"im_in"`
}

// Set is the in-memory presence set. Membership is the only source of truth
// for both the count and each user's flag.
type Set struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewSet creates an empty presence set.
func NewSet() *Set {
	return &Set{users: make(map[string]struct{})}
}

// MarkIn adds user and reports whether membership changed. Marking a user who
// is already in leaves the count untouched.
func (s *Set) MarkIn(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user]; ok {
		return false
	}
	s.users[user] = struct{}{}
	return true
}

// MarkOut removes user and reports whether membership changed.
func (s *Set) MarkOut(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user]; !ok {
		return false
	}
	delete(s.users, user)
	return true
}

// Count returns the number of users currently in.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// IsIn reports whether user is currently in.
func (s *Set) IsIn(user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[user]
	return ok
}

// Snapshot computes the view for user under a single read lock so the count
// and the flag are consistent with each other.
func (s *Set) Snapshot(user string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, in := s.users[user]
	return Snapshot{PeopleIn: len(s.users), ImIn: in}
}
