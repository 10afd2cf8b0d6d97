package threads

import "sync"

// UserID is the Telegram id of an end user (equal to their private chat id).
type UserID int64

// ThreadID is a forum topic id (message_thread_id) inside the admin group.
type ThreadID int64

// Map is the user → thread mapping as it is persisted in backups.
type Map map[UserID]ThreadID

// Clone returns an independent copy of m. A nil map clones to an empty one.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for u, t := range m {
		out[u] = t
	}
	return out
}

// Equal reports whether m and other hold the same entries.
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for u, t := range m {
		got, ok := other[u]
		if !ok || got != t {
			return false
		}
	}
	return true
}

// Store is the in-memory bidirectional user/thread index. It is the single
// source of truth at runtime; backups are snapshots of it.
//
// Both directions are kept in step on every write, so a thread id always
// resolves to exactly one user.
type Store struct {
	mu      sync.RWMutex
	forward map[UserID]ThreadID
	reverse map[ThreadID]UserID
}

func NewStore() *Store {
	return &Store{
		forward: make(map[UserID]ThreadID),
		reverse: make(map[ThreadID]UserID),
	}
}

func (s *Store) Get(user UserID) (ThreadID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.forward[user]
	return t, ok
}

// Set binds user to thread. A previous thread of user, or a previous owner of
// thread, is unbound first.
func (s *Store) Set(user UserID, thread ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(user, thread)
}

func (s *Store) setLocked(user UserID, thread ThreadID) {
	if old, ok := s.forward[user]; ok {
		delete(s.reverse, old)
	}
	if owner, ok := s.reverse[thread]; ok && owner != user {
		delete(s.forward, owner)
	}
	s.forward[user] = thread
	s.reverse[thread] = user
}

func (s *Store) FindUserByThread(thread ThreadID) (UserID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.reverse[thread]
	return u, ok
}

// All returns a snapshot copy of the mapping.
func (s *Store) All() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Map(s.forward).Clone()
}

// Replace swaps the whole mapping for m. Used once, by recovery.
func (s *Store) Replace(m Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = make(map[UserID]ThreadID, len(m))
	s.reverse = make(map[ThreadID]UserID, len(m))
	for u, t := range m {
		s.setLocked(u, t)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.forward)
}
