package contexts

// LockCount reports the live per-conversation lock entries.
func (s *Store) LockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
