package partition

import (
	"fmt"
	"sync"
	"time"
)

// SeenSet records discovery keys already handed to a processor.
// Implementations must be safe for concurrent use.
type SeenSet interface {
	Contains(key string) bool
	Add(key string)
	// AddIfAbsent adds key and reports whether it was new, as one
	// locked step.
	AddIfAbsent(key string) bool
}

// Key identifies one version of a file in a partition. The modification
// time is part of the key, so a file rewritten under the same name is new work.
func Key(partition, name string, modTime time.Time) string {
	return fmt.Sprintf("%s/%s@%d", partition, name, modTime.UnixNano())
}

// MemorySeenSet lives for the process lifetime and is never pruned.
type MemorySeenSet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{keys: make(map[string]struct{})}
}

func (s *MemorySeenSet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

func (s *MemorySeenSet) Add(key string) {
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
}

func (s *MemorySeenSet) AddIfAbsent(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *MemorySeenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
