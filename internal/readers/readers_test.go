package readers

import (
	"sync"
	"time"
)

type captureSink struct {
	mu       sync.Mutex
	contents map[string]string
	updates  map[string]int
	gone     map[string]bool
}

func newCaptureSink() *captureSink {
	return &captureSink{
		contents: make(map[string]string),
		updates:  make(map[string]int),
		gone:     make(map[string]bool),
	}
}

func (s *captureSink) UpdateContent(id, content string, _ *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone[id] {
		return false
	}
	s.contents[id] = content
	s.updates[id]++
	return true
}

func (*captureSink) UpdateRefreshTimes(string, *time.Time, *time.Time) bool {
	return true
}

func (s *captureSink) content(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contents[id]
}

func (s *captureSink) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[id]
}

func (s *captureSink) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gone[id] = true
}
