package fifo

import "sync"

// semaphore is a counting semaphore. Every post releases exactly one wait, so a
// post made before the matching wait is never lost.
type semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

func newSemaphore() *semaphore {
	s := &semaphore{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *semaphore) post() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *semaphore) wait() {
	s.mu.Lock()
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
	s.mu.Unlock()
}

func (s *semaphore) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
