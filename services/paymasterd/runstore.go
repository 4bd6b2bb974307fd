package paymasterd

import (
	"sync"

	"paymaster/engine"
)

const defaultRunCapacity = 32

// runStore keeps recent runs in memory so operators can submit and poll
// status after computing. Oldest runs are evicted once capacity is reached;
// runs are recomputed wholesale, never restored.
type runStore struct {
	mu       sync.Mutex
	capacity int
	order    []string
	runs     map[string]*engine.Run
}

func newRunStore(capacity int) *runStore {
	if capacity <= 0 {
		capacity = defaultRunCapacity
	}
	return &runStore{
		capacity: capacity,
		runs:     make(map[string]*engine.Run, capacity),
	}
}

func (s *runStore) Put(run *engine.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
	}
}

func (s *runStore) Get(id string) (*engine.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

func (s *runStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
