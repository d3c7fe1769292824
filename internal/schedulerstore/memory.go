package schedulerstore

import (
	"context"
	"sync"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/model"
)

// MemoryStore is an in-process SchedulerStore for tests: per-owner FIFO
// slice plus a hash set, mirroring RedisStore's list+set shape without a
// broker.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string][]*model.Request
	queued map[string]map[string]struct{}
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues: make(map[string][]*model.Request),
		queued: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, owner string, reqs []*model.Request) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.queued[owner]
	if !ok {
		set = make(map[string]struct{})
		s.queued[owner] = set
	}

	accepted := 0
	for _, req := range reqs {
		if _, dup := set[req.Hash]; dup {
			continue
		}
		set[req.Hash] = struct{}{}
		s.queues[owner] = append(s.queues[owner], req.Clone())
		accepted++
	}
	return accepted, nil
}

func (s *MemoryStore) Dequeue(ctx context.Context, owner string, n int) ([]*model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return nil, nil
	}

	q := s.queues[owner]
	if len(q) == 0 {
		return nil, nil
	}
	if n > len(q) {
		n = len(q)
	}

	out := q[:n]
	s.queues[owner] = q[n:]

	set := s.queued[owner]
	for _, req := range out {
		delete(set, req.Hash)
	}
	return out, nil
}

func (s *MemoryStore) Total(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[owner]), nil
}

var _ contracts.SchedulerStore = (*MemoryStore)(nil)
