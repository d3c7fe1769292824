// Package inflight implements RequestedQueue: the in-flight table that
// tracks requests between dispatch and the matching agent response, with
// O(1) lookup by hash and an insertion-ordered sweep for timeouts.
package inflight

import (
	"container/list"
	"sync"
	"time"

	"github.com/deepcrawl/spidercore/internal/model"
)

type entry struct {
	req        *model.Request
	enqueuedAt time.Time
	elem       *list.Element
}

// Queue is a mutex-guarded hash map plus an insertion-ordered list, so
// Enqueue/Dequeue are O(1) and GetAllTimeoutList only walks the prefix of
// entries old enough to have timed out.
type Queue struct {
	mu      sync.Mutex
	timeout time.Duration
	byHash  map[string]*entry
	order   *list.List // front = oldest
}

// New builds an empty RequestedQueue with the given per-request timeout.
func New(timeout time.Duration) *Queue {
	return &Queue{
		timeout: timeout,
		byHash:  make(map[string]*entry),
		order:   list.New(),
	}
}

// Enqueue inserts req iff no entry with its hash already exists. Returns
// true on insert, false if a request with the same hash is already
// in-flight — the caller MUST NOT re-dispatch in that case.
func (q *Queue) Enqueue(req *model.Request) bool {
	return q.enqueueAt(req, time.Now())
}

func (q *Queue) enqueueAt(req *model.Request, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byHash[req.Hash]; exists {
		return false
	}

	e := &entry{req: req, enqueuedAt: now}
	e.elem = q.order.PushBack(e)
	q.byHash[req.Hash] = e
	return true
}

// Dequeue removes and returns the entry for hash. A missing hash returns
// (nil, false), which the consumer treats as a stale or duplicate response.
func (q *Queue) Dequeue(hash string) (*model.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byHash[hash]
	if !ok {
		return nil, false
	}
	delete(q.byHash, hash)
	q.order.Remove(e.elem)
	return e.req, true
}

// GetAllTimeoutList removes and returns every entry whose age exceeds the
// configured timeout, oldest first.
func (q *Queue) GetAllTimeoutList() []*model.Request {
	return q.getAllTimeoutListAt(time.Now())
}

func (q *Queue) getAllTimeoutListAt(now time.Time) []*model.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var timedOut []*model.Request
	for front := q.order.Front(); front != nil; {
		e := front.Value.(*entry)
		if now.Sub(e.enqueuedAt) <= q.timeout {
			break
		}
		next := front.Next()
		q.order.Remove(front)
		delete(q.byHash, e.req.Hash)
		timedOut = append(timedOut, e.req)
		front = next
	}
	return timedOut
}

// Count reports the current number of in-flight entries.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byHash)
}
