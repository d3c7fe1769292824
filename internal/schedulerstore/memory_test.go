package schedulerstore

import (
	"context"
	"testing"

	"github.com/deepcrawl/spidercore/internal/model"
)

func TestMemoryStore_EnqueueDropsDuplicateHash(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.Enqueue(ctx, "spider-1", []*model.Request{
		{Hash: "h1", RequestUri: "http://a"},
		{Hash: "h1", RequestUri: "http://a-retry"},
		{Hash: "h2", RequestUri: "http://b"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n != 2 {
		t.Fatalf("accepted = %d, want 2", n)
	}

	total, err := s.Total(ctx, "spider-1")
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
}

func TestMemoryStore_DequeueFIFOOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Enqueue(ctx, "spider-1", []*model.Request{
		{Hash: "h1"}, {Hash: "h2"}, {Hash: "h3"},
	})

	got, err := s.Dequeue(ctx, "spider-1", 2)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 2 || got[0].Hash != "h1" || got[1].Hash != "h2" {
		t.Fatalf("got %+v, want [h1 h2]", got)
	}

	total, _ := s.Total(ctx, "spider-1")
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
}

func TestMemoryStore_DequeueMoreThanAvailable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Enqueue(ctx, "spider-1", []*model.Request{{Hash: "h1"}})

	got, err := s.Dequeue(ctx, "spider-1", 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d requests, want 1", len(got))
	}
}

func TestMemoryStore_DequeueEmptyReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Dequeue(context.Background(), "spider-1", 5)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d requests, want 0", len(got))
	}
}

func TestMemoryStore_HashReusableAfterDequeue(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Enqueue(ctx, "spider-1", []*model.Request{{Hash: "h1"}})
	s.Dequeue(ctx, "spider-1", 1)

	n, err := s.Enqueue(ctx, "spider-1", []*model.Request{{Hash: "h1"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if n != 1 {
		t.Fatalf("accepted = %d, want 1 (hash should be re-admittable once dequeued)", n)
	}
}

func TestMemoryStore_OwnersAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Enqueue(ctx, "spider-1", []*model.Request{{Hash: "h1"}})
	s.Enqueue(ctx, "spider-2", []*model.Request{{Hash: "h1"}})

	t1, _ := s.Total(ctx, "spider-1")
	t2, _ := s.Total(ctx, "spider-2")
	if t1 != 1 || t2 != 1 {
		t.Fatalf("t1=%d t2=%d, want 1 and 1 (owners share no dedup state)", t1, t2)
	}
}
