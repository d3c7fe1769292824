package mqbus

import (
	"context"
	"sync"

	"github.com/deepcrawl/spidercore/internal/contracts"
)

// MemoryBus is an in-process MessageQueue for tests: Publish fans out
// synchronously to every live Subscribe call on the same topic.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]*memorySubscription
}

// NewMemory builds an empty MemoryBus.
func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySubscription)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := append([]*memorySubscription(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.handler(ctx, payload)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, channel string, handler contracts.MessageHandler) (contracts.Subscription, error) {
	sub := &memorySubscription{done: make(chan struct{}), handler: handler}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Stop()
	}()

	sub.unregister = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}

	return sub, nil
}

type memorySubscription struct {
	handler    contracts.MessageHandler
	done       chan struct{}
	unregister func()
	stopOnce   sync.Once
}

func (s *memorySubscription) Stop() {
	s.stopOnce.Do(func() {
		if s.unregister != nil {
			s.unregister()
		}
		close(s.done)
	})
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

var _ contracts.MessageQueue = (*MemoryBus)(nil)
