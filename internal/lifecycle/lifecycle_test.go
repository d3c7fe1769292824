package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/dispatch"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/model"
)

type fakeScheduler struct {
	mu    sync.Mutex
	queue []*model.Request
}

func (f *fakeScheduler) Enqueue(ctx context.Context, owner string, reqs []*model.Request) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, reqs...)
	return len(reqs), nil
}

func (f *fakeScheduler) Dequeue(ctx context.Context, owner string, n int) ([]*model.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	if n > len(f.queue) {
		n = len(f.queue)
	}
	out := f.queue[:n]
	f.queue = f.queue[n:]
	return out, nil
}

func (f *fakeScheduler) Total(ctx context.Context, owner string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue), nil
}

type fakeSubscription struct {
	done chan struct{}
}

func (s *fakeSubscription) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
func (s *fakeSubscription) Done() <-chan struct{} { return s.done }

type fakeBus struct{}

func (f *fakeBus) Publish(ctx context.Context, topic string, payload []byte) error { return nil }
func (f *fakeBus) Subscribe(ctx context.Context, topic, channel string, handler contracts.MessageHandler) (contracts.Subscription, error) {
	return &fakeSubscription{done: make(chan struct{})}, nil
}

type fakeProxies struct{}

func (f *fakeProxies) Lease(ctx context.Context, minScore int) (string, bool) { return "proxy-1", true }
func (f *fakeProxies) Release(proxy string, ok bool)                         {}

type fakeStats struct {
	mu        sync.Mutex
	started   bool
	exited    bool
	exitCount int
}

func (f *fakeStats) Start(string, string)      { f.started = true }
func (f *fakeStats) IncreaseTotal(string, int) {}
func (f *fakeStats) IncreaseSuccess(string)     {}
func (f *fakeStats) IncreaseFailure(string)     {}
func (f *fakeStats) IncreaseAgentSuccess(string, time.Duration) {}
func (f *fakeStats) IncreaseAgentFailure(string, time.Duration) {}
func (f *fakeStats) Exit(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
	f.exitCount++
}
func (f *fakeStats) Print(string) {}

type fakeLifetime struct {
	mu      sync.Mutex
	stopped int
	ch      chan struct{}
}

func newFakeLifetime() *fakeLifetime { return &fakeLifetime{ch: make(chan struct{})} }

func (f *fakeLifetime) StopApplication() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	select {
	case <-f.ch:
	default:
		close(f.ch)
	}
}
func (f *fakeLifetime) Stopping() <-chan struct{} { return f.ch }

type fakePipeline struct {
	initErr  error
	initedAt int
	closed   bool
}

func (p *fakePipeline) Init(ctx context.Context) error  { p.initedAt++; return p.initErr }
func (p *fakePipeline) Close(ctx context.Context) error { p.closed = true; return nil }
func (p *fakePipeline) Run(ctx context.Context, dc *contracts.DataContext) error { return nil }

func baseController(stats *fakeStats, lifetime *fakeLifetime, pipeline *fakePipeline, sched *fakeScheduler) *Controller {
	return &Controller{
		Identity: func() (string, string) { return "spider-1", "test spider" },
		Pipeline: pipeline,
		Scheduler: sched,
		Bus:       &fakeBus{},
		Proxies:   &fakeProxies{},
		Stats:     stats,
		Lifetime:  lifetime,
		AdmissionCfg: AdmissionConfig{RetriedTimes: 3, Depth: 0},
		DispatchCfg: dispatch.Config{
			Speed:               10,
			RequestedQueueCount: 100,
			EmptySleepTime:      1,
		},
		RequestTimeout: time.Minute,
		Logger:         logging.New("lifecycle-test"),
	}
}

func TestController_InvalidIDRejected(t *testing.T) {
	stats := &fakeStats{}
	lifetime := newFakeLifetime()
	pipeline := &fakePipeline{}
	sched := &fakeScheduler{}
	c := baseController(stats, lifetime, pipeline, sched)
	c.Identity = func() (string, string) { return "", "name" }

	_, err := c.Run(context.Background())
	if !errors.Is(err, contracts.ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
}

func TestController_IDTooLongRejected(t *testing.T) {
	stats := &fakeStats{}
	lifetime := newFakeLifetime()
	pipeline := &fakePipeline{}
	sched := &fakeScheduler{}
	c := baseController(stats, lifetime, pipeline, sched)
	longID := ""
	for i := 0; i < 40; i++ {
		longID += "a"
	}
	c.Identity = func() (string, string) { return longID, "name" }

	_, err := c.Run(context.Background())
	if !errors.Is(err, contracts.ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
}

func TestController_PipelineInitFailureStopsApplication(t *testing.T) {
	stats := &fakeStats{}
	lifetime := newFakeLifetime()
	pipeline := &fakePipeline{initErr: errors.New("init boom")}
	sched := &fakeScheduler{}
	c := baseController(stats, lifetime, pipeline, sched)

	_, err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected init error to propagate")
	}
	if lifetime.stopped != 1 {
		t.Fatalf("StopApplication called %d times, want 1", lifetime.stopped)
	}
}

func TestController_RunDrainsAndExitsExactlyOnce(t *testing.T) {
	stats := &fakeStats{}
	lifetime := newFakeLifetime()
	pipeline := &fakePipeline{}
	sched := &fakeScheduler{}
	c := baseController(stats, lifetime, pipeline, sched)

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	reason, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if reason != dispatch.ReasonDrained {
		t.Fatalf("reason = %q, want %q", reason, dispatch.ReasonDrained)
	}
	if !stats.started {
		t.Fatalf("Stats.Start was not called")
	}
	if stats.exitCount != 1 {
		t.Fatalf("Stats.Exit called %d times, want 1", stats.exitCount)
	}
	if lifetime.stopped != 1 {
		t.Fatalf("StopApplication called %d times, want 1", lifetime.stopped)
	}
	if !pipeline.closed {
		t.Fatalf("pipeline was not closed")
	}
}
