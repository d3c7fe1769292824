// Package contracts defines the boundary between the crawler core and the
// external collaborators named in the spec: the message bus, the scheduler
// store, the proxy pool, the statistics sink, request suppliers, data-flow
// stages, and the process' shutdown handle. The core depends only on these
// interfaces; concrete adapters live in internal/mqbus, internal/schedulerstore,
// internal/proxypool, internal/metrics, internal/dataflow and internal/supply.
package contracts

import (
	"context"
	"time"

	"github.com/deepcrawl/spidercore/internal/model"
)

// MessageQueue is a publish-by-topic, subscribe-by-topic bus of opaque
// byte payloads.
type MessageQueue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers handler for topic/channel and returns without
	// blocking. The subscription stays live until ctx is cancelled or the
	// returned Subscription's Stop is called; Done is closed once it ends.
	Subscribe(ctx context.Context, topic, channel string, handler MessageHandler) (Subscription, error)
}

// MessageHandler processes one inbound frame. What a returned error does is
// adapter-specific: NSQBus logs it and still acknowledges the message, and
// MemoryBus ignores it; neither adapter redelivers the frame.
type MessageHandler func(ctx context.Context, payload []byte) error

// Subscription is a live subscription that can be torn down.
type Subscription interface {
	Stop()
	Done() <-chan struct{}
}

// SchedulerStore is the external, durable FIFO-ish queue of pending
// requests with its own fingerprint-based de-duplication policy. The core
// treats it as opaque: de-dup policy belongs to the store, not the core.
type SchedulerStore interface {
	// Enqueue admits a batch and returns how many were newly accepted.
	Enqueue(ctx context.Context, owner string, reqs []*model.Request) (int, error)
	// Dequeue pops up to n requests in FIFO order. Returns fewer than n
	// (possibly zero) if the store is drained.
	Dequeue(ctx context.Context, owner string, n int) ([]*model.Request, error)
	// Total reports the current queue depth for owner.
	Total(ctx context.Context, owner string) (int, error)
}

// ProxyPool leases a proxy endpoint with at least the given quality score.
type ProxyPool interface {
	Lease(ctx context.Context, minScore int) (string, bool)
	// Release reports the outcome of using a leased proxy, so the pool can
	// adjust its score/cooldown bookkeeping. ok=false means the proxy
	// should be penalized.
	Release(proxy string, ok bool)
}

// StatisticsClient is a fire-and-forget counter sink. Every method must be
// safe to call even if the backend is unavailable — stats errors never
// affect business flow (spec.md §7).
type StatisticsClient interface {
	Start(spiderID, name string)
	IncreaseTotal(spiderID string, n int)
	IncreaseSuccess(spiderID string)
	IncreaseFailure(spiderID string)
	IncreaseAgentSuccess(spiderID string, elapsed time.Duration)
	IncreaseAgentFailure(spiderID string, elapsed time.Duration)
	Exit(spiderID string)
	Print(spiderID string)
}

// RequestSupplier produces the initial seed requests for a spider.
type RequestSupplier interface {
	Requests(ctx context.Context) ([]*model.Request, error)
}

// DataFlowStage is one step of the per-response pipeline. Init is called
// once at startup; no logger is handed to the stage by the interface or by
// the pipeline runner. Process runs once per successful response and may append follow-up
// requests to the DataContext. Close releases resources at shutdown.
type DataFlowStage interface {
	Name() string
	Init(ctx context.Context) error
	Process(ctx context.Context, dc *DataContext) error
	Close(ctx context.Context) error
}

// DataContext is the ephemeral, per-response scope handed through the
// pipeline. It plays the role of the teacher's per-message scope: a short
// lived bundle of the request/response being processed, a property bag for
// stages to stash extracted data in, and the follow-up accumulator.
type DataContext struct {
	SpiderID      string
	Request       *model.Request
	Response      *model.Response
	Properties    map[string]any
	FollowRequests []*model.Request
}

// NewDataContext builds a fresh, per-response DataContext.
func NewDataContext(spiderID string, req *model.Request, resp *model.Response) *DataContext {
	return &DataContext{
		SpiderID:   spiderID,
		Request:    req,
		Response:   resp,
		Properties: make(map[string]any),
	}
}

// AddFollowRequest appends a follow-up request discovered while processing.
func (dc *DataContext) AddFollowRequest(r *model.Request) {
	dc.FollowRequests = append(dc.FollowRequests, r)
}

// ApplicationLifetime is a handle to request whole-process shutdown,
// observed cooperatively by the dispatcher and consumer loops.
type ApplicationLifetime interface {
	StopApplication()
	// Stopping returns a channel closed once StopApplication has been
	// called, mirroring the teacher's context-cancellation idiom.
	Stopping() <-chan struct{}
}
