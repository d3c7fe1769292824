// Package consume implements the consumer loop (spec.md §4.5): the
// event-driven handler for inbound frames on a spider's control topic.
package consume

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/inflight"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/model"
	"github.com/deepcrawl/spidercore/internal/tracing"
)

// Admitter is the subset of admission.Admitter the consumer needs to
// re-admit non-200 responses.
type Admitter interface {
	AddRequests(ctx context.Context, reqs []*model.Request) (int, error)
}

// Pipeline runs the data-flow stages over one successful response.
type Pipeline interface {
	Run(ctx context.Context, dc *contracts.DataContext) error
}

// Consumer handles frames on topic Spider.<ID_UPPER>.
type Consumer struct {
	SpiderID string

	Queue    *inflight.Queue
	Admitter Admitter
	Stats    contracts.StatisticsClient
	Pipeline Pipeline
	Lifetime contracts.ApplicationLifetime
	// Proxies is optional. When set, every response whose request carried
	// a leased proxy (req.Proxy != "") reports its outcome back via
	// Release, so the pool's score/cooldown bookkeeping actually reacts
	// to delivery success or failure instead of sitting inert.
	Proxies contracts.ProxyPool

	logger *logging.Logger
}

// NewConsumer wires a Consumer with the given collaborators.
func NewConsumer(spiderID string, queue *inflight.Queue, admitter Admitter, stats contracts.StatisticsClient, pipeline Pipeline, lifetime contracts.ApplicationLifetime, proxies contracts.ProxyPool, logger *logging.Logger) *Consumer {
	return &Consumer{
		SpiderID: spiderID,
		Queue:    queue,
		Admitter: admitter,
		Stats:    stats,
		Pipeline: pipeline,
		Lifetime: lifetime,
		Proxies:  proxies,
		logger:   logger,
	}
}

// Handle implements contracts.MessageHandler: it decodes one frame and
// dispatches on its kind.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	var env model.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.logger.WithSpider(c.SpiderID).WithError(err).Warn("unrecognized control frame, ignoring")
		return nil
	}

	switch env.Kind {
	case model.KindExit:
		c.handleExit(env.Exit)
	case model.KindResponse:
		c.handleResponse(ctx, env.Response)
	default:
		c.logger.WithSpider(c.SpiderID).WithField("kind", env.Kind).Warn("unknown control frame kind, ignoring")
	}
	return nil
}

func (c *Consumer) handleExit(exit *model.ExitMessage) {
	if exit == nil || exit.Id != c.SpiderID {
		return // other spiders' exit frames are ignored on the shared bus
	}
	c.Lifetime.StopApplication()
}

func (c *Consumer) handleResponse(ctx context.Context, resp *model.Response) {
	if resp == nil {
		return
	}

	req, ok := c.Queue.Dequeue(resp.RequestHash)
	if !ok {
		// Stale or duplicate response: no state mutates, no stage runs.
		return
	}

	ctx = tracing.ExtractTraceFromNSQ(ctx, req.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "consume.response",
		attribute.String("spider_id", c.SpiderID),
		attribute.String("request_hash", req.Hash),
	)
	defer span.End()

	elapsed := time.Duration(resp.ElapsedMilliseconds) * time.Millisecond

	if req.Proxy != "" && c.Proxies != nil {
		c.Proxies.Release(req.Proxy, resp.Success())
	}

	if !resp.Success() {
		tracing.AddSpanEvent(ctx, "agent response failed")
		c.Stats.IncreaseAgentFailure(c.SpiderID, elapsed)
		if _, err := c.Admitter.AddRequests(ctx, []*model.Request{req}); err != nil {
			c.logger.WithSpider(c.SpiderID).WithRequest(req.Hash).WithError(err).Warn("re-admission after failed response failed")
		}
		return
	}

	req.Agent = resp.Agent
	c.Stats.IncreaseAgentSuccess(c.SpiderID, elapsed)

	dc := contracts.NewDataContext(c.SpiderID, req, resp)
	if err := c.Pipeline.Run(ctx, dc); err != nil {
		tracing.SetSpanError(ctx, err)
		c.logger.WithSpider(c.SpiderID).WithRequest(req.Hash).WithError(err).Warn("data-flow pipeline failed, re-admitting original request")
		if _, aerr := c.Admitter.AddRequests(ctx, []*model.Request{req}); aerr != nil {
			c.logger.WithSpider(c.SpiderID).WithRequest(req.Hash).WithError(aerr).Warn("re-admission after stage failure failed")
		}
		return
	}

	accepted, err := c.Admitter.AddRequests(ctx, dc.FollowRequests)
	if err != nil {
		c.logger.WithSpider(c.SpiderID).WithRequest(req.Hash).WithError(err).Warn("follow-up admission failed")
	}
	c.Stats.IncreaseTotal(c.SpiderID, accepted)
	c.Stats.IncreaseSuccess(c.SpiderID)
}
