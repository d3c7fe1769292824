// Package dispatch implements the dispatcher loop and request publishing
// (spec.md §4.3, §4.4): the interval-paced task that drains the scheduler,
// leases proxies, and hands batches to the message bus.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/inflight"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/model"
	"github.com/deepcrawl/spidercore/internal/tracing"
)

// Reason names why the dispatcher loop exited.
type Reason string

const (
	ReasonCancelled     Reason = "cancelled"
	ReasonPausedTooLong Reason = "paused too long"
	ReasonDrained       Reason = "drained"
	ReasonNoProxy       Reason = "no proxy"
)

// ConfigureRequest lets the embedding application tweak a request
// immediately before it is published (e.g. to set custom headers).
type ConfigureRequest func(*model.Request)

// Admitter is the subset of admission.Admitter the dispatcher needs to
// re-admit timed-out requests.
type Admitter interface {
	AddRequests(ctx context.Context, reqs []*model.Request) (int, error)
}

// Config is the pacing/back-pressure configuration derived from spec.md §6.
type Config struct {
	SpiderID            string
	Speed               float64
	RequestedQueueCount int
	EmptySleepTime      int // seconds
	UseProxy            bool
}

// pacing returns (interval, batch) per spec.md §4.3.
func (c Config) pacing() (time.Duration, int) {
	if c.Speed >= 1 {
		return time.Second, int(c.Speed)
	}
	return time.Duration(int64(1/c.Speed)) * time.Second, 1
}

func (c Config) sleepLimit() time.Duration {
	return time.Duration(c.EmptySleepTime) * time.Second
}

// Dispatcher runs the dispatch loop for one spider.
type Dispatcher struct {
	Config Config

	Queue     *inflight.Queue
	Scheduler contracts.SchedulerStore
	Bus       contracts.MessageQueue
	Proxies   contracts.ProxyPool
	Stats     contracts.StatisticsClient
	Admitter  Admitter
	Configure ConfigureRequest

	logger *logging.Logger
}

// NewDispatcher wires a Dispatcher with the given collaborators.
func NewDispatcher(cfg Config, queue *inflight.Queue, scheduler contracts.SchedulerStore, bus contracts.MessageQueue, proxies contracts.ProxyPool, stats contracts.StatisticsClient, admitter Admitter, configure ConfigureRequest, logger *logging.Logger) *Dispatcher {
	if configure == nil {
		configure = func(*model.Request) {}
	}
	return &Dispatcher{
		Config:    cfg,
		Queue:     queue,
		Scheduler: scheduler,
		Bus:       bus,
		Proxies:   proxies,
		Stats:     stats,
		Admitter:  admitter,
		Configure: configure,
		logger:    logger,
	}
}

// Run executes the dispatcher loop until a terminal condition is hit or
// ctx is cancelled. It returns the reason the loop exited.
func (d *Dispatcher) Run(ctx context.Context) Reason {
	interval, batch := d.Config.pacing()
	sleepLimit := d.Config.sleepLimit()

	var pausedMs, idleMs, printAccumMs time.Duration

	for {
		select {
		case <-ctx.Done():
			return ReasonCancelled
		default:
		}

		printAccumMs += interval
		if printAccumMs >= 5*time.Second {
			printAccumMs = 0
			d.Stats.Print(d.Config.SpiderID)
		}

		if d.Queue.Count() > d.Config.RequestedQueueCount {
			pausedMs += interval
			if pausedMs > sleepLimit {
				return ReasonPausedTooLong
			}
			if !d.sleep(ctx, interval) {
				return ReasonCancelled
			}
			continue
		}
		pausedMs = 0

		timedOut := d.Queue.GetAllTimeoutList()
		if len(timedOut) > 0 {
			if _, err := d.Admitter.AddRequests(ctx, timedOut); err != nil {
				d.logger.WithSpider(d.Config.SpiderID).WithError(err).Warn("re-admission of timed-out requests failed")
			}
			if !d.sleep(ctx, interval) {
				return ReasonCancelled
			}
			continue
		}

		reqs, err := d.Scheduler.Dequeue(ctx, d.Config.SpiderID, batch)
		if err != nil {
			d.logger.WithSpider(d.Config.SpiderID).WithError(err).Warn("scheduler dequeue failed")
		}
		if len(reqs) == 0 {
			idleMs += interval
			if idleMs > sleepLimit {
				return ReasonDrained
			}
			if !d.sleep(ctx, interval) {
				return ReasonCancelled
			}
			continue
		}
		idleMs = 0

		for _, req := range reqs {
			d.Configure(req)
			ok, err := d.Publish(ctx, req)
			if err != nil {
				d.logger.WithSpider(d.Config.SpiderID).WithRequest(req.Hash).WithError(err).Warn("publish failed")
				continue
			}
			if !ok {
				return ReasonNoProxy
			}
		}

		if !d.sleep(ctx, interval) {
			return ReasonCancelled
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, interval time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(interval):
		return true
	}
}

// Publish implements spec.md §4.4. Returns (false, nil) only on the fatal
// "no proxy available" condition, which the caller treats as terminal.
func (d *Dispatcher) Publish(ctx context.Context, req *model.Request) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.publish",
		attribute.String("spider_id", d.Config.SpiderID),
		attribute.String("request_hash", req.Hash),
	)
	defer span.End()

	if d.Config.UseProxy {
		proxy, ok := d.Proxies.Lease(ctx, 70)
		if !ok {
			return false, nil
		}
		req.Proxy = proxy
	}

	req.Timestamp = time.Now().UnixMilli()
	req.TraceHeaders = tracing.PropagateTraceToNSQ(ctx)

	topic, err := destinationTopic(req)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return true, err
	}

	if !d.Queue.Enqueue(req) {
		// Duplicate in-flight: drop silently, not an error.
		tracing.AddSpanEvent(ctx, "duplicate in-flight, dropped")
		return true, nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return true, err
	}

	if err := d.Bus.Publish(ctx, topic, payload); err != nil {
		d.Queue.Dequeue(req.Hash)
		tracing.SetSpanError(ctx, err)
		return true, err
	}

	return true, nil
}

func destinationTopic(req *model.Request) (string, error) {
	defaultTopic := func() string {
		if req.DownloaderType != "" {
			return req.DownloaderType
		}
		return model.DefaultDownloaderType
	}

	if req.Agent == "" {
		return defaultTopic(), nil
	}

	switch req.Policy {
	case model.PolicyChained:
		return strings.ToUpper(req.Agent), nil
	case model.PolicyRandom:
		return defaultTopic(), nil
	default:
		return "", fmt.Errorf("%w: %q", contracts.ErrUnsupportedPolicy, req.Policy)
	}
}
