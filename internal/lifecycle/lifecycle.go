// Package lifecycle implements the lifecycle controller (spec.md §4.6):
// the start/stop orchestration that wires identity, suppliers, the
// data-flow pipeline, the consumer, and the dispatcher into one running
// spider.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deepcrawl/spidercore/internal/admission"
	"github.com/deepcrawl/spidercore/internal/consume"
	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/dispatch"
	"github.com/deepcrawl/spidercore/internal/inflight"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/supply"
)

// maxIDLength is the spec's identity constraint: Id is non-blank, ≤ 36
// characters (the length of a canonical UUID string).
const maxIDLength = 36

// IdentityHook supplies the spider's (Id, Name) at start time.
type IdentityHook func() (id, name string)

// Pipeline is the subset of dataflow.Runner the controller drives.
type Pipeline interface {
	Init(ctx context.Context) error
	Close(ctx context.Context) error
	Run(ctx context.Context, dc *contracts.DataContext) error
}

// AdmissionConfig carries the retry/depth knobs admission.Admitter needs.
type AdmissionConfig struct {
	RetriedTimes int
	Depth        int
}

// Controller owns every collaborator needed to run one spider end to end.
type Controller struct {
	Identity   IdentityHook
	Initialize func(ctx context.Context) error
	Suppliers  []contracts.RequestSupplier

	Pipeline Pipeline

	Scheduler      contracts.SchedulerStore
	Bus            contracts.MessageQueue
	Proxies        contracts.ProxyPool
	Stats          contracts.StatisticsClient
	Lifetime       contracts.ApplicationLifetime
	Audit          admission.AuditLog // optional durable admission replay log
	AdmissionCfg   AdmissionConfig
	DispatchCfg    dispatch.Config // SpiderID is overwritten by Run with the resolved Id
	ConfigureReq   dispatch.ConfigureRequest
	RequestTimeout time.Duration // in-flight table timeout sweep threshold

	Logger *logging.Logger
}

// Run executes the full start sequence, blocks until the dispatcher loop
// reaches a terminal condition or ctx is cancelled, then runs the stop
// sequence. It returns the dispatcher's terminal reason.
func (c *Controller) Run(ctx context.Context) (dispatch.Reason, error) {
	id, name := c.Identity()
	if id == "" || len(id) > maxIDLength {
		return "", fmt.Errorf("%w: id=%q", contracts.ErrInvalidID, id)
	}

	c.Stats.Start(id, name)

	if c.Initialize != nil {
		if err := c.Initialize(ctx); err != nil {
			return "", err
		}
	}

	admitter := &admission.Admitter{
		SpiderID:     id,
		RetriedTimes: c.AdmissionCfg.RetriedTimes,
		Depth:        c.AdmissionCfg.Depth,
		Scheduler:    c.Scheduler,
		Stats:        c.Stats,
		DLQ:          c.Bus,
		Audit:        c.Audit,
	}

	if _, err := supply.Load(ctx, c.Suppliers, admitter); err != nil {
		c.Logger.WithSpider(id).WithError(err).Warn("supplier loader failed")
	}

	if err := c.Pipeline.Init(ctx); err != nil {
		c.Lifetime.StopApplication()
		return "", err
	}

	if total, err := c.Scheduler.Total(ctx, id); err == nil {
		c.Stats.IncreaseTotal(id, total)
	}

	queue := inflight.New(c.RequestTimeout)
	consumer := consume.NewConsumer(id, queue, admitter, c.Stats, c.Pipeline, c.Lifetime, c.Proxies, c.Logger)

	topic := "Spider." + strings.ToUpper(id)
	sub, err := c.Bus.Subscribe(ctx, topic, "spidercore", consumer.Handle)
	if err != nil {
		c.Lifetime.StopApplication()
		return "", err
	}

	dispatchCfg := c.DispatchCfg
	dispatchCfg.SpiderID = id
	dispatcher := dispatch.NewDispatcher(dispatchCfg, queue, c.Scheduler, c.Bus, c.Proxies, c.Stats, admitter, c.ConfigureReq, c.Logger)

	reason := dispatcher.Run(ctx)

	sub.Stop()
	<-sub.Done()

	if closeErr := c.Pipeline.Close(ctx); closeErr != nil {
		c.Logger.WithSpider(id).WithError(closeErr).Warn("pipeline close failed")
	}

	c.exit(id)

	return reason, nil
}

// exit implements spec.md §4.6's Exit(): StatisticsClient.Exit then
// ApplicationLifetime.StopApplication, exactly once each.
func (c *Controller) exit(id string) {
	c.Stats.Exit(id)
	c.Lifetime.StopApplication()
}
