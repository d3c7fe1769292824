// Package admission implements RequestAdmission (spec.md §4.2): the
// retry/depth/ADSL gate a request passes through before it reaches the
// external scheduler.
package admission

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/model"
)

// Admitter owns the config knobs needed to run the admission checks and
// the collaborators (scheduler, stats) required to finish admitting a
// batch.
type Admitter struct {
	SpiderID     string
	RetriedTimes int
	Depth        int

	Scheduler contracts.SchedulerStore
	Stats     contracts.StatisticsClient

	// DLQ is optional. When set, a request that exhausts its retry
	// budget is published as a model.RetiredRequest envelope instead of
	// being silently dropped, mirroring the teacher's dlqTopic/DeadLetter
	// publish-on-retry-exhaustion path.
	DLQ contracts.MessageQueue

	// Audit is optional. When set, every batch the scheduler newly
	// accepts is also appended to a durable replay log, e.g.
	// internal/schedulerstore.PgAudit.
	Audit AuditLog
}

// AuditLog records admitted batches for later operator replay/inspection.
// A failure is logged by the implementation, never propagated back into
// the admission hot path.
type AuditLog interface {
	RecordAdmission(ctx context.Context, owner string, reqs []*model.Request) error
}

// dlqTopic is the per-spider retired-request topic, following the same
// "Spider.<ID>.<suffix>" convention the control topic uses.
func dlqTopic(spiderID string) string {
	return "Spider." + strings.ToUpper(spiderID) + ".DLQ"
}

// AddRequests runs each request through the admission checks in order and
// hands the surviving batch to the scheduler. Returns the count the
// scheduler newly accepted (its own de-dup policy may silently drop some).
func (a *Admitter) AddRequests(ctx context.Context, reqs []*model.Request) (int, error) {
	batch := make([]*model.Request, 0, len(reqs))

	for _, req := range reqs {
		if strings.Contains(req.DownloaderType, "ADSL") {
			v, ok := req.Header(model.RedialRegExpHeader)
			if !ok || strings.TrimSpace(v) == "" {
				return 0, contracts.ErrInvalidRequest
			}
		}

		req.RequestedTimes++
		if req.RequestedTimes > a.RetriedTimes {
			a.Stats.IncreaseFailure(a.SpiderID)
			a.retire(ctx, req, "retry budget exhausted")
			continue
		}

		if a.Depth > 0 && req.Depth > a.Depth {
			continue
		}

		req.Owner = a.SpiderID
		batch = append(batch, req)
	}

	if len(batch) == 0 {
		return 0, nil
	}

	n, err := a.Scheduler.Enqueue(ctx, a.SpiderID, batch)
	if err == nil && a.Audit != nil {
		_ = a.Audit.RecordAdmission(ctx, a.SpiderID, batch)
	}
	return n, err
}

// retire publishes req as a RetiredRequest DLQ envelope. It is best-effort:
// a.DLQ may be nil (DLQ disabled) and a publish failure never blocks
// admission, matching the teacher's fire-and-forget dlqProducer.Publish.
func (a *Admitter) retire(ctx context.Context, req *model.Request, reason string) {
	if a.DLQ == nil {
		return
	}

	rr := model.RetiredRequest{
		Type:    model.RetiredRequestType,
		Version: "v1",
		At:      time.Now().UTC().Format(time.RFC3339),
		Reason:  reason,
		Request: *req,
	}

	payload, err := json.Marshal(rr)
	if err != nil {
		return
	}

	_ = a.DLQ.Publish(ctx, dlqTopic(a.SpiderID), payload)
}
