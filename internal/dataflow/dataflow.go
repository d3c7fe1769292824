// Package dataflow runs the configured pipeline of stages over each
// successful response (spec.md §4.7).
package dataflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/tracing"
)

// Runner executes stages sequentially in registration order.
type Runner struct {
	stages []contracts.DataFlowStage
	logger *logging.Logger
}

// NewRunner builds a Runner over the given stages, in the order they
// should execute.
func NewRunner(logger *logging.Logger, stages ...contracts.DataFlowStage) *Runner {
	return &Runner{stages: stages, logger: logger}
}

// Init calls Init on every stage in order; it does not attach a logger to
// the stages. Returns the first error, wrapped with the failing stage's name,
// per spec.md §4.6 step 5 (a failure here is fatal to startup).
func (r *Runner) Init(ctx context.Context) error {
	for _, s := range r.stages {
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("%w: stage %q: %v", contracts.ErrStageInitFailed, s.Name(), err)
		}
	}
	return nil
}

// Close disposes every stage in registration order, collecting but not
// aborting on individual errors — shutdown must still visit every stage.
func (r *Runner) Close(ctx context.Context) error {
	var firstErr error
	for _, s := range r.stages {
		if err := s.Close(ctx); err != nil {
			r.logger.Plain().WithStage(s.Name()).WithError(err).Warn("stage close failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run executes every stage against dc in order. A stage error aborts the
// remaining stages and is returned to the caller (internal/consume
// re-admits the original request on any error here; data written by
// earlier stages is discarded along with dc).
func (r *Runner) Run(ctx context.Context, dc *contracts.DataContext) error {
	for _, s := range r.stages {
		stageCtx, span := tracing.StartSpan(ctx, "dataflow.stage", attribute.String("stage", s.Name()))
		err := s.Process(stageCtx, dc)
		if err != nil {
			tracing.SetSpanError(stageCtx, err)
			span.End()
			return fmt.Errorf("%w: stage %q: %v", contracts.ErrStageRuntimeFailed, s.Name(), err)
		}
		span.End()
	}
	return nil
}
