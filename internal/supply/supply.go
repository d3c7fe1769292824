// Package supply implements the supplier loader (spec.md §4.6 step 4):
// drain every configured RequestSupplier at startup and push the seeds
// through admission.
package supply

import (
	"context"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/model"
)

// Admitter is the subset of admission.Admitter the loader needs.
type Admitter interface {
	AddRequests(ctx context.Context, reqs []*model.Request) (int, error)
}

// Load pulls every supplier's seed requests, in order, and admits them.
// Returns the total count accepted by the scheduler across all suppliers.
func Load(ctx context.Context, suppliers []contracts.RequestSupplier, admitter Admitter) (int, error) {
	total := 0
	for _, supplier := range suppliers {
		reqs, err := supplier.Requests(ctx)
		if err != nil {
			return total, err
		}
		if len(reqs) == 0 {
			continue
		}
		accepted, err := admitter.AddRequests(ctx, reqs)
		if err != nil {
			return total, err
		}
		total += accepted
	}
	return total, nil
}
