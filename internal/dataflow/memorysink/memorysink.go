// Package memorysink is the default data-flow sink: it appends every
// successful response's bytes to an in-process slice. It exists so a
// spider can run end-to-end (and be tested) without wiring a real
// business-data sink, which is explicitly out of this module's scope.
package memorysink

import (
	"context"
	"sync"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/dataflow"
)

func init() {
	dataflow.Register("memorysink", New)
}

// Sink is a DataFlowStage that records every response it sees.
type Sink struct {
	mu        sync.Mutex
	responses []Recorded
}

// Recorded is one captured response, keyed by the request that produced it.
type Recorded struct {
	RequestHash string
	Content     []byte
}

// New builds a Sink. It ignores options — memorysink has none.
func New(options map[string]string) (contracts.DataFlowStage, error) {
	return &Sink{}, nil
}

func (s *Sink) Name() string { return "memorysink" }

func (s *Sink) Init(ctx context.Context) error { return nil }

func (s *Sink) Process(ctx context.Context, dc *contracts.DataContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, Recorded{
		RequestHash: dc.Request.Hash,
		Content:     dc.Response.Content,
	})
	return nil
}

func (s *Sink) Close(ctx context.Context) error { return nil }

// Responses returns a snapshot of everything recorded so far.
func (s *Sink) Responses() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recorded, len(s.responses))
	copy(out, s.responses)
	return out
}
