package dataflow

import (
	"context"
	"errors"
	"testing"

	"github.com/deepcrawl/spidercore/internal/contracts"
	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/model"
)

type recordingStage struct {
	name      string
	processed []string
	failOn    string
	addFollow *model.Request
	closed    bool
}

func (s *recordingStage) Name() string { return s.name }
func (s *recordingStage) Init(ctx context.Context) error { return nil }
func (s *recordingStage) Close(ctx context.Context) error {
	s.closed = true
	return nil
}
func (s *recordingStage) Process(ctx context.Context, dc *contracts.DataContext) error {
	s.processed = append(s.processed, dc.Request.Hash)
	if s.failOn != "" && s.failOn == dc.Request.Hash {
		return errors.New("boom")
	}
	if s.addFollow != nil {
		dc.AddFollowRequest(s.addFollow)
	}
	return nil
}

var testLogger = logging.New("dataflow-test")

func TestRunner_RunsStagesInOrder(t *testing.T) {
	var order []string
	s1 := &recordingStage{name: "extract"}
	s2 := &recordingStage{name: "store"}
	r := NewRunner(testLogger, s1, s2)

	dc := contracts.NewDataContext("spider-1", &model.Request{Hash: "h1"}, &model.Response{StatusCode: 200})
	if err := r.Run(context.Background(), dc); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	order = append(order, s1.processed...)
	order = append(order, s2.processed...)
	if len(order) != 2 || order[0] != "h1" || order[1] != "h1" {
		t.Fatalf("stage execution order wrong: %v", order)
	}
}

func TestRunner_StageFailureAbortsRemainingStages(t *testing.T) {
	s1 := &recordingStage{name: "extract", failOn: "h1"}
	s2 := &recordingStage{name: "store"}
	r := NewRunner(testLogger, s1, s2)

	dc := contracts.NewDataContext("spider-1", &model.Request{Hash: "h1"}, &model.Response{StatusCode: 200})
	err := r.Run(context.Background(), dc)
	if err == nil {
		t.Fatalf("expected error from failing stage")
	}
	if !errors.Is(err, contracts.ErrStageRuntimeFailed) {
		t.Fatalf("error = %v, want wrapping ErrStageRuntimeFailed", err)
	}
	if len(s2.processed) != 0 {
		t.Fatalf("downstream stage ran after an earlier failure")
	}
}

func TestRunner_FollowRequestsAccumulate(t *testing.T) {
	follow := &model.Request{Hash: "h2"}
	s1 := &recordingStage{name: "extract", addFollow: follow}
	r := NewRunner(testLogger, s1)

	dc := contracts.NewDataContext("spider-1", &model.Request{Hash: "h1"}, &model.Response{StatusCode: 200})
	if err := r.Run(context.Background(), dc); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(dc.FollowRequests) != 1 || dc.FollowRequests[0].Hash != "h2" {
		t.Fatalf("FollowRequests = %v, want [h2]", dc.FollowRequests)
	}
}

func TestRunner_InitFailurePropagates(t *testing.T) {
	r := NewRunner(testLogger, &failingInitStage{})
	err := r.Init(context.Background())
	if !errors.Is(err, contracts.ErrStageInitFailed) {
		t.Fatalf("error = %v, want wrapping ErrStageInitFailed", err)
	}
}

type failingInitStage struct{ recordingStage }

func (f *failingInitStage) Init(ctx context.Context) error { return errors.New("init boom") }
func (f *failingInitStage) Name() string                   { return "failing" }

func TestRunner_CloseVisitsAllStagesEvenOnError(t *testing.T) {
	s1 := &recordingStage{name: "a"}
	s2 := &recordingStage{name: "b"}
	r := NewRunner(testLogger, s1, s2)

	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !s1.closed || !s2.closed {
		t.Fatalf("not all stages were closed: s1=%v s2=%v", s1.closed, s2.closed)
	}
}

func TestRegistry_BuildUnknownType(t *testing.T) {
	_, err := Build("does-not-exist", nil)
	if !errors.Is(err, contracts.ErrStorageMisconfigured) {
		t.Fatalf("error = %v, want wrapping ErrStorageMisconfigured", err)
	}
}

func TestRegistry_BuildEmptyType(t *testing.T) {
	_, err := Build("", nil)
	if !errors.Is(err, contracts.ErrStorageMisconfigured) {
		t.Fatalf("error = %v, want wrapping ErrStorageMisconfigured", err)
	}
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	Register("test-echo", func(options map[string]string) (contracts.DataFlowStage, error) {
		return &recordingStage{name: "test-echo"}, nil
	})

	stage, err := Build("test-echo", nil)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if stage.Name() != "test-echo" {
		t.Fatalf("stage name = %q, want test-echo", stage.Name())
	}
}
