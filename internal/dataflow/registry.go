package dataflow

import (
	"fmt"
	"sync"

	"github.com/deepcrawl/spidercore/internal/contracts"
)

// StageFactory builds one DataFlowStage from its name-qualified options.
// This replaces the source's reflective `CreateFromOptions` lookup with an
// explicit, string-keyed registry (spec.md §9 redesign note).
type StageFactory func(options map[string]string) (contracts.DataFlowStage, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]StageFactory)
)

// Register adds a named factory to the registry. Intended to be called
// from package init() by stage implementations, mirroring how the
// teacher's handlers self-register rather than being discovered by type
// reflection.
func Register(name string, factory StageFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Build resolves name against the registry and constructs the stage.
// Fails with ErrStorageMisconfigured if name is blank or unregistered.
func Build(name string, options map[string]string) (contracts.DataFlowStage, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty storage type", contracts.ErrStorageMisconfigured)
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no factory registered for %q", contracts.ErrStorageMisconfigured, name)
	}

	stage, err := factory(options)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", contracts.ErrStorageMisconfigured, name, err)
	}
	return stage, nil
}
