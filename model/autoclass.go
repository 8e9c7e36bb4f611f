package model

import (
	"sync"
)

// The auto-class registry maps model types to constructors so checkpoint
// directories of custom model families can be loaded generically. It is
// populated by an explicit registration call made once at process start,
// never as a side effect of the save path.

var (
	autoClassMu       sync.RWMutex
	autoClassRegistry = make(map[string]func(*Config) (*Model, error))
)

// RegisterForAutoClass registers a constructor for a model type.
// Re-registering a type replaces the previous constructor.
func RegisterForAutoClass(modelType string, constructor func(*Config) (*Model, error)) {
	autoClassMu.Lock()
	defer autoClassMu.Unlock()
	autoClassRegistry[modelType] = constructor
}

// AutoClassConstructor returns the registered constructor for a model type,
// falling back to NewWithEmptyWeights when the type was never registered.
func AutoClassConstructor(modelType string) func(*Config) (*Model, error) {
	autoClassMu.RLock()
	defer autoClassMu.RUnlock()

	if constructor, ok := autoClassRegistry[modelType]; ok {
		return constructor
	}
	return NewWithEmptyWeights
}
