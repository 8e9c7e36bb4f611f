package checkpointer

import "github.com/pkg/errors"

var (
	// ErrIncompatibleModel indicates that the trained model attached to the
	// loop state cannot produce a HuggingFace-style checkpoint.
	ErrIncompatibleModel = errors.New("model is not compatible with HuggingFace checkpointing")

	// ErrNoRegistryLogger indicates that a registered model name was
	// configured but no registry-capable logger destination is attached to
	// the training loop.
	ErrNoRegistryLogger = errors.New("registered_model_name was set but no model-registry logger destination is attached")

	// ErrDrainTimeout indicates that outstanding registration tasks did not
	// finish within the end-of-training drain window.
	ErrDrainTimeout = errors.New("timed out waiting for model registration tasks to finish")
)
