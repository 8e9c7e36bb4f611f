package checkpointer

import (
	"github.com/scusemua/distributed-checkpointer/model"
)

// Hooks are the model-family customization points applied while a gathered
// checkpoint is rehydrated and published. Every hook has a sensible default;
// callers override individual fields to specialize behavior for a family
// without subclassing the checkpointer itself.
type Hooks struct {
	// TransformConfig maps the training-time config to the config persisted
	// with the checkpoint. It must not mutate its argument.
	TransformConfig func(original *model.Config) *model.Config

	// TransformModelAndTokenizer adjusts the rehydrated model and tokenizer
	// before they are written to disk.
	TransformModelAndTokenizer func(m model.Pretrained, t *model.Tokenizer) (model.Pretrained, *model.Tokenizer)

	// TransformModelPreRegistration adjusts the model right before it is
	// saved for the registry.
	TransformModelPreRegistration func(m model.Pretrained) model.Pretrained

	// PreRegisterEdit may edit the registry-local save directory after the
	// model has been saved there and before registration is launched.
	PreRegisterEdit func(localSavePath string) error
}

// DefaultHooks returns the hooks applied when the caller overrides nothing.
func DefaultHooks() Hooks {
	return Hooks{
		TransformConfig:               DefaultTransformConfig,
		TransformModelAndTokenizer:    func(m model.Pretrained, t *model.Tokenizer) (model.Pretrained, *model.Tokenizer) { return m, t },
		TransformModelPreRegistration: func(m model.Pretrained) model.Pretrained { return m },
		PreRegisterEdit:               func(string) error { return nil },
	}
}

// DefaultTransformConfig deep-copies the config and, for the 'mpt' family,
// normalizes distributed- and device-specific settings so the checkpoint
// loads on a single vanilla worker: the attention implementation falls back
// to 'torch', the init device becomes 'cpu', and any MoE sharding collapses
// to a world size of 1.
func DefaultTransformConfig(original *model.Config) *model.Config {
	copied := original.Clone()

	if copied.ModelType != "mpt" {
		return copied
	}

	if copied.AttnConfig != nil {
		copied.AttnConfig["attn_impl"] = "torch"
	}
	copied.InitDevice = "cpu"
	if copied.FFNConfig != nil {
		if _, ok := copied.FFNConfig["moe_world_size"]; ok {
			copied.FFNConfig["moe_world_size"] = 1
		}
	}

	return copied
}

func (h Hooks) withDefaults() Hooks {
	defaults := DefaultHooks()
	if h.TransformConfig == nil {
		h.TransformConfig = defaults.TransformConfig
	}
	if h.TransformModelAndTokenizer == nil {
		h.TransformModelAndTokenizer = defaults.TransformModelAndTokenizer
	}
	if h.TransformModelPreRegistration == nil {
		h.TransformModelPreRegistration = defaults.TransformModelPreRegistration
	}
	if h.PreRegisterEdit == nil {
		h.PreRegisterEdit = defaults.PreRegisterEdit
	}
	return h
}
