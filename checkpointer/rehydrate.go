package checkpointer

import (
	"github.com/scusemua/distributed-checkpointer/common/tensor"
	"github.com/scusemua/distributed-checkpointer/model"
)

// rehydrate builds a clean single-device model from the transformed config
// and assigns the gathered state dict into it. Construction uses placeholder
// weights so the peak memory cost is one copy of the model, not two; the
// gathered tensors become the instance's storage directly.
//
// Adapter-wrapped models are rebuilt as adapter-wrapped models, with the
// original's adapter configs carried over. Plain models keep the original's
// decoding defaults and custom code files.
func (c *Checkpointer) rehydrate(original model.Pretrained, stateDict map[string]*tensor.Tensor) (model.Pretrained, error) {
	newConfig := c.hooks.TransformConfig(original.Config())

	base, err := model.AutoClassConstructor(newConfig.ModelType)(newConfig)
	if err != nil {
		return nil, err
	}

	var sourceBase *model.Model
	switch om := original.(type) {
	case *model.Model:
		sourceBase = om
	case *model.AdapterModel:
		sourceBase = om.Base()
	}
	if sourceBase != nil {
		base.GenerationConfig = copyAnyMap(sourceBase.GenerationConfig)
		base.SourceFiles = copyStringMap(sourceBase.SourceFiles)
	}

	var instance model.Pretrained = base
	if adapter, ok := original.(*model.AdapterModel); ok {
		wrapped, err := model.NewAdapterWithEmptyWeights(base, adapter.ActiveAdapter, adapter.PeftConfigs)
		if err != nil {
			return nil, err
		}
		instance = wrapped
	}

	if err = instance.LoadStateDictAssign(stateDict); err != nil {
		return nil, err
	}

	return instance, nil
}

// stampPretrainedName records the canonical pretrained-model identity on the
// instance so downstream metadata names the source model rather than a local
// path. For adapter-wrapped models the base model and every adapter config
// are stamped as well.
func (c *Checkpointer) stampPretrainedName(instance model.Pretrained) {
	if c.pretrainedModelName == "" {
		return
	}

	instance.SetNameOrPath(c.pretrainedModelName)

	if adapter, ok := instance.(*model.AdapterModel); ok {
		adapter.Base().SetNameOrPath(c.pretrainedModelName)
		for _, peftConfig := range adapter.PeftConfigs {
			peftConfig.BaseModelNameOrPath = c.pretrainedModelName
		}
	}
}

func copyAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	copied := make(map[string]string, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
