package model_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
	"github.com/scusemua/distributed-checkpointer/model"
)

func testAdapterConfig() *model.AdapterConfig {
	return &model.AdapterConfig{
		PeftType:      "LORA",
		Rank:          2,
		Alpha:         4,
		TargetModules: []string{"Wqkv"},
	}
}

func newTestAdapterModel() *model.AdapterModel {
	base, err := model.NewWithEmptyWeights(testConfig())
	Expect(err).To(BeNil())

	adapter, err := model.NewAdapterWithEmptyWeights(base, "default", map[string]*model.AdapterConfig{
		"default": testAdapterConfig(),
	})
	Expect(err).To(BeNil())
	return adapter
}

var _ = Describe("AdapterModel", func() {
	It("Will derive a lora_A/lora_B pair per targeted module occurrence", func() {
		adapter := newTestAdapterModel()

		names := adapter.AdapterParameterNames()
		Expect(names).To(ConsistOf(
			"base_model.model.transformer.blocks.0.attn.Wqkv.lora_A.weight",
			"base_model.model.transformer.blocks.0.attn.Wqkv.lora_B.weight",
		))

		shapes := model.AdapterParameterShapes(testConfig(), testAdapterConfig())
		// Wqkv is [3h, h] = [12, 4] with rank 2.
		Expect(shapes["base_model.model.transformer.blocks.0.attn.Wqkv.lora_A.weight"]).To(Equal([]int64{2, 4}))
		Expect(shapes["base_model.model.transformer.blocks.0.attn.Wqkv.lora_B.weight"]).To(Equal([]int64{12, 2}))
	})

	It("Will span base parameters and adapter deltas in one state dict", func() {
		adapter := newTestAdapterModel()

		stateDict := adapter.StateDict()
		Expect(stateDict).To(HaveKey("transformer.wte.weight"))
		Expect(stateDict).To(HaveKey("base_model.model.transformer.blocks.0.attn.Wqkv.lora_A.weight"))
	})

	It("Will split an incoming state dict between base and adapter slots", func() {
		adapter := newTestAdapterModel()

		stateDict := fullStateDict(testConfig(), tensor.Float32)
		for name, shape := range model.AdapterParameterShapes(testConfig(), testAdapterConfig()) {
			n := shape[0] * shape[1]
			values := make([]float32, n)
			for i := range values {
				values[i] = float32(i) * 0.25
			}
			t, err := tensor.FromFloat32s(values, tensor.Float32, shape...)
			Expect(err).To(BeNil())
			stateDict[name] = t
		}

		Expect(adapter.LoadStateDictAssign(stateDict)).To(BeNil())

		loaded := adapter.StateDict()
		for name, incoming := range stateDict {
			Expect(loaded[name]).To(BeIdenticalTo(incoming))
		}
	})

	It("Will deep-copy adapter configs at construction", func() {
		original := testAdapterConfig()

		base, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())

		adapter, err := model.NewAdapterWithEmptyWeights(base, "default", map[string]*model.AdapterConfig{
			"default": original,
		})
		Expect(err).To(BeNil())

		adapter.PeftConfigs["default"].BaseModelNameOrPath = "org/base-model"
		Expect(original.BaseModelNameOrPath).To(Equal(""))
	})

	It("Will write adapter config and weights next to the base files", func() {
		dir := GinkgoT().TempDir()

		adapter := newTestAdapterModel()
		stateDict := fullStateDict(testConfig(), tensor.Float32)
		for name, shape := range model.AdapterParameterShapes(testConfig(), testAdapterConfig()) {
			values := make([]float32, shape[0]*shape[1])
			t, err := tensor.FromFloat32s(values, tensor.Float32, shape...)
			Expect(err).To(BeNil())
			stateDict[name] = t
		}
		Expect(adapter.LoadStateDictAssign(stateDict)).To(BeNil())

		Expect(adapter.SavePretrained(dir)).To(BeNil())

		for _, filename := range []string{"config.json", "model.safetensors", "adapter_config.json", "adapter_model.safetensors"} {
			_, err := os.Stat(filepath.Join(dir, filename))
			Expect(err).To(BeNil())
		}
	})

	It("Will refuse an active adapter without a config", func() {
		base, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())

		_, err = model.NewAdapterWithEmptyWeights(base, "missing", map[string]*model.AdapterConfig{
			"default": testAdapterConfig(),
		})
		Expect(err).ToNot(BeNil())
	})
})
