package model_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
	"github.com/scusemua/distributed-checkpointer/model"
)

func testConfig() *model.Config {
	return &model.Config{
		ModelType:      "mpt",
		VocabSize:      8,
		HiddenSize:     4,
		NumLayers:      1,
		ExpansionRatio: 2,
		AttnConfig:     map[string]interface{}{"attn_impl": "flash"},
	}
}

// fullStateDict materializes a complete state dict for the config, with
// distinct values per parameter so bit-level comparisons are meaningful.
func fullStateDict(cfg *model.Config, dtype tensor.DType) map[string]*tensor.Tensor {
	stateDict := make(map[string]*tensor.Tensor)
	seed := float32(1)
	for name, shape := range model.ParameterShapes(cfg) {
		n := int64(1)
		for _, dim := range shape {
			n *= dim
		}
		values := make([]float32, n)
		for i := range values {
			values[i] = seed + float32(i)*0.5
		}
		seed += 100

		t, err := tensor.FromFloat32s(values, dtype, shape...)
		Expect(err).To(BeNil())
		stateDict[name] = t
	}
	return stateDict
}

var _ = Describe("Model", func() {
	It("Will construct a skeleton with placeholder storage for every parameter", func() {
		m, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())

		names := m.ParameterNames()
		Expect(names).To(ContainElement("transformer.wte.weight"))
		Expect(names).To(ContainElement("transformer.blocks.0.attn.Wqkv.weight"))

		for _, name := range names {
			Expect(m.Parameter(name).IsPlaceholder()).To(BeTrue())
		}
	})

	It("Will assign a full state dict directly into the parameter slots", func() {
		m, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())

		stateDict := fullStateDict(m.Config(), tensor.Float32)
		Expect(m.LoadStateDictAssign(stateDict)).To(BeNil())

		for name, incoming := range stateDict {
			// Assignment, not copy: the slot holds the incoming tensor.
			Expect(m.Parameter(name)).To(BeIdenticalTo(incoming))
		}
	})

	It("Will reject a state dict containing an unknown parameter", func() {
		m, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())

		stateDict := fullStateDict(m.Config(), tensor.Float32)
		bogus, err := tensor.FromFloat32s([]float32{1, 2}, tensor.Float32, 2)
		Expect(err).To(BeNil())
		stateDict["transformer.bogus.weight"] = bogus

		err = m.LoadStateDictAssign(stateDict)
		Expect(errors.Is(err, model.ErrUnexpectedParameter)).To(BeTrue())
	})

	It("Will reject a state dict that leaves a parameter uncovered", func() {
		m, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())

		stateDict := fullStateDict(m.Config(), tensor.Float32)
		delete(stateDict, "transformer.norm_f.weight")

		err = m.LoadStateDictAssign(stateDict)
		Expect(errors.Is(err, model.ErrMissingParameter)).To(BeTrue())
	})

	It("Will reject a state dict with a mis-shaped parameter", func() {
		m, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())

		stateDict := fullStateDict(m.Config(), tensor.Float32)
		wrong, err := tensor.FromFloat32s([]float32{1, 2, 3}, tensor.Float32, 3)
		Expect(err).To(BeNil())
		stateDict["transformer.norm_f.weight"] = wrong

		Expect(m.LoadStateDictAssign(stateDict)).ToNot(BeNil())
	})

	It("Will round-trip through SavePretrained and FromPretrained", func() {
		dir := GinkgoT().TempDir()

		m, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())
		m.GenerationConfig = map[string]interface{}{"max_new_tokens": float64(64)}

		stateDict := fullStateDict(m.Config(), tensor.Float32)
		Expect(m.LoadStateDictAssign(stateDict)).To(BeNil())
		Expect(m.SavePretrained(dir)).To(BeNil())

		loaded, err := model.FromPretrained(dir)
		Expect(err).To(BeNil())
		Expect(loaded.Config().ModelType).To(Equal("mpt"))
		Expect(loaded.GenerationConfig).To(HaveKeyWithValue("max_new_tokens", float64(64)))

		for name, original := range stateDict {
			Expect(loaded.Parameter(name).Equal(original)).To(BeTrue())
		}
	})

	It("Will adopt reduced precision when loading a cast checkpoint", func() {
		dir := GinkgoT().TempDir()

		m, err := model.NewWithEmptyWeights(testConfig())
		Expect(err).To(BeNil())
		Expect(m.LoadStateDictAssign(fullStateDict(m.Config(), tensor.BFloat16))).To(BeNil())
		Expect(m.SavePretrained(dir)).To(BeNil())

		loaded, err := model.FromPretrained(dir)
		Expect(err).To(BeNil())
		Expect(loaded.Parameter("transformer.wte.weight").DType).To(Equal(tensor.BFloat16))
	})

	It("Will persist custom code files next to the weights", func() {
		dir := GinkgoT().TempDir()

		cfg := testConfig()
		cfg.AutoMap = map[string]string{"AutoModelForCausalLM": "modeling_mpt.MPTForCausalLM"}

		m, err := model.NewWithEmptyWeights(cfg)
		Expect(err).To(BeNil())
		m.SourceFiles = map[string]string{"modeling_mpt.py": "import torch\n"}
		Expect(m.LoadStateDictAssign(fullStateDict(cfg, tensor.Float32))).To(BeNil())
		Expect(m.SavePretrained(dir)).To(BeNil())

		contents, err := os.ReadFile(filepath.Join(dir, "modeling_mpt.py"))
		Expect(err).To(BeNil())
		Expect(string(contents)).To(Equal("import torch\n"))
	})
})

var _ = Describe("AutoClass", func() {
	It("Will dispatch construction to the registered constructor", func() {
		called := false
		model.RegisterForAutoClass("mpt-test-family", func(cfg *model.Config) (*model.Model, error) {
			called = true
			return model.NewWithEmptyWeights(cfg)
		})

		cfg := testConfig()
		cfg.ModelType = "mpt-test-family"

		m, err := model.AutoClassConstructor(cfg.ModelType)(cfg)
		Expect(err).To(BeNil())
		Expect(m).ToNot(BeNil())
		Expect(called).To(BeTrue())
	})

	It("Will fall back to the default constructor for unregistered families", func() {
		m, err := model.AutoClassConstructor("never-registered")(testConfig())
		Expect(err).To(BeNil())
		Expect(m).ToNot(BeNil())
	})
})
