package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
	"github.com/scusemua/distributed-checkpointer/model"
	"github.com/scusemua/distributed-checkpointer/registry"
)

func savedTestModel() *model.Model {
	cfg := &model.Config{
		ModelType:      "mpt",
		NameOrPath:     "org/base-model",
		VocabSize:      8,
		HiddenSize:     4,
		NumLayers:      1,
		ExpansionRatio: 2,
	}

	m, err := model.NewWithEmptyWeights(cfg)
	Expect(err).To(BeNil())

	stateDict := make(map[string]*tensor.Tensor)
	for name, shape := range model.ParameterShapes(cfg) {
		n := int64(1)
		for _, dim := range shape {
			n *= dim
		}
		t, err := tensor.FromFloat32s(make([]float32, n), tensor.Float32, shape...)
		Expect(err).To(BeNil())
		stateDict[name] = t
	}
	Expect(m.LoadStateDictAssign(stateDict)).To(BeNil())
	return m
}

var _ = Describe("FileRegistry", func() {
	var (
		root         string
		fileRegistry *registry.FileRegistry
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()

		var err error
		fileRegistry, err = registry.NewFileRegistry(root, "test-run-id")
		Expect(err).To(BeNil())
	})

	It("Will save a transformers-flavor model with manifest and license", func() {
		savePath := filepath.Join(GinkgoT().TempDir(), "mlflow_save_0")

		err := fileRegistry.SaveModel(&registry.SaveModelOptions{
			Path:   savePath,
			Flavor: registry.FlavorTransformers,
			TransformersModel: &registry.Components{
				Model: savedTestModel(),
			},
			Task:            "llm/v1/completions",
			PipRequirements: []string{"transformers", "torch"},
		})
		Expect(err).To(BeNil())

		for _, name := range []string{"config.json", "model.safetensors", "MLmodel", "LICENSE.txt"} {
			_, statErr := os.Stat(filepath.Join(savePath, name))
			Expect(statErr).To(BeNil())
		}
	})

	It("Will save a peft-flavor model by copying the checkpoint directory", func() {
		checkpointDir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(checkpointDir, "adapter_config.json"), []byte("{}"), 0o644)).To(BeNil())
		Expect(os.WriteFile(filepath.Join(checkpointDir, "adapter_model.safetensors"), []byte("x"), 0o644)).To(BeNil())

		savePath := filepath.Join(GinkgoT().TempDir(), "mlflow_save_0")

		err := fileRegistry.SaveModel(&registry.SaveModelOptions{
			Path:              savePath,
			Flavor:            registry.FlavorPeft,
			SavePretrainedDir: checkpointDir,
			Metadata:          map[string]interface{}{"pretrained_model_name": "org/base-model"},
		})
		Expect(err).To(BeNil())

		for _, name := range []string{"adapter_config.json", "adapter_model.safetensors", "MLmodel", "LICENSE.txt"} {
			_, statErr := os.Stat(filepath.Join(savePath, name))
			Expect(statErr).To(BeNil())
		}
	})

	It("Will reject a peft-flavor save without metadata", func() {
		err := fileRegistry.SaveModel(&registry.SaveModelOptions{
			Path:              filepath.Join(GinkgoT().TempDir(), "save"),
			Flavor:            registry.FlavorPeft,
			SavePretrainedDir: GinkgoT().TempDir(),
		})
		Expect(err).ToNot(BeNil())
	})

	It("Will register a model version under the registry prefix", func() {
		modelDir := GinkgoT().TempDir()

		err := fileRegistry.RegisterModelWithRunID(context.Background(), modelDir, "my-model", 5*time.Second)
		Expect(err).To(BeNil())

		entries, err := os.ReadDir(filepath.Join(fileRegistry.ModelRegistryPrefix(), "my-model"))
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(1))
	})

	It("Will copy logged artifacts into the run's artifact directory", func() {
		artifact := filepath.Join(GinkgoT().TempDir(), "LICENSE.txt")
		Expect(os.WriteFile(artifact, []byte("license text"), 0o644)).To(BeNil())

		Expect(fileRegistry.LogArtifact(fileRegistry.RunID(), artifact)).To(BeNil())

		copied, err := os.ReadFile(filepath.Join(root, "runs", "test-run-id", "artifacts", "LICENSE.txt"))
		Expect(err).To(BeNil())
		Expect(string(copied)).To(Equal("license text"))
	})
})

// fakeTaskHandle finishes after a fixed delay from creation.
type fakeTaskHandle struct {
	id   string
	done chan struct{}
}

func newFakeTaskHandle(id string, duration time.Duration) *fakeTaskHandle {
	h := &fakeTaskHandle{id: id, done: make(chan struct{})}
	go func() {
		time.Sleep(duration)
		close(h.done)
	}()
	return h
}

func (h *fakeTaskHandle) ID() string { return h.id }

func (h *fakeTaskHandle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeTaskHandle) Join(timeout time.Duration) error {
	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return registry.ErrJoinTimeout
	}
}

var _ = Describe("TaskTracker", func() {
	It("Will report done only once every tracked task has finished", func() {
		tracker := registry.NewTaskTracker()
		Expect(tracker.AllDone()).To(BeTrue())

		tracker.Track(newFakeTaskHandle("fast", 50*time.Millisecond))
		tracker.Track(newFakeTaskHandle("slow", 250*time.Millisecond))
		Expect(tracker.Len()).To(Equal(2))
		Expect(tracker.AllDone()).To(BeFalse())

		Eventually(tracker.AllDone, 2*time.Second, 20*time.Millisecond).Should(BeTrue())
	})
})
