package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
)

const (
	WeightsFileName          = "model.safetensors"
	GenerationConfigFileName = "generation_config.json"
)

var (
	// ErrUnexpectedParameter indicates a state dict key with no matching
	// parameter slot in the model being loaded.
	ErrUnexpectedParameter = errors.New("state dict contains parameter with no matching slot")

	// ErrMissingParameter indicates a parameter slot the state dict did not
	// cover, which would leave placeholder storage in the loaded model.
	ErrMissingParameter = errors.New("state dict is missing a required parameter")
)

// Pretrained is the capability surface shared by plain models and
// adapter-wrapped models: everything the checkpointer needs in order to
// rehydrate, transform, stamp, and persist a model instance.
type Pretrained interface {
	// Config returns the model's construction config.
	Config() *Config

	// StateDict returns the model's parameters keyed by fully-qualified name.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDictAssign assigns the given tensors directly into the
	// model's parameter slots, replacing placeholder storage. Every key must
	// match a slot and every slot must be covered.
	LoadStateDictAssign(stateDict map[string]*tensor.Tensor) error

	// SetNameOrPath stamps the canonical pretrained-model identity onto the
	// instance so downstream metadata reflects the source model rather than
	// a local path.
	SetNameOrPath(name string)

	// SavePretrained writes the model's files into the given directory.
	SavePretrained(dir string) error
}

// Model is a single-device, non-distributed model instance: a config plus a
// table of named parameter tensors. Instances built by NewWithEmptyWeights
// hold placeholder storage until a state dict is assigned into them.
type Model struct {
	config *Config

	// GenerationConfig carries free-form decoding defaults, persisted as
	// generation_config.json.
	GenerationConfig map[string]interface{}

	// SourceFiles holds custom code files (name -> contents) carried along
	// with checkpoints of model families that ship their own code.
	SourceFiles map[string]string

	params map[string]*tensor.Tensor
}

// NewWithEmptyWeights constructs a model skeleton from the config using
// placeholder storage for every parameter, avoiding the double memory cost
// of materializing weights that are about to be overwritten. If construction
// fails partway, no instance is returned, so no partially-initialized state
// escapes.
func NewWithEmptyWeights(cfg *Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		config: cfg,
		params: make(map[string]*tensor.Tensor),
	}
	for name, shape := range ParameterShapes(cfg) {
		m.params[name] = tensor.Placeholder(tensor.Float32, shape...)
	}
	return m, nil
}

// ParameterShapes returns the fully-qualified parameter names and shapes
// implied by a config.
func ParameterShapes(cfg *Config) map[string][]int64 {
	h := cfg.HiddenSize
	shapes := map[string][]int64{
		"transformer.wte.weight":    {cfg.VocabSize, h},
		"transformer.norm_f.weight": {h},
	}
	for i := int64(0); i < cfg.NumLayers; i++ {
		prefix := fmt.Sprintf("transformer.blocks.%d.", i)
		shapes[prefix+"norm_1.weight"] = []int64{h}
		shapes[prefix+"attn.Wqkv.weight"] = []int64{3 * h, h}
		shapes[prefix+"attn.out_proj.weight"] = []int64{h, h}
		shapes[prefix+"norm_2.weight"] = []int64{h}
		shapes[prefix+"ffn.up_proj.weight"] = []int64{cfg.ExpansionRatio * h, h}
		shapes[prefix+"ffn.down_proj.weight"] = []int64{h, cfg.ExpansionRatio * h}
	}
	return shapes
}

func (m *Model) Config() *Config {
	return m.config
}

func (m *Model) SetNameOrPath(name string) {
	m.config.NameOrPath = name
}

// ParameterNames returns the model's parameter names in sorted order.
func (m *Model) ParameterNames() []string {
	names := make([]string, 0, len(m.params))
	for name := range m.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parameter returns the named parameter tensor, or nil if absent.
func (m *Model) Parameter(name string) *tensor.Tensor {
	return m.params[name]
}

// StateDict returns the parameter table. The returned map shares tensor
// storage with the model.
func (m *Model) StateDict() map[string]*tensor.Tensor {
	stateDict := make(map[string]*tensor.Tensor, len(m.params))
	for name, param := range m.params {
		stateDict[name] = param
	}
	return stateDict
}

// LoadStateDictAssign assigns the state dict's tensors directly into the
// model's parameter slots. Assignment replaces placeholder storage; shapes
// must match the slot exactly.
func (m *Model) LoadStateDictAssign(stateDict map[string]*tensor.Tensor) error {
	return assignStateDict(m.params, stateDict)
}

func assignStateDict(params map[string]*tensor.Tensor, stateDict map[string]*tensor.Tensor) error {
	for name, incoming := range stateDict {
		slot, ok := params[name]
		if !ok {
			return errors.Wrapf(ErrUnexpectedParameter, "\"%s\"", name)
		}
		if len(slot.Shape) != len(incoming.Shape) {
			return fmt.Errorf("parameter \"%s\" has shape %v, expected %v", name, incoming.Shape, slot.Shape)
		}
		for i := range slot.Shape {
			if slot.Shape[i] != incoming.Shape[i] {
				return fmt.Errorf("parameter \"%s\" has shape %v, expected %v", name, incoming.Shape, slot.Shape)
			}
		}
		params[name] = incoming
	}

	for name, param := range params {
		if param.IsPlaceholder() {
			return errors.Wrapf(ErrMissingParameter, "\"%s\"", name)
		}
	}
	return nil
}

// SavePretrained writes the model's config, generation config, weights, and
// any custom code files into the given directory, creating it if necessary.
func (m *Model) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := m.config.SaveTo(dir); err != nil {
		return err
	}

	if m.GenerationConfig != nil {
		data, err := json.MarshalIndent(m.GenerationConfig, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal generation config: %w", err)
		}
		if err = os.WriteFile(filepath.Join(dir, GenerationConfigFileName), data, 0o644); err != nil {
			return err
		}
	}

	weightsFile, err := os.Create(filepath.Join(dir, WeightsFileName))
	if err != nil {
		return err
	}
	defer weightsFile.Close()

	if err = tensor.WriteSafetensors(weightsFile, m.params, map[string]string{"format": "pt"}); err != nil {
		return fmt.Errorf("failed to write model weights: %w", err)
	}

	for name, contents := range m.SourceFiles {
		if err = os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// FromPretrained loads a model previously written by SavePretrained.
func FromPretrained(dir string) (*Model, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}

	m, err := NewWithEmptyWeights(cfg)
	if err != nil {
		return nil, err
	}

	weightsFile, err := os.Open(filepath.Join(dir, WeightsFileName))
	if err != nil {
		return nil, err
	}
	defer weightsFile.Close()

	stateDict, _, err := tensor.ReadSafetensors(weightsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read model weights: %w", err)
	}
	// Loaded weights may be in a reduced precision; adopt their dtype.
	for name, t := range stateDict {
		if slot, ok := m.params[name]; ok && slot.DType != t.DType {
			m.params[name] = tensor.Placeholder(t.DType, slot.Shape...)
		}
	}
	if err = m.LoadStateDictAssign(stateDict); err != nil {
		return nil, err
	}

	generationData, err := os.ReadFile(filepath.Join(dir, GenerationConfigFileName))
	if err == nil {
		if err = json.Unmarshal(generationData, &m.GenerationConfig); err != nil {
			return nil, fmt.Errorf("failed to parse generation config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if len(cfg.AutoMap) > 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		m.SourceFiles = make(map[string]string)
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
				continue
			}
			contents, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			m.SourceFiles[entry.Name()] = string(contents)
		}
	}

	return m, nil
}
