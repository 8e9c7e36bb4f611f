package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/scusemua/distributed-checkpointer/common/tensor"
)

const (
	AdapterConfigFileName  = "adapter_config.json"
	AdapterWeightsFileName = "adapter_model.safetensors"
)

// AdapterConfig describes one PEFT adapter: a low-rank delta applied to a
// frozen base model.
type AdapterConfig struct {
	PeftType            string   `json:"peft_type"`
	Rank                int64    `json:"r"`
	Alpha               int64    `json:"lora_alpha"`
	BaseModelNameOrPath string   `json:"base_model_name_or_path"`
	TargetModules       []string `json:"target_modules"`
}

// Clone returns an independent copy of the adapter config.
func (c *AdapterConfig) Clone() *AdapterConfig {
	clone := *c
	clone.TargetModules = append([]string{}, c.TargetModules...)
	return &clone
}

// AdapterModel wraps a frozen base Model with one or more named adapters.
// Its state dict spans both the base parameters and the adapter deltas.
type AdapterModel struct {
	base          *Model
	ActiveAdapter string
	PeftConfigs   map[string]*AdapterConfig

	adapterParams map[string]*tensor.Tensor
}

// NewAdapterWithEmptyWeights wraps a base model skeleton with adapter
// metadata, creating placeholder slots for every adapter delta implied by the
// active adapter's rank and target modules.
func NewAdapterWithEmptyWeights(base *Model, active string, peftConfigs map[string]*AdapterConfig) (*AdapterModel, error) {
	cfg, ok := peftConfigs[active]
	if !ok {
		return nil, fmt.Errorf("active adapter \"%s\" has no adapter config", active)
	}
	if cfg.Rank <= 0 {
		return nil, fmt.Errorf("adapter \"%s\" has invalid rank %d", active, cfg.Rank)
	}

	copied := make(map[string]*AdapterConfig, len(peftConfigs))
	for name, c := range peftConfigs {
		copied[name] = c.Clone()
	}

	m := &AdapterModel{
		base:          base,
		ActiveAdapter: active,
		PeftConfigs:   copied,
		adapterParams: make(map[string]*tensor.Tensor),
	}
	for name, shape := range AdapterParameterShapes(base.Config(), cfg) {
		m.adapterParams[name] = tensor.Placeholder(tensor.Float32, shape...)
	}
	return m, nil
}

// AdapterParameterShapes returns the adapter delta names and shapes implied by
// a base config and an adapter config: a lora_A/lora_B pair per targeted
// module occurrence.
func AdapterParameterShapes(baseCfg *Config, adapterCfg *AdapterConfig) map[string][]int64 {
	targets := make(map[string]bool, len(adapterCfg.TargetModules))
	for _, module := range adapterCfg.TargetModules {
		targets[module] = true
	}

	shapes := make(map[string][]int64)
	for name, shape := range ParameterShapes(baseCfg) {
		modulePath := strings.TrimSuffix(name, ".weight")
		parts := strings.Split(modulePath, ".")
		if len(shape) != 2 || !targets[parts[len(parts)-1]] {
			continue
		}

		outDim, inDim := shape[0], shape[1]
		prefix := "base_model.model." + modulePath
		shapes[prefix+".lora_A.weight"] = []int64{adapterCfg.Rank, inDim}
		shapes[prefix+".lora_B.weight"] = []int64{outDim, adapterCfg.Rank}
	}
	return shapes
}

// Base returns the wrapped base model.
func (m *AdapterModel) Base() *Model {
	return m.base
}

func (m *AdapterModel) Config() *Config {
	return m.base.Config()
}

// SetNameOrPath stamps the identity onto the base model; adapter configs are
// stamped separately since each records its own base-model reference.
func (m *AdapterModel) SetNameOrPath(name string) {
	m.base.SetNameOrPath(name)
}

// AdapterParameterNames returns the adapter delta names, unordered.
func (m *AdapterModel) AdapterParameterNames() []string {
	names := make([]string, 0, len(m.adapterParams))
	for name := range m.adapterParams {
		names = append(names, name)
	}
	return names
}

// StateDict returns base parameters and adapter deltas in one mapping.
func (m *AdapterModel) StateDict() map[string]*tensor.Tensor {
	stateDict := m.base.StateDict()
	for name, param := range m.adapterParams {
		stateDict[name] = param
	}
	return stateDict
}

// LoadStateDictAssign splits the state dict between base slots and adapter
// slots and assigns both.
func (m *AdapterModel) LoadStateDictAssign(stateDict map[string]*tensor.Tensor) error {
	baseDict := make(map[string]*tensor.Tensor)
	adapterDict := make(map[string]*tensor.Tensor)
	for name, t := range stateDict {
		if _, ok := m.adapterParams[name]; ok {
			adapterDict[name] = t
		} else {
			baseDict[name] = t
		}
	}

	if err := m.base.LoadStateDictAssign(baseDict); err != nil {
		return err
	}
	return assignStateDict(m.adapterParams, adapterDict)
}

// SavePretrained writes the base model files plus the adapter config and
// adapter weights, making the directory self-contained.
func (m *AdapterModel) SavePretrained(dir string) error {
	if err := m.base.SavePretrained(dir); err != nil {
		return err
	}

	activeConfig := m.PeftConfigs[m.ActiveAdapter]
	data, err := json.MarshalIndent(activeConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal adapter config: %w", err)
	}
	if err = os.WriteFile(filepath.Join(dir, AdapterConfigFileName), data, 0o644); err != nil {
		return err
	}

	adapterFile, err := os.Create(filepath.Join(dir, AdapterWeightsFileName))
	if err != nil {
		return err
	}
	defer adapterFile.Close()

	return tensor.WriteSafetensors(adapterFile, m.adapterParams, map[string]string{"format": "pt"})
}
