package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

const ConfigFileName = "config.json"

// Config describes a model architecture and its construction-time options.
// It is the unit the checkpointer's config-transformation hook operates on,
// so Clone must produce a fully independent copy.
type Config struct {
	ModelType      string `json:"model_type"`
	NameOrPath     string `json:"_name_or_path,omitempty"`
	VocabSize      int64  `json:"vocab_size"`
	HiddenSize     int64  `json:"d_model"`
	NumLayers      int64  `json:"n_layers"`
	ExpansionRatio int64  `json:"expansion_ratio"`
	InitDevice     string `json:"init_device,omitempty"`

	// AttnConfig and FFNConfig carry free-form sub-configuration, e.g. the
	// attention implementation ("attn_impl") and the MoE world size
	// ("moe_world_size"), both of which must be normalized to single-worker
	// values before a checkpoint is written.
	AttnConfig map[string]interface{} `json:"attn_config,omitempty"`
	FFNConfig  map[string]interface{} `json:"ffn_config,omitempty"`

	// AutoMap points auto-class loaders at the custom code files saved
	// alongside the weights, for model families that ship their own code.
	AutoMap map[string]string `json:"auto_map,omitempty"`
}

// Validate checks that the config can produce a parameter skeleton.
func (c *Config) Validate() error {
	if c.VocabSize <= 0 || c.HiddenSize <= 0 || c.NumLayers <= 0 {
		return fmt.Errorf("invalid model config: vocab_size=%d, d_model=%d, n_layers=%d",
			c.VocabSize, c.HiddenSize, c.NumLayers)
	}
	if c.ExpansionRatio <= 0 {
		return fmt.Errorf("invalid model config: expansion_ratio=%d", c.ExpansionRatio)
	}
	return nil
}

// Clone returns a deep copy of the config. Transformation hooks receive the
// original config and must never mutate it, so they operate on clones.
func (c *Config) Clone() *Config {
	clone := *c
	clone.AttnConfig = cloneAnyMap(c.AttnConfig)
	clone.FFNConfig = cloneAnyMap(c.FFNConfig)
	if c.AutoMap != nil {
		clone.AutoMap = make(map[string]string, len(c.AutoMap))
		for k, v := range c.AutoMap {
			clone.AutoMap[k] = v
		}
	}
	return &clone
}

func cloneAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			clone[k] = cloneAnyMap(nested)
		} else {
			clone[k] = v
		}
	}
	return clone
}

func (c *Config) String() string {
	m, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	return string(m)
}

// SaveTo writes the config as config.json within the given directory.
func (c *Config) SaveTo(dir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0o644)
}

// LoadConfig reads a config.json from the given directory.
func LoadConfig(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}
	return &cfg, nil
}
