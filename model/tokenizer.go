package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

const (
	TokenizerFileName     = "tokenizer.json"
	SpecialTokensFileName = "special_tokens_map.json"
)

// Tokenizer holds the vocabulary and special-token mapping saved alongside a
// model checkpoint. The checkpointer treats it as opaque: it only needs to be
// persisted next to the weights and handed to transformation hooks.
type Tokenizer struct {
	Vocab          map[string]int    `json:"vocab"`
	SpecialTokens  map[string]string `json:"special_tokens,omitempty"`
	ModelMaxLength int               `json:"model_max_length,omitempty"`
}

// SavePretrained writes the tokenizer files into the given directory.
func (t *Tokenizer) SavePretrained(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokenizer: %w", err)
	}
	if err = os.WriteFile(filepath.Join(dir, TokenizerFileName), data, 0o644); err != nil {
		return err
	}

	if t.SpecialTokens != nil {
		specials, err := json.MarshalIndent(t.SpecialTokens, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal special tokens: %w", err)
		}
		if err = os.WriteFile(filepath.Join(dir, SpecialTokensFileName), specials, 0o644); err != nil {
			return err
		}
	}

	return nil
}

// LoadTokenizer reads tokenizer files previously written by SavePretrained.
func LoadTokenizer(dir string) (*Tokenizer, error) {
	data, err := os.ReadFile(filepath.Join(dir, TokenizerFileName))
	if err != nil {
		return nil, err
	}

	var t Tokenizer
	if err = json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer: %w", err)
	}
	return &t, nil
}
