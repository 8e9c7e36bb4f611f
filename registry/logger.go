package registry

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/context"

	"github.com/scusemua/distributed-checkpointer/common/training"
	"github.com/scusemua/distributed-checkpointer/model"
)

// Flavor selects the registry's model-format-specific saving strategy, which
// determines the required SaveModelOptions fields.
type Flavor string

const (
	// FlavorTransformers saves a full model plus tokenizer.
	FlavorTransformers Flavor = "transformers"

	// FlavorPeft saves an adapter-only model referencing a pretrained base.
	FlavorPeft Flavor = "peft"
)

// Components bundles the model and tokenizer handed to a transformers-flavor
// save.
type Components struct {
	Model     model.Pretrained
	Tokenizer *model.Tokenizer
}

// SaveModelOptions are the flavor-specific kwargs of a registry save.
type SaveModelOptions struct {
	// Path is the local directory the registry saver writes into.
	Path string

	Flavor Flavor

	// TransformersModel is required for FlavorTransformers.
	TransformersModel *Components

	// SavePretrainedDir is required for FlavorPeft: the directory the
	// adapter checkpoint was already saved into.
	SavePretrainedDir string

	Metadata     map[string]interface{}
	Task         string
	InputExample map[string]interface{}
	Signature    map[string]interface{}

	// PipRequirements is attached directly so the registry never attempts
	// to infer an environment by running the model.
	PipRequirements []string
}

// Validate checks that the flavor's required fields are present.
func (o *SaveModelOptions) Validate() error {
	if o.Path == "" {
		return fmt.Errorf("registry save requires a local path")
	}

	switch o.Flavor {
	case FlavorTransformers:
		if o.TransformersModel == nil || o.TransformersModel.Model == nil {
			return fmt.Errorf("flavor \"%s\" requires a transformers model", string(o.Flavor))
		}
	case FlavorPeft:
		if o.SavePretrainedDir == "" {
			return fmt.Errorf("flavor \"%s\" requires a save_pretrained directory", string(o.Flavor))
		}
		if o.Metadata == nil {
			return fmt.Errorf("flavor \"%s\" requires metadata", string(o.Flavor))
		}
	default:
		return fmt.Errorf("unsupported registry flavor \"%s\"", string(o.Flavor))
	}
	return nil
}

// Logger is the model-registry collaborator: an experiment-tracking
// destination that can additionally save and register models.
type Logger interface {
	training.LoggerDestination

	// ModelRegistryPrefix returns the namespace models are registered under.
	ModelRegistryPrefix() string

	// RunID identifies the tracking run this logger is attached to.
	RunID() string

	// SaveModel writes the model to a registry-specific local path.
	SaveModel(opts *SaveModelOptions) error

	// RegisterModelWithRunID registers a previously saved model under the
	// given name, waiting up to awaitCreationFor for registry-side creation.
	RegisterModelWithRunID(ctx context.Context, modelURI string, name string, awaitCreationFor time.Duration) error

	// LogArtifact attaches a local file to the tracking run.
	LogArtifact(runID string, localPath string) error
}

const (
	DefaultTask = "llm/v1/completions"

	defaultPrompt = "What is Machine Learning?"
)

// LoggingConfig carries the options forwarded to the registry's SaveModel
// call. Zero-valued fields are filled with defaults synthesized for a
// text-generation task, or a chat task when the task name ends in "chat".
type LoggingConfig struct {
	Metadata     map[string]interface{}
	Task         string
	InputExample map[string]interface{}
	Signature    map[string]interface{}
}

// ApplyDefaults fills the unset fields. Both the metadata and the task are
// needed for registry-optimized model serving, so the task always defaults.
func (c *LoggingConfig) ApplyDefaults() {
	if c.Metadata == nil {
		c.Metadata = map[string]interface{}{}
	}
	if c.Task == "" {
		c.Task = DefaultTask
	}

	if c.InputExample == nil {
		if c.isChat() {
			c.InputExample = map[string]interface{}{
				"messages": []map[string]interface{}{{
					"role":    "user",
					"content": defaultPrompt,
				}},
			}
		} else {
			c.InputExample = map[string]interface{}{
				"prompt": []string{defaultPrompt},
			}
		}
	}
}

func (c *LoggingConfig) isChat() bool {
	if strings.HasSuffix(c.Task, "chat") {
		return true
	}
	metadataTask, _ := c.Metadata["task"].(string)
	return strings.HasSuffix(metadataTask, "chat")
}

// PretrainedModelName returns the canonical pretrained-model identity from
// the metadata, or "" when none was configured.
func (c *LoggingConfig) PretrainedModelName() string {
	name, _ := c.Metadata["pretrained_model_name"].(string)
	return name
}
