package configuration

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// CheckpointerOptions includes all configuration parameters recognized by the
// checkpointer callback.
type CheckpointerOptions struct {
	SaveFolder            string `name:"save_folder"             json:"save_folder"             yaml:"save_folder"             description:"Top-level folder to save checkpoints to. May be a local path or a remote URI (s3://, redis://, hdfs://)."`
	SaveInterval          string `name:"save_interval"           json:"save_interval"           yaml:"save_interval"           description:"How often checkpoints are saved, e.g. '1ep', '500ba', '1dur'. Bare integers are interpreted as epochs."`
	HuggingFaceFolderName string `name:"huggingface_folder_name" json:"huggingface_folder_name" yaml:"huggingface_folder_name" description:"Folder each checkpoint is saved under, supporting substitution tokens such as {batch} and {run_name}."`
	Precision             string `name:"precision"               json:"precision"               yaml:"precision"               description:"Precision to save the model in. Options are 'float32', 'float16', and 'bfloat16'."`
	Overwrite             bool   `name:"overwrite"               json:"overwrite"               yaml:"overwrite"               description:"Whether to overwrite previously saved checkpoint files."`
	RegisteredModelName   string `name:"registered_model_name"   json:"registered_model_name"   yaml:"registered_model_name"   description:"Name to register the final model under in the model registry. Empty disables registration."`
	NumConcurrentUploads  int    `name:"num_concurrent_uploads"  json:"num_concurrent_uploads"  yaml:"num_concurrent_uploads"  description:"Maximum number of checkpoint files uploaded to remote storage concurrently."`

	// FlattenImports are the import prefixes flattened when editing saved
	// custom code files for portability. Only the 'mpt' family ships any.
	FlattenImports []string `name:"flatten_imports" json:"flatten_imports" yaml:"flatten_imports"`

	// RegistryTask, RegistryMetadata, RegistryInputExample, and
	// RegistrySignature are forwarded to the registry's save-model call.
	// Unset values are synthesized for a text-generation task (or a chat
	// task when the task name ends in "chat").
	RegistryTask         string                 `name:"registry_task"          json:"registry_task"          yaml:"registry_task"`
	RegistryMetadata     map[string]interface{} `name:"registry_metadata"      json:"registry_metadata"      yaml:"registry_metadata"`
	RegistryInputExample map[string]interface{} `name:"registry_input_example" json:"registry_input_example" yaml:"registry_input_example"`
	RegistrySignature    map[string]interface{} `name:"registry_signature"     json:"registry_signature"     yaml:"registry_signature"`
}

// DefaultCheckpointerOptions returns the options with every default applied.
// SaveFolder has no default and must be supplied by the caller.
func DefaultCheckpointerOptions() *CheckpointerOptions {
	return &CheckpointerOptions{
		SaveInterval:          "1ep",
		HuggingFaceFolderName: "ba{batch}",
		Precision:             "float32",
		Overwrite:             true,
		NumConcurrentUploads:  4,
		FlattenImports:        []string{"llmfoundry"},
	}
}

func (opts *CheckpointerOptions) Validate() error {
	if opts.SaveFolder == "" {
		return errors.New("CheckpointerOptions: save_folder cannot be empty")
	}

	if opts.NumConcurrentUploads < 1 {
		return errors.Errorf("CheckpointerOptions: num_concurrent_uploads must be at least 1 (got %d)", opts.NumConcurrentUploads)
	}

	return nil
}

func (opts *CheckpointerOptions) Clone() *CheckpointerOptions {
	clone := *opts

	clone.FlattenImports = append([]string(nil), opts.FlattenImports...)

	return &clone
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (opts *CheckpointerOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(opts, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (opts *CheckpointerOptions) String() string {
	m, err := json.Marshal(opts)
	if err != nil {
		panic(err)
	}

	return string(m)
}
