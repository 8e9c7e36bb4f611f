package registry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

const (
	manifestFileName     = "MLmodel"
	registeredModelsDir  = "registered_models"
	runArtifactsDirName  = "artifacts"
	registryPollInterval = 100 * time.Millisecond
)

// FileRegistry is a filesystem-backed model registry Logger. It provides the
// full registry contract against a shared directory tree, which makes it
// usable both for local runs and for exercising the registry-publishing path
// in tests. The same root can be opened from multiple processes; the
// detached registrar process opens the root it is handed and registers into
// it.
type FileRegistry struct {
	logger *zap.Logger

	root  string
	runID string
}

// NewFileRegistry opens (creating if needed) a registry rooted at the given
// directory. An empty runID is replaced with a fresh id.
func NewFileRegistry(root string, runID string) (*FileRegistry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	return &FileRegistry{
		logger: logger,
		root:   root,
		runID:  runID,
	}, nil
}

func (r *FileRegistry) DestinationName() string {
	return "file_registry"
}

func (r *FileRegistry) ModelRegistryPrefix() string {
	return filepath.Join(r.root, registeredModelsDir)
}

func (r *FileRegistry) RunID() string {
	return r.runID
}

// RegistryRoot returns the directory the registry is rooted at, for handing
// off to a detached registrar process.
func (r *FileRegistry) RegistryRoot() string {
	return r.root
}

// manifest is the MLmodel file written next to a saved model.
type manifest struct {
	Flavor          Flavor                 `json:"flavor"`
	Task            string                 `json:"task,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	InputExample    map[string]interface{} `json:"input_example,omitempty"`
	Signature       map[string]interface{} `json:"signature,omitempty"`
	PipRequirements []string               `json:"pip_requirements,omitempty"`
	RunID           string                 `json:"run_id"`
	SavedAt         time.Time              `json:"saved_at"`
}

// SaveModel writes the model under the options' local path using the
// requested flavor, along with the MLmodel manifest and a license file.
func (r *FileRegistry) SaveModel(opts *SaveModelOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	r.logger.Debug("Saving model to registry-local path.",
		zap.String("path", opts.Path),
		zap.String("flavor", string(opts.Flavor)))

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return err
	}

	var sourceModelName string
	switch opts.Flavor {
	case FlavorTransformers:
		components := opts.TransformersModel
		if err := components.Model.SavePretrained(opts.Path); err != nil {
			return err
		}
		if components.Tokenizer != nil {
			if err := components.Tokenizer.SavePretrained(opts.Path); err != nil {
				return err
			}
		}
		sourceModelName = components.Model.Config().NameOrPath
	case FlavorPeft:
		if err := copyDirectoryFiles(opts.SavePretrainedDir, opts.Path); err != nil {
			return err
		}
		sourceModelName, _ = opts.Metadata["pretrained_model_name"].(string)
	}

	if sourceModelName == "" {
		// Local model files carry no provenance; the caller regenerates the
		// license afterwards when a canonical identity is configured.
		sourceModelName = "unknown"
	}
	if err := WriteLicenseInformation(sourceModelName, opts.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&manifest{
		Flavor:          opts.Flavor,
		Task:            opts.Task,
		Metadata:        opts.Metadata,
		InputExample:    opts.InputExample,
		Signature:       opts.Signature,
		PipRequirements: opts.PipRequirements,
		RunID:           r.runID,
		SavedAt:         time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(opts.Path, manifestFileName), data, 0o644)
}

// registeredVersion is the record written for each registered model version.
type registeredVersion struct {
	Name      string    `json:"name"`
	ModelURI  string    `json:"model_uri"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterModelWithRunID registers a saved model under the given name,
// polling for registry-side creation up to awaitCreationFor.
func (r *FileRegistry) RegisterModelWithRunID(ctx context.Context, modelURI string, name string, awaitCreationFor time.Duration) error {
	r.logger.Info("Registering model.",
		zap.String("name", name),
		zap.String("model_uri", modelURI),
		zap.String("run_id", r.runID))

	modelDir := filepath.Join(r.root, registeredModelsDir, name)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return err
	}

	record, err := json.MarshalIndent(&registeredVersion{
		Name:      name,
		ModelURI:  modelURI,
		RunID:     r.runID,
		CreatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	versionFile := filepath.Join(modelDir, fmt.Sprintf("version-%s.json", uuid.NewString()))
	if err = os.WriteFile(versionFile, record, 0o644); err != nil {
		return err
	}

	// Wait for the registry side to acknowledge creation. For a shared
	// filesystem that is a visibility check on the version record.
	deadline := time.Now().Add(awaitCreationFor)
	for {
		if _, err = os.Stat(versionFile); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("registered model \"%s\" was not created within %s", name, awaitCreationFor)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registryPollInterval):
		}
	}
}

// LogArtifact copies a local file into the run's artifact directory.
func (r *FileRegistry) LogArtifact(runID string, localPath string) error {
	artifactsDir := filepath.Join(r.root, "runs", runID, runArtifactsDirName)
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return err
	}
	return copyFile(localPath, filepath.Join(artifactsDir, filepath.Base(localPath)))
}

func copyDirectoryFiles(sourceDir string, destinationDir string) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		err = copyFile(filepath.Join(sourceDir, entry.Name()), filepath.Join(destinationDir, entry.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(sourcePath string, destinationPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(destinationPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	_, err = io.Copy(destination, source)
	return err
}
