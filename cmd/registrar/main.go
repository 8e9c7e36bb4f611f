package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/scusemua/distributed-checkpointer/registry"
)

// The registrar runs one model-registration task described by a spec file
// and exits. It is spawned as a detached child of the training process so
// registry-client state and memory use never interfere with training.
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <task-spec.json>\n", os.Args[0])
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err = run(logger, os.Args[1]); err != nil {
		logger.Error("Registration task failed.", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, specPath string) error {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("failed to read task spec \"%s\": %w", specPath, err)
	}

	var spec registry.TaskSpec
	if err = json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("failed to parse task spec \"%s\": %w", specPath, err)
	}

	logger.Info("Registering model.",
		zap.String("name", spec.Name),
		zap.String("model_uri", spec.ModelURI),
		zap.String("registry_root", spec.RegistryRoot))

	fileRegistry, err := registry.NewFileRegistry(spec.RegistryRoot, spec.RunID)
	if err != nil {
		return err
	}

	if err = fileRegistry.RegisterModelWithRunID(context.Background(), spec.ModelURI, spec.Name, spec.AwaitCreationFor); err != nil {
		return err
	}

	logger.Info("Registered model.", zap.String("name", spec.Name))
	return nil
}
