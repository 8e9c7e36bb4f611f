package checkpointer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/net/context"

	"github.com/scusemua/distributed-checkpointer/common/training"
	"github.com/scusemua/distributed-checkpointer/model"
	"github.com/scusemua/distributed-checkpointer/registry"
)

// saveCheckpoint runs one full checkpoint: gather, rehydrate, persist,
// upload, and (on the run's final batch) launch registration. All ranks
// enter; only the coordinator rank writes. Two barriers keep the group in
// lockstep, one after persistence and one after registration launch, so no
// rank resumes training while the coordinator still depends on collective
// state.
func (c *Checkpointer) saveCheckpoint(ctx context.Context, state *training.State) error {
	c.lastCheckpointBatch = state.Timestamp.Batch
	started := time.Now()

	coordinator := c.comm.Rank() == 0

	c.log.Info("Saving HuggingFace formatted checkpoint at batch %d.", state.Timestamp.Batch)

	saveDir := training.FormatNameWithState(path.Join(c.savePath, c.folderTemplate), state, c.comm.Rank())

	// When the destination is remote the checkpoint is staged in a temp
	// directory and uploaded file by file. A local destination is written
	// in place.
	localSaveDir := saveDir
	usingTempDir := c.remote != nil
	if usingTempDir && coordinator {
		tempDir, err := os.MkdirTemp("", "hf-checkpoint-*")
		if err != nil {
			return err
		}
		localSaveDir = tempDir
	}

	originalModel, originalTokenizer := state.Model.Unwrap()
	if originalModel == nil {
		return ErrIncompatibleModel
	}

	c.log.Debug("Gathering state dict from world of size %d.", c.comm.WorldSize())

	stateDict, err := c.gatherStateDict(ctx, state)
	if err != nil {
		return err
	}

	var instance model.Pretrained
	var tokenizer *model.Tokenizer
	if coordinator {
		instance, err = c.rehydrate(originalModel, stateDict)
		if err != nil {
			return err
		}

		instance, tokenizer = c.hooks.TransformModelAndTokenizer(instance, originalTokenizer)
		c.stampPretrainedName(instance)

		if err = c.persist(ctx, instance, tokenizer, localSaveDir, saveDir); err != nil {
			return err
		}
	}

	if err = c.comm.Barrier(ctx); err != nil {
		return err
	}

	if coordinator {
		if c.opts.RegisteredModelName != "" && c.isLastBatch(state) {
			if err = c.publishToRegistry(ctx, instance, tokenizer, localSaveDir); err != nil {
				return err
			}
			if usingTempDir {
				// Keep the temp directory alive for the spawned tasks;
				// the end-of-training drain removes it.
				c.tempSaveDir = localSaveDir
			}
		} else if usingTempDir {
			if err = os.RemoveAll(localSaveDir); err != nil {
				c.log.Warn("Failed to remove temporary checkpoint directory \"%s\": %v", localSaveDir, err)
			}
		}

		if c.metrics != nil {
			c.metrics.GetCheckpointsSavedCounter().Inc()
			c.metrics.GetSaveLatencySecondsHistogram().Observe(time.Since(started).Seconds())
		}
	}

	if err = c.comm.Barrier(ctx); err != nil {
		return err
	}

	c.log.Info("Finished saving HuggingFace formatted checkpoint at batch %d in %v.",
		state.Timestamp.Batch, time.Since(started))

	return nil
}

// persist writes the model and tokenizer into the local directory, edits any
// custom code files for portability, and uploads the directory when the
// destination is remote.
func (c *Checkpointer) persist(ctx context.Context, instance model.Pretrained, tokenizer *model.Tokenizer,
	localSaveDir string, saveDir string) error {

	if err := instance.SavePretrained(localSaveDir); err != nil {
		return err
	}
	if tokenizer != nil {
		if err := tokenizer.SavePretrained(localSaveDir); err != nil {
			return err
		}
	}

	if instance.Config().ModelType == "mpt" {
		if err := model.EditFilesForCompatibility(localSaveDir, c.opts.FlattenImports); err != nil {
			return err
		}
	}

	if c.remote == nil {
		return nil
	}

	c.log.Debug("Uploading checkpoint files from \"%s\" to \"%s\".", localSaveDir, c.remote.RemoteURI(saveDir))
	return c.remote.UploadDir(ctx, localSaveDir, saveDir, c.opts.Overwrite)
}

// publishToRegistry saves the checkpoint for each attached registry logger
// and launches one detached registration task per logger. Registration runs
// outside the training process; failures there never fail training.
func (c *Checkpointer) publishToRegistry(ctx context.Context, instance model.Pretrained,
	tokenizer *model.Tokenizer, localSaveDir string) error {

	instance = c.hooks.TransformModelPreRegistration(instance)

	for i, registryLogger := range c.registryLoggers {
		localSavePath := filepath.Join(localSaveDir, fmt.Sprintf("mlflow_save_%d", i))

		opts := &registry.SaveModelOptions{
			Path:            localSavePath,
			Task:            c.loggingConfig.Task,
			Metadata:        c.loggingConfig.Metadata,
			InputExample:    c.loggingConfig.InputExample,
			Signature:       c.loggingConfig.Signature,
			PipRequirements: []string{"transformers", "torch"},
		}
		if c.usingAdapter {
			opts.Flavor = registry.FlavorPeft
			opts.SavePretrainedDir = localSaveDir
		} else {
			opts.Flavor = registry.FlavorTransformers
			opts.TransformersModel = &registry.Components{Model: instance, Tokenizer: tokenizer}
		}

		if err := registryLogger.SaveModel(opts); err != nil {
			return err
		}

		licenseFilename, err := registry.MaybeLicenseFilename(localSavePath, c.pretrainedModelName)
		if err != nil {
			return err
		}
		if licenseFilename != "" {
			if err = registryLogger.LogArtifact(registryLogger.RunID(), filepath.Join(localSavePath, licenseFilename)); err != nil {
				return err
			}
		}

		if err = c.hooks.PreRegisterEdit(localSavePath); err != nil {
			return err
		}

		spec := &registry.TaskSpec{
			RunID:            registryLogger.RunID(),
			ModelURI:         localSavePath,
			Name:             c.opts.RegisteredModelName,
			AwaitCreationFor: DefaultAwaitCreationFor,
		}
		if rooted, ok := registryLogger.(interface{ RegistryRoot() string }); ok {
			spec.RegistryRoot = rooted.RegistryRoot()
		}

		handle, err := c.spawner.Spawn(ctx, spec)
		if err != nil {
			return err
		}
		c.tasks.Track(handle)

		if c.metrics != nil {
			c.metrics.GetRegistrationsLaunchedCounter().Inc()
		}

		c.log.Info("Launched registration task \"%s\" for model \"%s\" with logger destination \"%s\".",
			handle.ID(), c.opts.RegisteredModelName, registryLogger.DestinationName())
	}

	return nil
}
