package checkpointer

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"golang.org/x/net/context"

	"github.com/scusemua/distributed-checkpointer/common/configuration"
	"github.com/scusemua/distributed-checkpointer/common/distributed"
	"github.com/scusemua/distributed-checkpointer/common/metrics"
	"github.com/scusemua/distributed-checkpointer/common/tensor"
	"github.com/scusemua/distributed-checkpointer/common/training"
	"github.com/scusemua/distributed-checkpointer/registry"
	"github.com/scusemua/distributed-checkpointer/storage"
)

const (
	// HuggingFaceFolderPrefix is the folder placed under the save folder that
	// all HuggingFace-formatted checkpoints are written into.
	HuggingFaceFolderPrefix = "huggingface"

	// DefaultDrainTimeout bounds the end-of-training wait for outstanding
	// registration tasks.
	DefaultDrainTimeout = time.Hour

	// DefaultDrainPollInterval is how often outstanding registration tasks
	// are re-checked while draining.
	DefaultDrainPollInterval = 2 * time.Second

	// DefaultAwaitCreationFor bounds how long a spawned registration task
	// waits for registry-side model creation.
	DefaultAwaitCreationFor = time.Hour
)

// Checkpointer is a training-loop callback that periodically gathers the
// sharded model onto the coordinator rank, rehydrates a clean single-device
// copy, and persists it in HuggingFace format, optionally uploading it to
// remote storage and registering the final checkpoint in a model registry.
//
// Every rank runs the same callback; collectives inside keep the group in
// lockstep while only the coordinator rank (rank 0) writes anything.
type Checkpointer struct {
	log logger.Logger

	opts *configuration.CheckpointerOptions

	comm    distributed.Communicator
	spawner registry.Spawner
	metrics *metrics.CheckpointMetrics

	hooks Hooks

	saveInterval  training.Time
	checkInterval *training.IntervalScheduler
	dtype         tensor.DType

	// backend is the destination's storage scheme, or "" when the
	// destination is a plain local path and no uploads are performed.
	backend  string
	savePath string
	remote   *storage.Uploader

	folderTemplate string

	loggingConfig       registry.LoggingConfig
	pretrainedModelName string

	registryLoggers []registry.Logger
	tasks           *registry.TaskTracker
	usingAdapter    bool

	// lastCheckpointBatch suppresses a duplicate save when the interval
	// check and the end-of-training check fire on the same batch.
	lastCheckpointBatch int64

	// tempSaveDir, on the coordinator rank, is the temp directory shared
	// with spawned registration tasks. It is only removed once every task
	// has finished.
	tempSaveDir string

	drainTimeout      time.Duration
	drainPollInterval time.Duration
}

// New builds a checkpointer from its options. The communicator, spawner, and
// metrics are injected collaborators; checkpointMetrics may be nil.
func New(opts *configuration.CheckpointerOptions, comm distributed.Communicator, spawner registry.Spawner,
	checkpointMetrics *metrics.CheckpointMetrics) (*Checkpointer, error) {

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	saveInterval, err := parseSaveInterval(opts.SaveInterval)
	if err != nil {
		return nil, err
	}

	dtype, err := tensor.ParseDType(opts.Precision)
	if err != nil {
		return nil, err
	}

	backend, _, savePath := storage.ParseURI(opts.SaveFolder)

	loggingConfig := registry.LoggingConfig{
		Metadata:     opts.RegistryMetadata,
		Task:         opts.RegistryTask,
		InputExample: opts.RegistryInputExample,
		Signature:    opts.RegistrySignature,
	}
	loggingConfig.ApplyDefaults()

	c := &Checkpointer{
		opts:                opts,
		comm:                comm,
		spawner:             spawner,
		metrics:             checkpointMetrics,
		hooks:               DefaultHooks(),
		saveInterval:        saveInterval,
		checkInterval:       training.NewIntervalScheduler(saveInterval, true),
		dtype:               dtype,
		backend:             backend,
		savePath:            savePath,
		folderTemplate:      path.Join(HuggingFaceFolderPrefix, opts.HuggingFaceFolderName),
		loggingConfig:       loggingConfig,
		pretrainedModelName: loggingConfig.PretrainedModelName(),
		tasks:               registry.NewTaskTracker(),
		lastCheckpointBatch: -1,
		drainTimeout:        DefaultDrainTimeout,
		drainPollInterval:   DefaultDrainPollInterval,
	}
	config.InitLogger(&c.log, c)

	if backend != "" {
		provider, err := storage.NewProviderForURI(opts.SaveFolder)
		if err != nil {
			return nil, err
		}

		c.remote = storage.NewUploader(provider, checkpointMetrics)
		c.remote.SetConcurrencyLimit(int64(opts.NumConcurrentUploads))
	}

	return c, nil
}

// SetHooks overrides individual model-family hooks. Unset fields keep their
// defaults. Must be called before training begins.
func (c *Checkpointer) SetHooks(hooks Hooks) {
	c.hooks = hooks.withDefaults()
}

// SetDrainTimeout overrides how long the end-of-training drain waits for
// outstanding registration tasks.
func (c *Checkpointer) SetDrainTimeout(timeout time.Duration) {
	c.drainTimeout = timeout
}

// SetDrainPollInterval overrides how often the drain re-checks outstanding
// registration tasks.
func (c *Checkpointer) SetDrainPollInterval(interval time.Duration) {
	c.drainPollInterval = interval
}

// Tasks exposes the registration-task tracker.
func (c *Checkpointer) Tasks() *registry.TaskTracker {
	return c.tasks
}

func (c *Checkpointer) String() string {
	return fmt.Sprintf("Checkpointer[Rank=%d,SaveFolder=%s,Interval=%s]",
		c.comm.Rank(), c.opts.SaveFolder, c.saveInterval.String())
}

// RunEvent dispatches a training-loop event. Checkpoint instants are decided
// before event-specific handling so a save triggered by the interval check
// and one triggered by end-of-training cannot double-fire on the same batch.
func (c *Checkpointer) RunEvent(ctx context.Context, event training.Event, state *training.State) error {
	if state.ElapsedDuration() != nil && c.checkInterval.Check(state, event) &&
		c.lastCheckpointBatch != state.Timestamp.Batch {
		return c.saveCheckpoint(ctx, state)
	}

	switch event {
	case training.EventInit:
		return c.initialize(state)
	case training.EventFitEnd:
		return c.drain(ctx)
	default:
		return nil
	}
}

// initialize validates the attached model, connects remote storage, and
// discovers registry-capable logger destinations. Misconfiguration surfaces
// here, before any training time has been spent.
func (c *Checkpointer) initialize(state *training.State) error {
	if state.Model == nil {
		return ErrIncompatibleModel
	}
	if original, _ := state.Model.Unwrap(); original == nil {
		return ErrIncompatibleModel
	}

	c.usingAdapter = state.Model.UsingAdapter()

	if c.remote != nil {
		if err := c.remote.Init(); err != nil {
			return err
		}
	}

	c.registryLoggers = c.registryLoggers[:0]
	for _, destination := range state.Destinations {
		if registryLogger, ok := destination.(registry.Logger); ok {
			c.registryLoggers = append(c.registryLoggers, registryLogger)
		}
	}

	if c.opts.RegisteredModelName != "" && len(c.registryLoggers) == 0 {
		return ErrNoRegistryLogger
	}

	c.log.Debug("Initialized checkpointer: interval=%s, precision=%s, %d registry logger(s), usingAdapter=%v.",
		c.saveInterval.String(), string(c.dtype), len(c.registryLoggers), c.usingAdapter)

	return nil
}

// drain blocks at the end of training until every spawned registration task
// has finished, on every rank, then removes the shared temp directory. The
// liveness of the whole group is re-established on every poll so no rank
// exits while a peer still shares state with a running task.
func (c *Checkpointer) drain(ctx context.Context) error {
	waitStart := time.Now()
	for {
		outstanding := 0
		if c.tasks.Len() > 0 && !c.tasks.AllDone() {
			outstanding = 1
		}

		groupOutstanding, err := c.comm.AllReduceMaxInt(ctx, outstanding)
		if err != nil {
			return err
		}
		if groupOutstanding == 0 {
			break
		}

		if time.Since(waitStart) > c.drainTimeout {
			return fmt.Errorf("%w (waited %s)", ErrDrainTimeout, time.Since(waitStart).Round(time.Second))
		}

		time.Sleep(c.drainPollInterval)
	}

	if c.tempSaveDir != "" {
		if err := os.RemoveAll(c.tempSaveDir); err != nil {
			c.log.Warn("Failed to remove temporary checkpoint directory \"%s\": %v", c.tempSaveDir, err)
		}
		c.tempSaveDir = ""
	}

	return nil
}

// parseSaveInterval accepts either a unit-suffixed time string or a bare
// number, which is interpreted as a count of epochs.
func parseSaveInterval(raw string) (training.Time, error) {
	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		return training.TimeFromInput(value, training.Epoch)
	}
	return training.ParseTime(raw)
}
