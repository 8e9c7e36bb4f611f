package registry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context"

	"github.com/scusemua/distributed-checkpointer/common/utils/hashmap"
)

var (
	// ErrJoinTimeout indicates a TaskHandle.Join that timed out before the
	// task finished.
	ErrJoinTimeout = errors.New("timed out waiting for registration task")
)

// TaskSpec describes one detached model-registration task: register the
// model saved at ModelURI under Name, in the registry rooted at RegistryRoot.
type TaskSpec struct {
	RegistryRoot     string        `json:"registry_root"`
	RunID            string        `json:"run_id"`
	ModelURI         string        `json:"model_uri"`
	Name             string        `json:"name"`
	AwaitCreationFor time.Duration `json:"await_creation_for"`
}

// TaskHandle tracks one spawned registration task.
type TaskHandle interface {
	// ID identifies the task.
	ID() string

	// IsDone reports whether the task has finished (successfully or not).
	IsDone() bool

	// Join blocks until the task finishes or the timeout elapses, returning
	// ErrJoinTimeout in the latter case. Task-internal failures are isolated
	// to the task's process and are not reported here.
	Join(timeout time.Duration) error
}

// Spawner launches registration tasks. Registration always runs outside the
// training process so registry-client state and memory use never interfere
// with training.
type Spawner interface {
	Spawn(ctx context.Context, spec *TaskSpec) (TaskHandle, error)
}

// ProcessSpawner launches each registration task as a detached child process
// running the registrar binary, handing it the task spec as a JSON file.
type ProcessSpawner struct {
	logger *zap.Logger

	// RegistrarBinary is the path of the registrar executable.
	RegistrarBinary string

	// SpecDir receives the marshalled task-spec files. Defaults to the
	// system temp directory.
	SpecDir string
}

func NewProcessSpawner(registrarBinary string) *ProcessSpawner {
	logger, _ := zap.NewDevelopment()

	return &ProcessSpawner{
		logger:          logger,
		RegistrarBinary: registrarBinary,
		SpecDir:         os.TempDir(),
	}
}

// Spawn starts the registrar process and returns a handle backed by the
// process's exit. The child is intentionally not tied to ctx: once spawned,
// it runs to completion on its own.
func (s *ProcessSpawner) Spawn(_ context.Context, spec *TaskSpec) (TaskHandle, error) {
	taskID := uuid.NewString()

	data, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration task spec: %w", err)
	}

	specPath := filepath.Join(s.SpecDir, fmt.Sprintf("register-task-%s.json", taskID))
	if err = os.WriteFile(specPath, data, 0o644); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.RegistrarBinary, specPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start registrar process: %w", err)
	}

	s.logger.Info("Spawned detached registration task.",
		zap.String("task_id", taskID),
		zap.String("name", spec.Name),
		zap.String("model_uri", spec.ModelURI),
		zap.Int("pid", cmd.Process.Pid))

	handle := &processHandle{
		id:   taskID,
		done: make(chan struct{}),
	}
	go func() {
		handle.err = cmd.Wait()
		_ = os.Remove(specPath)
		close(handle.done)
	}()
	return handle, nil
}

type processHandle struct {
	id   string
	err  error
	done chan struct{}
}

func (h *processHandle) ID() string {
	return h.id
}

func (h *processHandle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *processHandle) Join(timeout time.Duration) error {
	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return errors.Wrapf(ErrJoinTimeout, "task \"%s\"", h.id)
	}
}

// TaskTracker records the registration tasks spawned over the lifetime of
// the process. Tasks accumulate across checkpoints: a temp directory shared
// with any outstanding task must survive until every tracked task finishes.
type TaskTracker struct {
	tasks *hashmap.ConcurrentMap[string, TaskHandle]
}

func NewTaskTracker() *TaskTracker {
	return &TaskTracker{
		tasks: hashmap.NewConcurrentMap[TaskHandle](32),
	}
}

// Track adds a task handle to the tracked set.
func (t *TaskTracker) Track(handle TaskHandle) {
	t.tasks.Store(handle.ID(), handle)
}

// Len returns the number of tracked tasks, finished or not.
func (t *TaskTracker) Len() int {
	return t.tasks.Len()
}

// AllDone reports whether every tracked task has finished.
func (t *TaskTracker) AllDone() bool {
	allDone := true
	t.tasks.Range(func(_ string, handle TaskHandle) bool {
		if !handle.IsDone() {
			allDone = false
			return false
		}
		return true
	})
	return allDone
}
