package storage

import (
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/scusemua/distributed-checkpointer/common/metrics"
)

const DefaultConcurrentUploads = 4

// Uploader drives a Provider with a bounded number of concurrent uploads and
// publishes transfer metrics. It is the checkpointer's remote-upload
// sub-collaborator; only the coordinator rank ever holds one.
type Uploader struct {
	logger *zap.Logger

	provider Provider
	sem      *semaphore.Weighted
	metrics  *metrics.CheckpointMetrics
}

// NewUploader wraps the given provider. checkpointMetrics may be nil, in
// which case no metrics are published.
func NewUploader(provider Provider, checkpointMetrics *metrics.CheckpointMetrics) *Uploader {
	logger, _ := zap.NewDevelopment()

	return &Uploader{
		logger:   logger,
		provider: provider,
		sem:      semaphore.NewWeighted(DefaultConcurrentUploads),
		metrics:  checkpointMetrics,
	}
}

// SetConcurrencyLimit replaces the concurrent-upload bound. Not safe to call
// while uploads are in flight.
func (u *Uploader) SetConcurrencyLimit(n int64) {
	u.sem = semaphore.NewWeighted(n)
}

// Init connects the underlying provider.
func (u *Uploader) Init() error {
	return u.provider.Connect()
}

// Close releases the underlying provider's connection.
func (u *Uploader) Close() error {
	return u.provider.Close()
}

// RemoteURI returns the full URI of a remote path on the wrapped backend.
func (u *Uploader) RemoteURI(remotePath string) string {
	return u.provider.RemoteURI(remotePath)
}

// UploadFile transfers one file, respecting the concurrency bound.
func (u *Uploader) UploadFile(ctx context.Context, localPath string, remotePath string, overwrite bool) error {
	if err := u.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer u.sem.Release(1)

	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	if err = u.provider.UploadFile(ctx, localPath, remotePath, overwrite); err != nil {
		return err
	}

	if u.metrics != nil {
		u.metrics.FilesUploadedCounter.Inc()
		u.metrics.UploadedBytesCounter.Add(float64(info.Size()))
	}
	return nil
}

// UploadDir transfers every regular file directly inside localDir to
// remotePrefix, naming each remote file by joining the prefix with the local
// filename. Uploads run concurrently up to the configured bound; the first
// error cancels the remainder and is returned unmodified. No retries.
func (u *Uploader) UploadDir(ctx context.Context, localDir string, remotePrefix string, overwrite bool) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		localPath := filepath.Join(localDir, entry.Name())
		remotePath := path.Join(remotePrefix, entry.Name())

		u.logger.Info("Uploading checkpoint file to remote storage.",
			zap.String("file", localPath),
			zap.String("remote_uri", u.provider.RemoteURI(remotePath)))

		group.Go(func() error {
			return u.UploadFile(groupCtx, localPath, remotePath, overwrite)
		})
	}

	return group.Wait()
}
