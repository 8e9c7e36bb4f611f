package storage

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

// LocalProvider implements the Provider API against the local filesystem.
// It exists for tests and for deployments whose "remote" destination is a
// mounted shared filesystem.
type LocalProvider struct {
	*baseProvider

	rootDir string
}

func NewLocalProvider(rootDir string) *LocalProvider {
	return &LocalProvider{
		baseProvider: newBaseProvider("local filesystem"),
		rootDir:      rootDir,
	}
}

func (p *LocalProvider) Close() error {
	return nil
}

func (p *LocalProvider) Connect() error {
	p.status = Connecting

	if err := os.MkdirAll(p.rootDir, 0o755); err != nil {
		p.logger.Error("Failed to create root directory for local storage.",
			zap.String("root", p.rootDir), zap.Error(err))
		return err
	}

	p.status = Connected
	return nil
}

func (p *LocalProvider) RemoteURI(remotePath string) string {
	return filepath.Join(p.rootDir, remotePath)
}

// UploadFile copies one local checkpoint file beneath the provider's root.
func (p *LocalProvider) UploadFile(_ context.Context, localPath string, remotePath string, overwrite bool) error {
	startTime := time.Now()
	destination := filepath.Join(p.rootDir, remotePath)

	if !overwrite {
		if _, err := os.Stat(destination); err == nil {
			p.logger.Error("Destination file already exists and overwriting is disabled.",
				zap.String("destination", destination))
			return errors.Wrapf(ErrFileExists, "%s", destination)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}

	source, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer target.Close()

	written, err := io.Copy(target, source)
	if err != nil {
		p.logger.Error("Error while copying local file.",
			zap.String("path", localPath), zap.String("destination", destination), zap.Error(err))
		return err
	}

	p.logger.Debug("Successfully copied local file.",
		zap.String("file", localPath),
		zap.String("destination", destination),
		zap.Int64("num_bytes", written),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}
