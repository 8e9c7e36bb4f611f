package storage

import (
	"fmt"
	"net"
	"os"
	"path"
	"time"

	"github.com/colinmarc/hdfs/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

const (
	defaultHdfsUsername string = "jovyan"
)

// HdfsProvider implements the Provider API for HDFS.
type HdfsProvider struct {
	*baseProvider

	namenodeAddress string
	hdfsUsername    string
	hdfsClient      *hdfs.Client
}

func NewHdfsProvider(namenodeAddress string) *HdfsProvider {
	return &HdfsProvider{
		baseProvider:    newBaseProvider("HDFS"),
		namenodeAddress: namenodeAddress,
		hdfsUsername:    defaultHdfsUsername,
	}
}

// SetHdfsUsername sets the username to use when connecting to HDFS.
//
// If the HdfsProvider is already connected to HDFS, then changing the username will not have an effect
// unless the HdfsProvider reconnects to HDFS.
func (p *HdfsProvider) SetHdfsUsername(user string) {
	p.hdfsUsername = user
}

func (p *HdfsProvider) Close() error {
	if p.hdfsClient == nil {
		return nil
	}

	return p.hdfsClient.Close()
}

func (p *HdfsProvider) Connect() error {
	p.logger.Debug("Connecting to remote storage",
		zap.String("remote_storage", p.backendName),
		zap.String("namenode", p.namenodeAddress))

	p.status = Connecting

	hdfsClient, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{p.namenodeAddress},
		User:      p.hdfsUsername,
		NamenodeDialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn, err := (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext(ctx, network, address)
			if err != nil {
				p.sugaredLogger.Errorf("Failed to dial HDFS NameNode at address '%s' with network '%s' because: %v", address, network, err)
				return nil, err
			}
			return conn, nil
		},
	})
	if err != nil {
		p.logger.Error("Failed to connect to HDFS.",
			zap.String("namenode", p.namenodeAddress), zap.Error(err))
		return err
	}

	p.hdfsClient = hdfsClient
	p.status = Connected

	return nil
}

func (p *HdfsProvider) RemoteURI(remotePath string) string {
	return fmt.Sprintf("hdfs://%s/%s", p.namenodeAddress, remotePath)
}

// UploadFile copies one local checkpoint file to HDFS.
func (p *HdfsProvider) UploadFile(ctx context.Context, localPath string, remotePath string, overwrite bool) error {
	startTime := time.Now()

	if _, err := p.hdfsClient.Stat(remotePath); err == nil {
		if !overwrite {
			p.logger.Error("Remote file already exists and overwriting is disabled.",
				zap.String("path", remotePath), zap.String("namenode", p.namenodeAddress))
			return errors.Wrapf(ErrFileExists, "hdfs://%s/%s", p.namenodeAddress, remotePath)
		}

		if err = p.hdfsClient.Remove(remotePath); err != nil {
			p.logger.Error("Failed to remove existing remote file prior to overwrite.",
				zap.String("path", remotePath), zap.String("namenode", p.namenodeAddress), zap.Error(err))
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := p.hdfsClient.MkdirAll(path.Dir(remotePath), 0o755); err != nil {
		p.logger.Error("Failed to create parent directories for remote file.",
			zap.String("path", remotePath), zap.String("namenode", p.namenodeAddress), zap.Error(err))
		return err
	}

	if err := p.hdfsClient.CopyToRemote(localPath, remotePath); err != nil {
		p.logger.Error("Error while writing local file to HDFS.",
			zap.String("path", localPath), zap.String("remote_path", remotePath),
			zap.String("namenode", p.namenodeAddress), zap.Error(err))
		return err
	}

	p.logger.Debug("Successfully copied local file to HDFS.",
		zap.String("file", localPath),
		zap.String("remote_path", remotePath),
		zap.String("namenode", p.namenodeAddress),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}
