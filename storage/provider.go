package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

const (
	Connected    ConnectionStatus = "CONNECTED"
	Connecting   ConnectionStatus = "CONNECTING"
	Disconnected ConnectionStatus = "DISCONNECTED"
)

var (
	// ErrFileExists indicates an upload target that already exists while
	// overwriting is disabled.
	ErrFileExists = errors.New("remote file already exists and overwrite is disabled")
)

// ConnectionStatus indicates the status of the connection with the remote storage.
type ConnectionStatus string

// Provider is a generic API for transferring checkpoint files to an arbitrary
// remote storage medium, such as AWS S3, Redis, or HDFS.
type Provider interface {
	Connect() error

	Close() error

	// ConnectionStatus returns the current ConnectionStatus of the Provider.
	ConnectionStatus() ConnectionStatus

	// UploadFile copies one local file to the given remote path. When
	// overwrite is false and the remote path already exists, the upload
	// fails with ErrFileExists.
	UploadFile(ctx context.Context, localPath string, remotePath string, overwrite bool) error

	// RemoteURI returns the full URI of a remote path on this backend.
	RemoteURI(remotePath string) string
}

type baseProvider struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	status ConnectionStatus

	backendName string
}

func newBaseProvider(backendName string) *baseProvider {
	provider := &baseProvider{
		backendName: backendName,
		status:      Disconnected,
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "[ERROR] Failed to create Zap Development logger because: %v\n", err)
		return nil
	}
	provider.logger = logger
	provider.sugaredLogger = logger.Sugar()

	return provider
}

// ConnectionStatus returns the current ConnectionStatus of the Provider.
func (p *baseProvider) ConnectionStatus() ConnectionStatus {
	return p.status
}

// ParseURI splits a destination URI into backend, bucket (or address), and
// path. URIs without a recognized scheme are local destinations, reported
// with an empty backend.
func ParseURI(raw string) (backend string, bucket string, path string) {
	for _, scheme := range []string{"s3", "redis", "hdfs"} {
		prefix := scheme + "://"
		if !strings.HasPrefix(raw, prefix) {
			continue
		}

		remainder := strings.TrimPrefix(raw, prefix)
		parts := strings.SplitN(remainder, "/", 2)
		bucket = parts[0]
		if len(parts) == 2 {
			path = parts[1]
		}
		return scheme, bucket, path
	}
	return "", "", raw
}

// NewProviderForURI creates the Provider matching a destination URI's scheme,
// or nil when the destination is local and no remote uploads are required.
func NewProviderForURI(raw string) (Provider, error) {
	backend, bucket, _ := ParseURI(raw)
	switch backend {
	case "":
		return nil, nil
	case "s3":
		return NewS3Provider(bucket), nil
	case "redis":
		return NewRedisProvider(bucket), nil
	case "hdfs":
		return NewHdfsProvider(bucket), nil
	default:
		return nil, fmt.Errorf("unsupported remote storage scheme \"%s\"", backend)
	}
}
