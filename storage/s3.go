package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

// S3Provider implements the Provider API for AWS S3.
type S3Provider struct {
	*baseProvider

	s3Client *s3.Client
	s3Bucket string
}

func NewS3Provider(bucket string) *S3Provider {
	return &S3Provider{
		baseProvider: newBaseProvider("AWS S3"),
		s3Bucket:     bucket,
	}
}

func (p *S3Provider) Close() error {
	return nil
}

func (p *S3Provider) Connect() error {
	p.logger.Debug("Connecting to remote storage",
		zap.String("remote_storage", p.backendName),
		zap.String("bucket", p.s3Bucket))

	p.status = Connecting

	ctx := context.Background()
	sdkConfig, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		p.logger.Error("Failed to load AWS SDK config", zap.Error(err))
		return err
	}

	p.s3Client = s3.NewFromConfig(sdkConfig)

	p.status = Connected

	p.logger.Debug("Successfully connected to remote storage",
		zap.String("remote_storage", p.backendName),
		zap.String("bucket", p.s3Bucket))

	return nil
}

func (p *S3Provider) RemoteURI(remotePath string) string {
	return fmt.Sprintf("s3://%s/%s", p.s3Bucket, remotePath)
}

// UploadFile copies one local checkpoint file to AWS S3.
func (p *S3Provider) UploadFile(ctx context.Context, localPath string, remotePath string, overwrite bool) error {
	startTime := time.Now()

	if !overwrite {
		_, err := p.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(p.s3Bucket),
			Key:    aws.String(remotePath),
		})
		if err == nil {
			p.logger.Error("Remote file already exists and overwriting is disabled.",
				zap.String("key", remotePath), zap.String("bucket", p.s3Bucket))
			return errors.Wrapf(ErrFileExists, "s3://%s/%s", p.s3Bucket, remotePath)
		}

		var notFound *types.NotFound
		if !errors.As(err, &notFound) {
			p.logger.Error("Failed to check whether remote file already exists.",
				zap.String("key", remotePath), zap.String("bucket", p.s3Bucket), zap.Error(err))
			return err
		}
	}

	// Open the local file that we'll be copying.
	local, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.s3Bucket),
		Key:    aws.String(remotePath),
		Body:   local,
	})
	if err != nil {
		p.logger.Error("Error while writing local file to S3.",
			zap.String("path", localPath), zap.String("key", remotePath),
			zap.String("bucket", p.s3Bucket), zap.Error(err))
		return err
	}

	p.logger.Debug("Successfully copied local file to AWS S3.",
		zap.String("file", localPath),
		zap.String("key", remotePath),
		zap.String("bucket", p.s3Bucket),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}
