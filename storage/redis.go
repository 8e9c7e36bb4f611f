package storage

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/net/context"
)

const (
	filePrefix string = "__file__"
)

// RedisProvider implements the Provider API for redis.
type RedisProvider struct {
	*baseProvider

	address       string
	databaseIndex int
	password      string

	redisClient *redis.Client
}

func NewRedisProvider(address string) *RedisProvider {
	if address == "" {
		address = "localhost:6379"
	}

	return &RedisProvider{
		baseProvider:  newBaseProvider("Redis"),
		address:       address,
		databaseIndex: 0,
		password:      "",
	}
}

func (p *RedisProvider) Close() error {
	if p.redisClient == nil {
		return nil
	}

	return p.redisClient.Close()
}

// SetDatabase sets the database number to use when connecting to Redis.
//
// If the RedisProvider is already connected to Redis, then changing the database number will not have an effect
// unless the RedisProvider reconnects to Redis.
func (p *RedisProvider) SetDatabase(db int) {
	p.databaseIndex = db
}

// SetRedisPassword sets the password to use when connecting to Redis.
//
// If the RedisProvider is already connected to Redis, then changing the password will not have an effect
// unless the RedisProvider attempts to reconnect to Redis.
func (p *RedisProvider) SetRedisPassword(password string) {
	p.password = password
}

func (p *RedisProvider) Connect() error {
	p.status = Connecting

	p.redisClient = redis.NewClient(&redis.Options{
		Addr:     p.address,
		Password: p.password,      // no password set
		DB:       p.databaseIndex, // use default DB
	})

	p.status = Connected

	return nil
}

func (p *RedisProvider) RemoteURI(remotePath string) string {
	return fmt.Sprintf("redis://%s/%s", p.address, remotePath)
}

// UploadFile copies one local checkpoint file into Redis under a
// file-prefixed key.
func (p *RedisProvider) UploadFile(ctx context.Context, localPath string, remotePath string, overwrite bool) error {
	startTime := time.Now()
	key := filePrefix + remotePath

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	if overwrite {
		err = p.redisClient.Set(ctx, key, data, 0).Err()
	} else {
		var stored bool
		stored, err = p.redisClient.SetNX(ctx, key, data, 0).Result()
		if err == nil && !stored {
			p.logger.Error("Remote file already exists and overwriting is disabled.",
				zap.String("key", key), zap.String("address", p.address))
			return errors.Wrapf(ErrFileExists, "redis://%s/%s", p.address, remotePath)
		}
	}

	if err != nil {
		p.logger.Error("Error while writing local file to Redis.",
			zap.String("path", localPath), zap.String("key", key),
			zap.String("address", p.address), zap.Error(err))
		return err
	}

	p.logger.Debug("Successfully copied local file to Redis.",
		zap.String("file", localPath),
		zap.String("key", key),
		zap.String("address", p.address),
		zap.Int("num_bytes", len(data)),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}
