package sink

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/internal/logger"
)

// DefaultKeyPrefix roots every counter hash
const DefaultKeyPrefix = "h4:frames"

// Counter is the part of a redis client the recorder uses
type Counter interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

var _ Counter = (*redis.Client)(nil)

// RedisRecorderConfig configures a RedisRecorder
type RedisRecorderConfig struct {
	KeyPrefix string
	TTL       time.Duration // Refreshed on every frame; 0 keeps keys forever
	Timeout   time.Duration // Per-frame command deadline
}

// DefaultRedisRecorderConfig returns the default key layout
func DefaultRedisRecorderConfig() RedisRecorderConfig {
	return RedisRecorderConfig{
		KeyPrefix: DefaultKeyPrefix,
		TTL:       24 * time.Hour,
		Timeout:   time.Second,
	}
}

// RedisRecorder counts frames per channel and type in a hash
// <prefix>:<channel> with one field per packet type plus "bytes"
type RedisRecorder struct {
	client Counter
	config RedisRecorderConfig
	logger logger.Logger

	failures atomic.Uint64
}

// NewRedisRecorder creates a recorder on client
func NewRedisRecorder(client Counter, config RedisRecorderConfig, log logger.Logger) *RedisRecorder {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Second
	}
	return &RedisRecorder{
		client: client,
		config: config,
		logger: log,
	}
}

// Key returns the hash holding a channel's counters
func (r *RedisRecorder) Key(channelID string) string {
	return r.config.KeyPrefix + ":" + channelID
}

// OnFrame implements channel.Subscriber
func (r *RedisRecorder) OnFrame(frame channel.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	defer cancel()

	key := r.Key(frame.Channel)
	field := strings.ToLower(frame.Type.String())

	if err := r.client.HIncrBy(ctx, key, field, 1).Err(); err != nil {
		r.fail(err)
		return
	}
	if err := r.client.HIncrBy(ctx, key, "bytes", int64(len(frame.Data))).Err(); err != nil {
		r.fail(err)
		return
	}
	if r.config.TTL > 0 {
		if err := r.client.Expire(ctx, key, r.config.TTL).Err(); err != nil {
			r.fail(err)
		}
	}
}

func (r *RedisRecorder) fail(err error) {
	if r.failures.Add(1) == 1 {
		r.logger.Warn("Redis recorder: %v", err)
	}
}

// GetFailures returns failed commands
func (r *RedisRecorder) GetFailures() uint64 {
	return r.failures.Load()
}
