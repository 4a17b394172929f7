// pkg/store/redis_store.go

package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/fraudscore/rex/pkg/logging"
)

var ctx = context.Background()

const (
	bytecodeKey   = "rex:bytecode:current"
	reloadChannel = "rex:bytecode:reload"
)

// RedisStore is the BytecodeStore backing used by cmd/fraudruled: one key
// holds the current compiled program, one channel announces new ones.
// Grounded on the teacher's RedisStore, narrowed from many typed facts
// down to the single blob a hot-reloadable engine needs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr/db and verifies the connection with a
// Ping before returning, matching the teacher's fail-fast construction.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	logging.Logger.Info().Str("addr", addr).Int("db", db).Msg("connecting to redis")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, &logging.EngineError{Kind: logging.KindValidation, Message: "redis ping failed", Err: err}
	}

	logging.Logger.Info().Msg("connected to redis")
	return &RedisStore{client: client}, nil
}

// GetBytecode returns the value under bytecodeKey, or (nil, nil) if no
// program has ever been published.
func (s *RedisStore) GetBytecode() ([]byte, error) {
	data, err := s.client.Get(ctx, bytecodeKey).Bytes()
	if err == redis.Nil {
		logging.Logger.Debug().Msg("no bytecode published yet")
		return nil, nil
	}
	if err != nil {
		logging.Logger.Error().Err(err).Msg("failed to read bytecode from redis")
		return nil, err
	}
	return data, nil
}

// PublishBytecode writes data under bytecodeKey and publishes a
// notification on reloadChannel so subscribers refetch it.
func (s *RedisStore) PublishBytecode(data []byte) error {
	if err := s.client.Set(ctx, bytecodeKey, data, 0).Err(); err != nil {
		logging.Logger.Error().Err(err).Msg("failed to write bytecode to redis")
		return err
	}
	if err := s.client.Publish(ctx, reloadChannel, "reload").Err(); err != nil {
		logging.Logger.Error().Err(err).Msg("failed to publish reload notification")
		return err
	}
	logging.Logger.Info().Int("bytes", len(data)).Msg("published bytecode reload")
	return nil
}

// Subscribe opens a pub/sub subscription on reloadChannel.
func (s *RedisStore) Subscribe() *redis.PubSub {
	pubsub := s.client.Subscribe(ctx, reloadChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		logging.Logger.Error().Err(err).Msg("failed to subscribe to reload channel")
		return nil
	}
	logging.Logger.Info().Str("channel", reloadChannel).Msg("subscribed to reload channel")
	return pubsub
}

// ReceiveReload subscribes and returns the raw message channel.
func (s *RedisStore) ReceiveReload() <-chan *redis.Message {
	pubsub := s.Subscribe()
	if pubsub == nil {
		return nil
	}
	return pubsub.Channel()
}
