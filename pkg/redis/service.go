package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var ErrKeyNotExist = redis.Nil

// ServiceInterface is the surface the signaling layer needs from Redis:
// key/value with TTL plus pub/sub for realtime push.
type ServiceInterface interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key string, value string, ttl time.Duration) error
	DelValue(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string, handler func(payload string)) (func(), error)
}

// Service is the go-redis backed implementation of ServiceInterface.
type Service struct {
	client *redis.Client
}

// NewService connects to Redis and verifies the connection.
func NewService(config *Config) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Service{client: client}, nil
}

// NewServiceFromClient wraps an existing client. Used by tests with miniredis.
func NewServiceFromClient(client *redis.Client) *Service {
	return &Service{client: client}
}

// GetValue gets a value from Redis by key.
func (r *Service) GetValue(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetValue sets a value in Redis with TTL.
func (r *Service) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DelValue deletes a value from Redis by key.
func (r *Service) DelValue(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Publish publishes a JSON-encoded message to a Redis channel.
func (r *Service) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a Redis channel and dispatches incoming payloads to
// handler on a dedicated goroutine. The returned cancel function closes the
// subscription; it is safe to call more than once.
func (r *Service) Subscribe(ctx context.Context, channel string, handler func(payload string)) (func(), error) {
	pubsub := r.client.Subscribe(ctx, channel)

	// Force the SUBSCRIBE round-trip so a bad connection fails here rather
	// than silently dropping messages later.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			handler(msg.Payload)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

// Close releases the underlying client connection.
func (r *Service) Close() error {
	return r.client.Close()
}
