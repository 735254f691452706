package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisChannel is the Redis channel name used when none is set.
const DefaultRedisChannel = "tabsession:broadcast"

// RedisConfig configures a Redis channel.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Channel is the Redis pub/sub channel name.
	Channel string

	// Timeout bounds connect and publish calls.
	Timeout time.Duration

	Logger *slog.Logger
}

// Redis is a Channel backed by Redis PUBLISH/SUBSCRIBE.
//
// Redis delivers a published message back to the publisher's own
// subscription, so self-delivery comes for free.
type Redis struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	timeout time.Duration
	logger  *slog.Logger
	subs    subscribers

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var _ Channel = (*Redis)(nil)

// NewRedis connects to Redis and subscribes to the configured channel.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis broadcast: addr is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		PoolSize:     4,
		MaxRetries:   1,
	})

	pingCtx, cancelPing := context.WithTimeout(ctx, cfg.Timeout)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis broadcast: ping %s: %w", cfg.Addr, err)
	}

	pubsub := client.Subscribe(ctx, cfg.Channel)
	// Wait for the subscription confirmation so that messages published
	// right after NewRedis returns are not missed.
	if _, err := pubsub.Receive(pingCtx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("redis broadcast: subscribe %s: %w", cfg.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client:  client,
		pubsub:  pubsub,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		cancel:  cancel,
	}

	r.wg.Add(1)
	go r.receiveLoop(loopCtx)

	r.logger.Info("redis broadcast connected", "addr", cfg.Addr, "channel", cfg.Channel)
	return r, nil
}

// Publish sends msg on the Redis channel.
func (r *Redis) Publish(msg []byte) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis broadcast: publish: %w", err)
	}
	return nil
}

// Subscribe registers fn for messages.
func (r *Redis) Subscribe(fn func(msg []byte)) func() {
	return r.subs.add(fn)
}

// Close unsubscribes and closes the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	err := r.pubsub.Close()
	r.wg.Wait()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (r *Redis) receiveLoop(ctx context.Context) {
	defer r.wg.Done()

	ch := r.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.subs.deliver([]byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}
