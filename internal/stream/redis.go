package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"labstream/internal/logger"
)

// RedisOptions configure the Redis pub/sub transport.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Codec    Codec
}

func (o RedisOptions) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
}

// Redis receives messages published on a Redis channel. Payloads that fail
// to decompress are logged and skipped.
type Redis struct {
	client  *redis.Client
	channel string
	codec   Codec

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

// NewRedis creates a subscriber. The subscription starts on the first Next.
func NewRedis(opts RedisOptions) *Redis {
	return &Redis{
		client:  opts.client(),
		channel: opts.Channel,
		codec:   opts.Codec,
	}
}

func (r *Redis) subscribe(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	logger.Info("[stream] subscribed to redis channel %s", r.channel)
	return nil
}

// Next returns the next decoded payload.
func (r *Redis) Next(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if r.pubsub == nil {
		if err := r.subscribe(ctx); err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
	}
	pubsub := r.pubsub
	r.mu.Unlock()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, redis.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		payload, err := r.codec.Decode([]byte(msg.Payload))
		if err != nil {
			logger.Warn("[stream] dropping undecodable payload on %s: %v", msg.Channel, err)
			continue
		}
		return payload, nil
	}
}

// Close ends the subscription and the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if r.pubsub != nil {
		err = r.pubsub.Close()
	}
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// Publisher sends encoded messages to a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
	codec   Codec
}

// NewPublisher creates a publisher for opts.Channel.
func NewPublisher(opts RedisOptions) *Publisher {
	return &Publisher{client: opts.client(), channel: opts.Channel, codec: opts.Codec}
}

// Publish encodes and publishes one message, returning the subscriber count.
func (p *Publisher) Publish(ctx context.Context, message []byte) (int64, error) {
	payload, err := p.codec.Encode(message)
	if err != nil {
		return 0, err
	}
	return p.client.Publish(ctx, p.channel, payload).Result()
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
