package stream_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labstream/internal/session"
	"labstream/internal/stream"
)

// redisAddr returns a reachable Redis or skips the test.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("LABSTREAM_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis unavailable at %s (%v)", addr, err)
	}
	return addr
}

func TestRedisPublishFeedsController(t *testing.T) {
	addr := redisAddr(t)
	for _, codec := range []stream.Codec{stream.CodecNone, stream.CodecZstd, stream.CodecLZF} {
		t.Run(string(codec), func(t *testing.T) {
			opts := stream.RedisOptions{Addr: addr, Channel: "labstream:test:" + string(codec), Codec: codec}
			src := stream.NewRedis(opts)
			pub := stream.NewPublisher(opts)
			defer pub.Close()

			ctrl := session.NewController(session.Options{})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- ctrl.Run(ctx, src) }()

			messages := []string{
				`{"current_experiment":"A","updates":{"dev1":{"temp":[[100,1]]}}}`,
				`{"current_experiment":"A","updates":{"dev1":{"temp":[[101,2]]}}}`,
				`{"current_experiment":"B","updates":{"dev2":{"volt":[[200,3]]}}}`,
			}
			require.Eventually(t, func() bool {
				n, err := pub.Publish(ctx, []byte(messages[0]))
				return err == nil && n > 0
			}, 5*time.Second, 50*time.Millisecond, "subscriber never attached")
			for _, msg := range messages[1:] {
				_, err := pub.Publish(ctx, []byte(msg))
				require.NoError(t, err)
			}

			require.Eventually(t, func() bool {
				s := ctrl.Session()
				return s != nil && s.Experiment == "B" && s.Registry.Len() == 1
			}, 5*time.Second, 20*time.Millisecond)

			require.NoError(t, src.Close())
			err := <-done
			assert.True(t, errors.Is(err, session.ErrStreamClosed) || errors.Is(err, context.Canceled), "got %v", err)
			assert.Equal(t, uint64(1), ctrl.Snapshot().Stats.Switches)
		})
	}
}
