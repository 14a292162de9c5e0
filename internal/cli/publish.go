package cli

import (
	"log"
	"time"

	"labstream/internal/config"
	"labstream/internal/logger"
	"labstream/internal/stream"
)

// runPublish feeds a recording into the Redis channel a watcher listens on.
func runPublish(args []string) int {
	fs := newFlagSet("publish")
	var (
		configPath string
		addr       string
		channel    string
		codec      string
		interval   time.Duration
	)
	fs.StringVarP(&configPath, "config", "c", "", "Configuration file path (YAML), optional")
	fs.StringVar(&addr, "addr", "", "Redis address (overrides stream.redis.addr)")
	fs.StringVar(&channel, "channel", "", "Channel (overrides stream.redis.channel)")
	fs.StringVar(&codec, "codec", "", "Payload codec none|gzip|zstd|lz4|lzf (overrides stream.redis.codec)")
	fs.DurationVar(&interval, "interval", 100*time.Millisecond, "Pause between messages")

	if err := parseFlags(fs, args); err != nil {
		return errorToExitCode(err)
	}
	if fs.NArg() != 1 {
		log.Println("Exactly one recording path is required")
		fs.Usage()
		return 2
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return errorToExitCode(err)
		}
		cfg = loaded
	}
	opts := cfg.RedisOptions()
	if addr != "" {
		opts.Addr = addr
	}
	if channel != "" {
		opts.Channel = channel
	}
	if codec != "" {
		parsed, err := stream.ParseCodec(codec)
		if err != nil {
			log.Printf("%v", err)
			return 2
		}
		opts.Codec = parsed
	}

	src, err := stream.OpenFile(fs.Arg(0), interval)
	if err != nil {
		log.Printf("Failed to open recording: %v", err)
		return 1
	}
	defer src.Close()

	publisher := stream.NewPublisher(opts)
	defer publisher.Close()

	ctx, stop := signalContext()
	defer stop()

	sent := 0
	for {
		msg, err := src.Next(ctx)
		if err != nil {
			if err == stream.ErrClosed {
				break
			}
			if ctx.Err() != nil {
				log.Printf("Interrupted after %d messages", sent)
				return 0
			}
			log.Printf("Failed to read recording: %v", err)
			return 1
		}
		receivers, err := publisher.Publish(ctx, msg)
		if err != nil {
			log.Printf("Publish to %s failed after %d messages: %v", opts.Channel, sent, err)
			return 1
		}
		if receivers == 0 {
			logger.Warn("no subscribers on %s", opts.Channel)
		}
		sent++
	}
	log.Printf("📤 Published %d messages to %s on %s (codec=%s)", sent, opts.Channel, opts.Addr, opts.Codec)
	return 0
}
