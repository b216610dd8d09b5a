package forward

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/srg/blehr/pkg/config"
)

// RedisPublisher appends each sample to a capped Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *logrus.Logger
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) (*RedisPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}
	logger.WithFields(logrus.Fields{
		"addr":   cfg.Addr,
		"stream": cfg.Stream,
	}).Info("Connected to redis")

	return &RedisPublisher{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger,
	}, nil
}

func (p *RedisPublisher) Name() string { return "redis" }

// Publish XADDs one entry. Fields are flat strings so stream consumers need no JSON decoding.
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"session":   msg.Session,
			"seq":       strconv.FormatUint(msg.Seq, 10),
			"heartRate": strconv.Itoa(int(msg.HeartRate)),
			"timestamp": msg.Timestamp.UTC().Format(time.RFC3339Nano),
			"zone":      msg.Zone.String(),
			"status":    msg.Status.String(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
