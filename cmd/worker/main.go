package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"dismissal/internal/config"
	"dismissal/internal/logging"
	"dismissal/internal/notice"
	"dismissal/internal/queue"
	"dismissal/internal/store"
)

const redisPrefix = "dismissal"

// Worker consumes queued notices, keeps the recent-notice feed and fans each
// notice out to the registered devices.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Production())
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("worker needs the redis queue; QUEUE_BACKEND=memory only works inside the api process")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey, logger.Named("queue"))
	feed := notice.NewFeed(redisClient.Client, redisPrefix, cfg.NoticeFeedSize)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started, waiting for notices")
	for msg := range messages {
		if msg.Kind != notice.MessageKind {
			continue
		}
		n, err := notice.Decode(msg)
		if err != nil {
			logger.Warn("undecodable notice", zap.Error(err))
			continue
		}
		if err := feed.Append(ctx, n); err != nil {
			logger.Warn("notice feed append failed", zap.String("kind", string(n.Kind)), zap.Error(err))
		}
		deliver(ctx, logger, feed, n)
	}
	logger.Info("worker stopped")
}

// deliver hands n to every registered device. Delivery is logged only; devices
// read the feed for anything they missed.
func deliver(ctx context.Context, logger *zap.Logger, feed *notice.Feed, n notice.Notice) {
	devices, err := feed.Devices(ctx)
	if err != nil {
		logger.Warn("list devices failed", zap.Error(err))
		return
	}
	for _, d := range devices {
		logger.Info("notice delivered",
			zap.String("device", d.ID),
			zap.String("role", d.Role),
			zap.String("kind", string(n.Kind)),
			zap.String("level", string(n.Level)),
			zap.String("message", n.Message))
	}
}
