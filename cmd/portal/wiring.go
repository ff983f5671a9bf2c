package main

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/pharmacy-portal/internal/circuitbreaker"
	"github.com/jogardn/pharmacy-portal/internal/config"
	"github.com/jogardn/pharmacy-portal/internal/events"
	"github.com/jogardn/pharmacy-portal/internal/expiry"
	"github.com/jogardn/pharmacy-portal/internal/ratelimit"
	"github.com/jogardn/pharmacy-portal/internal/store"
)

// closers collects resources to release on exit, in reverse order.
type closers []io.Closer

func (c closers) Close(logger *logrus.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logger.WithError(err).Warn("Failed to close resource")
		}
	}
}

func openGateway(ctx context.Context, cfg *config.Config, logger *logrus.Logger, toClose *closers) (store.Gateway, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("Using in-memory store, data will not survive restarts")
		return store.NewMemory(), nil
	}

	db, err := store.OpenPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	*toClose = append(*toClose, db)
	return store.NewPostgres(db, logger), nil
}

func newPublisher(cfg *config.Config, breakers *circuitbreaker.Manager, logger *logrus.Logger, toClose *closers) events.Publisher {
	if len(cfg.Brokers()) == 0 {
		logger.Warn("No Kafka brokers configured, order events will not be published")
		return events.NopPublisher{Logger: logger}
	}

	producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.EventsTopic, logger)
	if err != nil {
		logger.WithError(err).Warn("Kafka unavailable, order events will not be published")
		return events.NopPublisher{Logger: logger}
	}
	*toClose = append(*toClose, producer)

	breaker := breakers.Breaker(circuitbreaker.OrderEvents)
	return events.NewBreakerPublisher(producer, breaker)
}

func newLimiter(cfg *config.Config, logger *logrus.Logger, toClose *closers) (ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		logger.Warn("No Redis configured, rate limits are per instance")
		return ratelimit.NewMemory(cfg.RateLimitRequests, cfg.RateLimitWindow), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	*toClose = append(*toClose, client)
	return ratelimit.NewRedis(client, cfg.RateLimitRequests, cfg.RateLimitWindow), nil
}

func newSweeper(cfg *config.Config, gateway store.Gateway, publisher events.Publisher, logger *logrus.Logger) *expiry.Sweeper {
	return expiry.NewSweeper(gateway, publisher, expiry.Config{
		OrderTimeout: cfg.SweepOrderTimeout,
		StrictSchema: cfg.SweepStrictSchema,
	}, logger)
}
