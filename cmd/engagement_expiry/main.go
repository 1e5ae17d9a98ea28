package main

import (
	"context"

	"gymcoach/internal/config"
	"gymcoach/internal/database"
	"gymcoach/internal/domain/activity"
	"gymcoach/internal/domain/engagement"
	"gymcoach/internal/pkg/logger"
	"gymcoach/internal/rabbitmq"
)

// engagement_expiry flips pending and active engagements whose expiry has
// passed to expired. It is meant to run from cron.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.WithError(err).Fatal("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Logger.WithError(err).Fatal("db connect failed")
	}

	var sinks []activity.Sink
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Logger.WithError(err).Warn("rabbitmq unavailable, expiries will not be published")
		} else {
			defer publisher.Close()
			broker := activity.NewAsyncSink(activity.NewPublisherSink(publisher, cfg.AMQPExchange), 1024)
			defer broker.Close()
			sinks = append(sinks, broker)
		}
	}

	svc := engagement.NewService(
		engagement.NewRepository(db),
		engagement.AllowAll{},
		activity.NewService(db, sinks...),
		cfg.Location,
	)

	n, err := svc.ExpireLapsed(context.Background())
	if err != nil {
		logger.Logger.WithError(err).WithField("expired", n).Fatal("engagement expiry failed")
	}
	logger.Logger.WithField("expired", n).Info("engagement expiry completed")
}
