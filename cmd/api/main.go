package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gymcoach/internal/config"
	"gymcoach/internal/database"
	"gymcoach/internal/domain/activity"
	"gymcoach/internal/domain/engagement"
	"gymcoach/internal/middleware"
	jwtsvc "gymcoach/internal/pkg/jwt"
	"gymcoach/internal/pkg/logger"
	"gymcoach/internal/pkg/response"
	"gymcoach/internal/rabbitmq"
	"gymcoach/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.WithError(err).Fatal("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Logger.WithError(err).Fatal("failed to connect to database")
	}
	if !config.IsProdLike(cfg.AppEnv) {
		// production schemas are owned by cmd/migrate
		if err := db.AutoMigrate(
			&engagement.Engagement{},
			&engagement.UsageRecord{},
			&engagement.MemberEntitlement{},
			&activity.Entry{},
		); err != nil {
			logger.Logger.WithError(err).Fatal("auto-migrate failed")
		}
	}
	readDB, err := database.SQLX(db)
	if err != nil {
		logger.Logger.WithError(err).Fatal("failed to open read pool")
	}

	hub := realtime.NewHub(middleware.OriginAllowed(cfg.CORSAllowedOrigins))
	sinks := []activity.Sink{hub}
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Logger.WithError(err).Warn("rabbitmq unavailable, activity will not be published")
		} else {
			defer publisher.Close()
			broker := activity.NewAsyncSink(activity.NewPublisherSink(publisher, cfg.AMQPExchange), 1024)
			defer broker.Close()
			sinks = append(sinks, broker)
		}
	}
	activityService := activity.NewService(db, sinks...)

	var entitlements engagement.EntitlementChecker = engagement.AllowAll{}
	if cfg.RequirePremium {
		entitlements = engagement.NewEntitlementChecker(db)
	}

	engagementService := engagement.NewService(
		engagement.NewRepository(db),
		entitlements,
		activityService,
		cfg.Location,
	).WithHistory(engagement.NewHistoryRepository(readDB))

	j := jwtsvc.New(cfg.JWTSecret, cfg.JWTTTL)

	if config.IsProdLike(cfg.AppEnv) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.ErrorLogger(),
		middleware.CORS(cfg.CORSAllowedOrigins),
	)

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws/activity", hub.Handler(j))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(j))
	{
		engagement.RegisterRoutes(v1, engagement.NewHandler(engagementService))
		activity.RegisterRoutes(v1, activity.NewHandler(activityService))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.WithError(err).Error("graceful shutdown failed")
	}
}
