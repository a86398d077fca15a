// Package main runs the dissertation-council voting HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/areopag-vote/backend/config"
	"github.com/areopag-vote/backend/internal/auth"
	"github.com/areopag-vote/backend/internal/ballots"
	"github.com/areopag-vote/backend/internal/delivery"
	"github.com/areopag-vote/backend/internal/middleware"
	"github.com/areopag-vote/backend/internal/models"
	"github.com/areopag-vote/backend/internal/polls"
	"github.com/areopag-vote/backend/internal/results"
	"github.com/areopag-vote/backend/internal/voters"
	"github.com/areopag-vote/backend/pkg/database"
	"github.com/areopag-vote/backend/pkg/mailer"
	"github.com/areopag-vote/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis is optional: without it the activity summary is uncached and
	// dispatch runs unlocked on this single node.
	var locker delivery.Locker
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis disabled", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
		locker = delivery.NewRedisLocker(rdb.Client)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	transport := mailer.NewSMTP(mailer.Config{
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		Username:    cfg.Email.SMTPUser,
		Password:    cfg.Email.SMTPPass,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Voters
	voterRepo := voters.NewRepository(pool)
	voterHandler := voters.NewHandler(voterRepo, logger)

	// Delivery (entitlement ledger dispatch)
	deliveryRepo := delivery.NewRepository(pool)
	dispatcher := delivery.NewDispatcher(deliveryRepo, transport, locker, cfg.Link.BaseURL, logger)
	deliveryHandler := delivery.NewHandler(deliveryRepo, cfg.Link.BaseURL)

	// Polls
	pollRepo := polls.NewRepository(pool)
	var cacheClient *goredis.Client
	if rdb != nil {
		cacheClient = rdb.Client
	}
	pollHandler := polls.NewHandler(pollRepo, dispatcher, cacheClient, logger)

	// Ballots (issuance + redemption)
	ballotRepo := ballots.NewRepository(pool)
	ballotService := ballots.NewService(ballotRepo)
	ballotHandler := ballots.NewHandler(ballotService, pollRepo, cfg.Link.BaseURL, logger)

	// Results
	resultRepo := results.NewRepository(pool)
	resultHandler := results.NewHandler(resultRepo, pollRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Public voter-facing surface
	router.GET("/", pollHandler.Activity)
	router.GET("/get_bulletin/:token", ballotHandler.GetBulletin)
	router.GET("/vote/:poll/:key", ballotHandler.Vote)
	router.POST("/vote/:poll/:key", ballotHandler.Vote)

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Secretary API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole(string(models.RoleSuperuser)), authHandler.List)

		api.GET("/voters", voterHandler.List)
		api.POST("/voters", voterHandler.Create)
		api.GET("/voters/:id", voterHandler.Get)
		api.PATCH("/voters/:id", voterHandler.Update)
		api.DELETE("/voters/:id", voterHandler.Delete)

		api.GET("/polls", pollHandler.List)
		api.POST("/polls", pollHandler.Create)
		api.GET("/polls/:id", pollHandler.GetByID)
		api.PATCH("/polls/:id", pollHandler.Update)
		api.DELETE("/polls/:id", middleware.RequireRole(string(models.RoleSuperuser)), pollHandler.Delete)

		api.POST("/polls/:id/start", pollHandler.Start)
		api.POST("/polls/:id/finish", pollHandler.Finish)
		api.POST("/polls/:id/duplicate", pollHandler.Duplicate)
		api.POST("/polls/:id/dispatch", pollHandler.Dispatch)
		api.GET("/polls/:id/print", ballotHandler.Print)
		api.GET("/polls/:id/entitlements", deliveryHandler.ListByPoll)
		api.GET("/polls/:id/results", resultHandler.GetByPoll)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
