// Package main runs the live polling HTTP server with WebSocket rooms and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livepoll/backend/config"
	"github.com/livepoll/backend/internal/archive"
	"github.com/livepoll/backend/internal/auth"
	"github.com/livepoll/backend/internal/middleware"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/internal/realtime"
	"github.com/livepoll/backend/internal/session"
	"github.com/livepoll/backend/pkg/database"
	"github.com/livepoll/backend/pkg/queue"
	"github.com/livepoll/backend/pkg/redis"
	"github.com/livepoll/backend/pkg/response"
	"github.com/livepoll/backend/pkg/storage"
	"github.com/livepoll/backend/pkg/utils"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// Archive database (optional)
	var archiveReader archive.Reader
	if cfg.Database.URL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		archiveReader = archive.NewRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set, poll archive disabled")
	}

	// Redis: broadcast mirror and archive job queue (optional)
	var mirror realtime.Mirror
	var archiver session.Archiver
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		mirror = realtime.NewRedisPubSub(rdb.Client)
		archiver = archive.NewDispatcher(queue.NewQueue(rdb.Client, logger))
	} else {
		logger.Warn("REDIS_ADDR not set, broadcast mirror and archive queue disabled")
	}

	// S3 download links for exported polls (optional)
	var presigner archive.Presigner
	if cfg.AWS.S3Enabled() {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			presigner = s3Client
		}
	}

	// Identity
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	var passcodeHash string
	if cfg.Session.TeacherPasscode != "" {
		passcodeHash, err = utils.HashSecret(cfg.Session.TeacherPasscode)
		if err != nil {
			logger.Fatal("hash teacher passcode", zap.Error(err))
		}
	} else {
		logger.Warn("TEACHER_PASSCODE not set, anyone may join as teacher")
	}
	authHandler := auth.NewHandler(jwtService, passcodeHash, logger)

	// Rooms
	hub := realtime.NewHub(logger, mirror)
	opts := session.Options{
		Policy: polls.Policy{
			MinDuration:     cfg.Session.PollMinDuration,
			MaxDuration:     cfg.Session.PollMaxDuration,
			DefaultDuration: cfg.Session.PollDefaultDuration,
			MaxOptions:      polls.DefaultPolicy().MaxOptions,
			MaxQuestionLen:  polls.DefaultPolicy().MaxQuestionLen,
		},
		ChatLimit:     cfg.Session.ChatHistoryLimit,
		ChatMaxLength: cfg.Session.ChatMaxLength,
		TickInterval:  cfg.Session.TickInterval(),
		EventBuffer:   cfg.Session.EventBuffer,
		Clock:         time.Now,
	}
	roomsCtx, stopRooms := context.WithCancel(context.Background())
	defer stopRooms()
	rooms := session.NewRegistry(roomsCtx, func(roomID string) *session.Coordinator {
		sess := session.NewSession(roomID, session.MemoryStores(), opts)
		return session.NewCoordinator(sess, hub, archiver, opts, logger)
	}, cfg.Session.MaxRooms, logger)
	sessionHandler := session.NewHandler(rooms, cfg.Session.DefaultRoom, logger)
	archiveHandler := archive.NewHandler(archiveReader, presigner, cfg.Session.DefaultRoom, logger)

	origins := middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(origins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodyLimit(cfg.Server.BodyLimitBytes))

	// Health
	health := func(c *gin.Context) { response.OK(c, gin.H{"status": "ok", "rooms": len(rooms.Rooms())}) }
	router.GET("/health", health)
	router.GET("/api/health", health)

	api := router.Group("/api")
	if cfg.Server.RateLimitRequests > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRequests, cfg.Server.RateLimitWindow())
		go limiter.RunCleanup(roomsCtx, time.Minute, cfg.Server.RateLimitWindow())
		api.Use(middleware.RateLimit(limiter))
	}
	api.POST("/identity", authHandler.Issue)

	// Protected API (JWT required)
	authed := api.Group("")
	authed.Use(middleware.JWT(jwtService))
	sessionHandler.Register(api, authed)

	teacherOnly := middleware.RequireRole(models.RoleTeacher)
	authed.GET("/polls/archive", teacherOnly, archiveHandler.List)
	authed.GET("/polls/archive/:id/download", teacherOnly, archiveHandler.Download)
	authed.GET("/attendance", teacherOnly, archiveHandler.Attendance)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, realtime.Config{
		Rooms:        rooms,
		JWT:          jwtService,
		Origins:      origins,
		DefaultRoom:  cfg.Session.DefaultRoom,
		MessageRate:  cfg.Server.WSMessagesPerSec,
		MessageBurst: cfg.Server.WSMessageBurst,
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go hub.RunMirror(roomsCtx)

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
	stopRooms()
	rooms.Wait()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
