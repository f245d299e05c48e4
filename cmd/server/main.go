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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/api"
	"github.com/Armour007/grc-assistant/internal/config"
	"github.com/Armour007/grc-assistant/internal/logging"
	"github.com/Armour007/grc-assistant/internal/objectstore"
	"github.com/Armour007/grc-assistant/internal/ragchat"
	"github.com/Armour007/grc-assistant/internal/tokencache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger settings come from the config, so fall back to a default one
		logging.New("info", "json").Fatal("invalid configuration", zap.Error(err))
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Postgres, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	objects, err := objectstore.NewS3(ctx, objectstore.S3Options{
		Endpoint:  cfg.Storage.URL(),
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
	}, log)
	if err != nil {
		log.Fatal("object store setup failed", zap.Error(err))
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatal("object store bucket unavailable", zap.String("bucket", cfg.Storage.Bucket), zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, falling back to in-memory limiter and idempotency", zap.Error(err))
		}
	}

	var chat api.ChatSender
	if cfg.Chat.Configured() {
		issuer := tokencache.NewClientCredentialsIssuer(cfg.Chat.AuthHost, cfg.Chat.ClientID, cfg.Chat.ClientSecret,
			&http.Client{Timeout: 15 * time.Second})
		tokens := tokencache.New(issuer, tokencache.WithLogger(log))
		chat = ragchat.NewClient(ragchat.Config{
			APIHost:  cfg.Chat.APIHost,
			ChatPath: cfg.Chat.ChatPath,
			APIKey:   cfg.Chat.APIKey,
		}, tokens, nil, log)
	} else {
		log.Warn("chat API credentials missing, /api/chat will answer with an error")
	}

	tracing := false
	if cfg.OTelEndpoint != "" {
		shutdown, err := api.SetupOTel(ctx, cfg.OTelEndpoint, "grc-assistant-api")
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			tracing = true
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	server := api.NewServer(api.Options{
		Config:  cfg,
		DB:      db,
		Objects: objects,
		Chat:    chat,
		Redis:   rdb,
		Logger:  log,
		Tracing: tracing,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
