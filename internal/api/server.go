// Package api wires the HTTP surface of the GRC Assistant backend.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Armour007/grc-assistant/internal/config"
	"github.com/Armour007/grc-assistant/internal/logging"
	"github.com/Armour007/grc-assistant/internal/objectstore"
	"github.com/Armour007/grc-assistant/internal/ragchat"
	"github.com/Armour007/grc-assistant/internal/store"
)

// ChatSender forwards one message to the RAG chat API.
type ChatSender interface {
	Send(ctx context.Context, req ragchat.Request) (ragchat.Response, error)
}

// Options carries the dependencies of a Server. Chat and Redis may be nil.
type Options struct {
	Config  *config.Config
	DB      *sqlx.DB
	Objects objectstore.Store
	Chat    ChatSender
	Redis   *redis.Client
	Logger  *zap.Logger
	Tracing bool
}

type Server struct {
	cfg       *config.Config
	db        *sqlx.DB
	store     *store.Store
	objects   objectstore.Store
	chat      ChatSender
	redis     *redis.Client
	log       *zap.Logger
	jwtSecret []byte
	tracing   bool

	loginLimiter *RateLimiter
	idempotency  *IdempotencyStore
	sso          *ssoProvider
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:       opts.Config,
		db:        opts.DB,
		store:     store.New(opts.DB),
		objects:   opts.Objects,
		chat:      opts.Chat,
		redis:     opts.Redis,
		log:       log,
		jwtSecret: []byte(opts.Config.JWT.Secret),
		tracing:   opts.Tracing,
	}
	s.loginLimiter = NewRateLimiter(opts.Config.LoginRPM, time.Minute, opts.Redis, "rl:login", log)
	s.idempotency = NewIdempotencyStore(opts.Redis, 24*time.Hour, log)
	s.sso = newSSOProvider(opts.Config.SSO)
	return s
}

// Router builds the gin engine with every route and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.tracing {
		r.Use(otelgin.Middleware("grc-assistant-api"))
	}
	r.Use(MetricsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(logging.Middleware(s.log))
	r.Use(cors.New(s.corsConfig()))
	if len(s.cfg.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
			s.log.Warn("failed to set trusted proxies", zap.Error(err))
		}
	}

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "GRC Assistant API is running!") })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/readyz", s.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/register", s.RegisterUser)
		auth.POST("/login", s.loginLimiter.Middleware(), s.LoginUser)
		auth.POST("/callback/credentials", s.loginLimiter.Middleware(), s.LoginUser)
		auth.GET("/me", s.AuthMiddleware(), s.GetMe)
	}

	diAuth := api.Group("/di-auth")
	{
		diAuth.GET("/login", s.SSOLogin)
		diAuth.GET("/callback", s.SSOCallback)
	}

	users := api.Group("/users", s.AuthMiddleware(), AdminMiddleware())
	{
		users.GET("", s.ListUsers)
		users.GET("/:id", s.GetUser)
		users.POST("", s.CreateUser)
		users.PUT("/:id", s.UpdateUser)
		users.DELETE("/:id", s.DeleteUser)
	}

	profile := api.Group("/profile", s.AuthMiddleware())
	{
		profile.GET("", s.GetProfile)
		profile.PUT("", s.UpdateProfile)
	}

	docs := api.Group("/documents", s.AuthMiddleware())
	{
		docs.GET("", s.ListDocuments)
		docs.GET("/:id", s.ViewDocument)
		docs.GET("/:id/view", s.ViewDocument)
		docs.POST("", s.UploadDocuments)
		docs.POST("/upload", s.UploadDocuments)
		docs.DELETE("/:id", s.DeleteDocument)
	}

	chat := api.Group("/chat", s.AuthMiddleware())
	{
		chat.POST("", s.idempotency.Middleware(), s.SendChatMessage)
		chat.GET("/sessions", s.ListChatSessions)
		chat.GET("/sessions/:id", s.GetChatSession)
		chat.DELETE("/sessions/:id", s.DeleteChatSession)
	}

	return r
}

// corsConfig reflects any origin when no frontend origin is configured or
// it is "*", since credentials rule out a literal wildcard.
func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origin := s.cfg.FrontendOrigin
	if origin == "" || origin == "*" {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = []string{origin}
	}
	return cfg
}

// Ready reports whether the database, and Redis when configured, respond.
func (s *Server) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "database unavailable"})
		return
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "redis unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
