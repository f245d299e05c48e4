package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/utils"
)

// Context keys set by AuthMiddleware.
const (
	ctxUserID = "userID"
	ctxEmail  = "userEmail"
	ctxRole   = "userRole"
)

// AuthMiddleware accepts the app JWT from "Authorization: Bearer" or, for
// links opened directly in the browser, the ?token= query parameter.
func (s *Server) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if h := c.GetHeader("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			token = strings.TrimSpace(h[7:])
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated: No token provided"})
			return
		}

		claims, err := utils.ParseJWT(s.jwtSecret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: Invalid token"})
			return
		}
		uid, err := uuid.Parse(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: Invalid token"})
			return
		}
		c.Set(ctxUserID, uid)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) == database.RoleAdmin {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: Requires admin privileges"})
	}
}

// currentUserID returns the id stored by AuthMiddleware.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// RequestIDMiddleware ensures every request has an X-Request-ID. If absent, generate one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Set("requestID", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// --- Rate limiting ---

type clientWindow struct {
	count       int
	windowStart time.Time
}

// ipLimiter is a fixed-window counter per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *ipLimiter) allow(ip string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	cw, ok := l.clients[ip]
	if !ok || now.Sub(cw.windowStart) >= l.window {
		l.clients[ip] = &clientWindow{count: 1, windowStart: now}
		l.evict(now)
		return true, 0
	}
	if cw.count < l.limit {
		cw.count++
		return true, 0
	}
	return false, l.window - now.Sub(cw.windowStart)
}

// evict drops expired windows once the map grows. Called with mu held.
func (l *ipLimiter) evict(now time.Time) {
	if len(l.clients) < 1024 {
		return
	}
	for ip, cw := range l.clients {
		if now.Sub(cw.windowStart) >= l.window {
			delete(l.clients, ip)
		}
	}
}

// RateLimiter limits requests per client IP, counting in Redis when a
// client is configured and in memory otherwise or when Redis fails.
type RateLimiter struct {
	limit  int
	window time.Duration
	prefix string
	redis  *redis.Client
	memory *ipLimiter
	log    *zap.Logger
}

func NewRateLimiter(limit int, window time.Duration, rc *redis.Client, prefix string, log *zap.Logger) *RateLimiter {
	if limit <= 0 {
		limit = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		prefix: prefix,
		redis:  rc,
		memory: newIPLimiter(limit, window),
		log:    log,
	}
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if net.ParseIP(ip) == nil {
			ip = "unknown"
		}
		ok, retryAfter := l.allow(c.Request.Context(), ip)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many attempts. Try again later."})
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(ctx context.Context, ip string) (bool, time.Duration) {
	if l.redis == nil {
		return l.memory.allow(ip)
	}
	windowID := time.Now().UnixNano() / int64(l.window)
	key := fmt.Sprintf("%s:%s:%d", l.prefix, ip, windowID)

	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limiter falling back to memory", zap.Error(err))
		return l.memory.allow(ip)
	}
	if int(incr.Val()) > l.limit {
		return false, l.window
	}
	return true, 0
}

// --- Idempotency ---

type captureWriter struct {
	gin.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

type idemRecord struct {
	Status  int       `json:"status"`
	Body    []byte    `json:"body"`
	Expires time.Time `json:"expires"`
}

// pending reports a reservation held by a request that has not finished.
func (r idemRecord) pending() bool { return r.Status == 0 }

type idemState int

const (
	idemReserved idemState = iota
	idemReplay
	idemInFlight
)

// idemLockTTL bounds how long a crashed request can hold a key; it outlives
// the upstream chat timeout.
const idemLockTTL = 2 * time.Minute

// IdempotencyStore replays successful responses for repeated requests that
// carry the same Idempotency-Key, so a client retrying a timed out chat
// message does not store it twice. A key is reserved while its first request
// runs; duplicates arriving meanwhile get 409.
type IdempotencyStore struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time

	mu    sync.Mutex
	local map[string]idemRecord
}

func NewIdempotencyStore(rc *redis.Client, ttl time.Duration, log *zap.Logger) *IdempotencyStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &IdempotencyStore{redis: rc, ttl: ttl, log: log, now: time.Now, local: make(map[string]idemRecord)}
}

// begin replays a recorded response, reports a request still in flight, or
// reserves key for the caller. Redis errors fall back to memory.
func (s *IdempotencyStore) begin(ctx context.Context, key string) (idemRecord, idemState) {
	s.mu.Lock()
	if rec, state, ok := s.lookupLocal(key); ok || s.redis == nil {
		if !ok {
			s.reserveLocal(key)
		}
		s.mu.Unlock()
		return rec, state
	}
	s.mu.Unlock()

	rec, state, err := s.beginRedis(ctx, key)
	if err == nil {
		return rec, state
	}
	s.log.Warn("idempotency falling back to memory", zap.Error(err))

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, state, ok := s.lookupLocal(key); ok {
		return rec, state
	}
	s.reserveLocal(key)
	return idemRecord{}, idemReserved
}

func (s *IdempotencyStore) beginRedis(ctx context.Context, key string) (idemRecord, idemState, error) {
	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	data, err := s.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec idemRecord
		if json.Unmarshal(data, &rec) == nil {
			return rec, idemReplay, nil
		}
	case !errors.Is(err, redis.Nil):
		return idemRecord{}, 0, err
	}
	ok, err := s.redis.SetNX(ctx, key+":lock", "1", idemLockTTL).Result()
	if err != nil {
		return idemRecord{}, 0, err
	}
	if !ok {
		return idemRecord{}, idemInFlight, nil
	}
	return idemRecord{}, idemReserved, nil
}

// lookupLocal is called with mu held; ok is false when key is free.
func (s *IdempotencyStore) lookupLocal(key string) (idemRecord, idemState, bool) {
	rec, ok := s.local[key]
	if !ok {
		return idemRecord{}, idemReserved, false
	}
	if !s.now().Before(rec.Expires) {
		delete(s.local, key)
		return idemRecord{}, idemReserved, false
	}
	if rec.pending() {
		return idemRecord{}, idemInFlight, true
	}
	return rec, idemReplay, true
}

// reserveLocal is called with mu held.
func (s *IdempotencyStore) reserveLocal(key string) {
	now := s.now()
	s.sweep(now)
	s.local[key] = idemRecord{Expires: now.Add(idemLockTTL)}
}

// sweep drops expired records once the map grows. Called with mu held.
func (s *IdempotencyStore) sweep(now time.Time) {
	if len(s.local) < 1024 {
		return
	}
	for k, rec := range s.local {
		if !now.Before(rec.Expires) {
			delete(s.local, k)
		}
	}
}

// finish records rec, when non-nil, and releases the reservation on key.
func (s *IdempotencyStore) finish(key string, rec *idemRecord) {
	stored := false
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		if rec != nil {
			data, err := json.Marshal(idemRecord{Status: rec.Status, Body: rec.Body, Expires: s.now().Add(s.ttl)})
			if err == nil {
				err = s.redis.Set(ctx, key, data, s.ttl).Err()
			}
			if err != nil {
				s.log.Warn("idempotency record kept in memory", zap.Error(err))
			}
			stored = err == nil
		}
		if err := s.redis.Del(ctx, key+":lock").Err(); err != nil {
			s.log.Warn("idempotency lock release failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec != nil && !stored {
		now := s.now()
		s.sweep(now)
		s.local[key] = idemRecord{Status: rec.Status, Body: rec.Body, Expires: now.Add(s.ttl)}
		return
	}
	if cur, ok := s.local[key]; ok && cur.pending() {
		delete(s.local, key)
	}
}

// Middleware must run after AuthMiddleware; keys are scoped per user.
func (s *IdempotencyStore) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("Idempotency-Key")
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		uid, _ := currentUserID(c)
		storageKey := fmt.Sprintf("idem:%s:%s:%s", uid, c.FullPath(), key)

		rec, state := s.begin(c.Request.Context(), storageKey)
		switch state {
		case idemReplay:
			c.Writer.Header().Set("X-Idempotent-Replay", "true")
			c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
			c.Abort()
			return
		case idemInFlight:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "A request with this Idempotency-Key is still in progress"})
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		var done *idemRecord
		defer func() { s.finish(storageKey, done) }()
		c.Next()
		if cw.status >= 200 && cw.status < 300 {
			done = &idemRecord{Status: cw.status, Body: append([]byte(nil), cw.buf.Bytes()...)}
		}
	}
}
