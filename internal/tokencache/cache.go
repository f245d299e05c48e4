// Package tokencache keeps one bearer token for an external API and refreshes
// it through an Issuer when it is missing or about to expire.
//
// A token is served only while now + SafetyBuffer is strictly before its
// expiry. Concurrent callers that find the token expired share a single
// in-flight refresh. A failed refresh leaves the previous state untouched and
// the stale token is never served.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSafetyBuffer treats a token as expired this long before its
	// real expiry so it cannot lapse between the check and its use.
	DefaultSafetyBuffer = 60 * time.Second

	// DefaultExpiresIn is assumed when the issuer does not report a lifetime.
	DefaultExpiresIn = time.Hour

	refreshTimeout = 15 * time.Second
	flightKey      = "token"
)

// ErrAuthFailure is wrapped by every error caused by the issuer rejecting or
// failing a token request.
var ErrAuthFailure = errors.New("failed to authenticate with token issuer")

// Clock supplies the current time. Tests inject a fake to cross expiry
// boundaries without sleeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Grant is the result of one successful token exchange.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Issuer performs one token exchange against an authorization server.
type Issuer interface {
	Issue(ctx context.Context) (Grant, error)
}

// CachedToken is the token currently held by a Cache.
type CachedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	issuer Issuer
	clock  Clock
	buffer time.Duration
	log    *zap.Logger

	mu      sync.Mutex
	current *CachedToken

	group singleflight.Group
}

type Option func(*Cache)

func WithClock(clock Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

func WithSafetyBuffer(d time.Duration) Option {
	return func(c *Cache) { c.buffer = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// New returns an empty cache; the first Token call performs a refresh.
func New(issuer Issuer, opts ...Option) *Cache {
	c := &Cache{
		issuer: issuer,
		clock:  SystemClock,
		buffer: DefaultSafetyBuffer,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid bearer token, refreshing it when necessary. If ctx is
// cancelled while a refresh is in flight the caller is released with the
// context error; the refresh itself completes for the other waiters.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.valid(); ok {
		return tok, nil
	}

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		// A flight that finished just before this one started may already
		// have stored a fresh token.
		if tok, ok := c.valid(); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Current returns a copy of the cached token, if any, regardless of validity.
func (c *Cache) Current() (CachedToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return CachedToken{}, false
	}
	return *c.current, true
}

// Invalidate drops the cached token so the next Token call refreshes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

func (c *Cache) valid() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", false
	}
	if !c.clock.Now().Add(c.buffer).Before(c.current.ExpiresAt) {
		return "", false
	}
	return c.current.Value, true
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	start := c.clock.Now()
	grant, err := c.issuer.Issue(ctx)
	if err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		c.log.Error("token refresh failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	if grant.AccessToken == "" {
		refreshTotal.WithLabelValues("error").Inc()
		c.log.Error("token issuer returned no access token")
		return "", fmt.Errorf("%w: no access token received", ErrAuthFailure)
	}
	expiresIn := grant.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}

	tok := &CachedToken{Value: grant.AccessToken, ExpiresAt: start.Add(expiresIn)}
	c.mu.Lock()
	c.current = tok
	c.mu.Unlock()

	refreshTotal.WithLabelValues("success").Inc()
	c.log.Info("obtained access token", zap.Time("expiresAt", tok.ExpiresAt))
	return tok.Value, nil
}
