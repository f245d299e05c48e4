// Package ragchat forwards chat messages to the external RAG API and maps its
// failures onto a small, stable set of error kinds.
package ragchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Armour007/grc-assistant/internal/tokencache"
)

const (
	// DefaultTimeout bounds a single chat call. RAG processing is slow.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 10 << 20
)

// TokenSource provides bearer tokens for the chat API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Config struct {
	APIHost  string
	ChatPath string
	APIKey   string
	Timeout  time.Duration
}

type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	tokens   TokenSource
	http     *http.Client
	log      *zap.Logger
}

// Request is one chat message. IncludeSources defaults to true when nil.
type Request struct {
	Message        string
	SessionID      string
	IncludeSources *bool
}

// Response is the downstream JSON body, field for field.
type Response map[string]any

// Text returns the assistant reply carried in the "response" field.
func (r Response) Text() string {
	s, _ := r["response"].(string)
	return s
}

type upstreamRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"session_id,omitempty"`
	IncludeSources bool   `json:"include_sources"`
}

// NewClient returns a client posting to cfg.APIHost + cfg.ChatPath. A nil
// httpClient selects a client without its own timeout; the per-call deadline
// is always applied through the request context.
func NewClient(cfg Config, tokens TokenSource, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	path := cfg.ChatPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.APIHost, "/") + path,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		tokens:   tokens,
		http:     httpClient,
		log:      log,
	}
}

// Send validates req, obtains a token and posts the message. Every error
// returned is an *Error. Nothing is retried.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, validationError("Message is required")
	}

	start := time.Now()
	resp, err := c.send(ctx, req)
	outcome := "success"
	if err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			outcome = string(cerr.Kind)
		}
	}
	upstreamDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	upstreamTotal.WithLabelValues(outcome).Inc()
	return resp, err
}

func (c *Client) send(ctx context.Context, req Request) (Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, transportError(ctx.Err())
		}
		return nil, &Error{Kind: KindAuthFailure, Message: "Failed to authenticate with chat service", Cause: err}
	}

	include := true
	if req.IncludeSources != nil {
		include = *req.IncludeSources
	}
	payload, err := json.Marshal(upstreamRequest{Message: req.Message, SessionID: req.SessionID, IncludeSources: include})
	if err != nil {
		return nil, validationError("Message could not be encoded")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Message: "Invalid chat service address", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("x-api-key", c.apiKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if httpResp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		uerr := upstreamError(httpResp.StatusCode, body)
		c.log.Warn("chat API returned an error", zap.Int("status", uerr.Status), zap.String("message", uerr.Message))
		return nil, uerr
	}

	out := Response{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		// session_id is merged into the reply, so only a JSON object is accepted.
		msg := "Invalid response from chat service"
		if json.Valid(body) {
			msg = "Chat service returned a non-object response"
		}
		return nil, &Error{Kind: KindUpstream, Status: http.StatusBadGateway, Message: msg, Cause: err}
	}
	if req.SessionID != "" {
		out["session_id"] = req.SessionID
	}
	return out, nil
}

// transportError classifies a failure that produced no HTTP response.
func transportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Message: "Chat request timed out. Please try again.", Cause: err}
	}
	return &Error{Kind: KindUnreachable, Message: "Unable to reach chat service. Please try again later.", Cause: fmt.Errorf("chat request: %w", err)}
}

var _ TokenSource = (*tokencache.Cache)(nil)
