package ragchat

import (
	"encoding/json"
	"fmt"
)

// Kind classifies why a chat call failed.
type Kind string

const (
	// KindValidation means the request was rejected before any network call.
	KindValidation Kind = "validation"
	// KindAuthFailure means no access token could be obtained.
	KindAuthFailure Kind = "auth_failure"
	// KindTimeout means the client-side deadline elapsed. Callers may retry.
	KindTimeout Kind = "timeout"
	// KindUpstream means the chat API answered with a non-2xx status.
	KindUpstream Kind = "upstream"
	// KindUnreachable means no response was received at all. Callers may retry.
	KindUnreachable Kind = "unreachable"
)

// Error is returned by Client.Send for every failure.
type Error struct {
	Kind    Kind
	Message string
	// Status and Body are set for KindUpstream only.
	Status int
	Body   json.RawMessage
	Cause  error
}

func (e *Error) Error() string {
	if e.Kind == KindUpstream {
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may reasonably repeat the request.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnreachable
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// upstreamError extracts a message from the downstream body, preferring its
// "error" field, then "message".
func upstreamError(status int, body []byte) *Error {
	e := &Error{Kind: KindUpstream, Status: status, Message: "External API error"}
	if len(body) == 0 {
		return e
	}
	if json.Valid(body) {
		e.Body = json.RawMessage(body)
	} else {
		quoted, _ := json.Marshal(string(body))
		e.Body = json.RawMessage(quoted)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil {
		if s, ok := fields["error"].(string); ok && s != "" {
			e.Message = s
		} else if s, ok := fields["message"].(string); ok && s != "" {
			e.Message = s
		}
	}
	return e
}
