package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	database "github.com/Armour007/grc-assistant/internal"
	"github.com/Armour007/grc-assistant/internal/ragchat"
	"github.com/Armour007/grc-assistant/internal/store"
)

const sessionTitleLen = 50

var (
	errSessionNotFound  = errors.New("chat session not found")
	errInvalidSessionID = errors.New("invalid session id")
)

// SendChatMessage stores the user's message, forwards it to the RAG API and
// stores the reply. The writes are sequential, not transactional: the user
// message stays even when the upstream call fails, and a failed reply write
// only gets logged.
func (s *Server) SendChatMessage(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		chatMessagesTotal.WithLabelValues(string(ragchat.KindValidation)).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}
	if s.chat == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Chat service is not properly configured. Please check server environment variables.",
		})
		return
	}

	ctx := c.Request.Context()
	session, err := s.resolveSession(ctx, uid, req)
	switch {
	case errors.Is(err, errInvalidSessionID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id must be a UUID"})
		return
	case errors.Is(err, errSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found"})
		return
	case err != nil:
		s.log.Error("resolving chat session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	if _, err := s.store.AddMessage(ctx, session.ID, database.MessageRoleUser, req.Message); err != nil {
		s.log.Error("storing user message failed", zap.String("sessionID", session.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	resp, err := s.chat.Send(ctx, ragchat.Request{
		Message:        req.Message,
		SessionID:      session.ID.String(),
		IncludeSources: req.IncludeSources,
	})
	if err != nil {
		s.writeChatError(c, err)
		return
	}

	if text := resp.Text(); text != "" {
		if _, err := s.store.AddMessage(ctx, session.ID, database.MessageRoleAssistant, text); err != nil {
			s.log.Warn("storing assistant message failed", zap.String("sessionID", session.ID.String()), zap.Error(err))
		}
	}
	chatMessagesTotal.WithLabelValues("success").Inc()
	resp["session_id"] = session.ID.String()
	c.JSON(http.StatusOK, resp)
}

// resolveSession returns the caller's session, creating it when no id is
// given or when a client-generated id is used for the first time. Ids that
// belong to another user are reported as not found.
func (s *Server) resolveSession(ctx context.Context, uid uuid.UUID, req ChatRequest) (database.ChatSession, error) {
	title := sessionTitle(req)
	if req.SessionID == "" {
		return s.store.CreateSession(ctx, uuid.New(), uid, title)
	}
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		return database.ChatSession{}, errInvalidSessionID
	}

	sess, err := s.store.GetSession(ctx, id, uid)
	if err == nil {
		if err := s.store.TouchSession(ctx, id); err != nil {
			return database.ChatSession{}, err
		}
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return database.ChatSession{}, err
	}

	sess, err = s.store.CreateSession(ctx, id, uid, title)
	if errors.Is(err, store.ErrConflict) {
		return database.ChatSession{}, errSessionNotFound
	}
	return sess, err
}

func sessionTitle(req ChatRequest) string {
	if t := strings.TrimSpace(req.SessionTitle); t != "" {
		return t
	}
	msg := []rune(strings.Join(strings.Fields(req.Message), " "))
	if len(msg) <= sessionTitleLen {
		return string(msg)
	}
	return string(msg[:sessionTitleLen]) + "..."
}

// writeChatError maps a failed chat call onto an HTTP answer.
func (s *Server) writeChatError(c *gin.Context, err error) {
	var cerr *ragchat.Error
	if !errors.As(err, &cerr) {
		s.log.Error("chat request failed", zap.Error(err))
		chatMessagesTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An error occurred while processing your message", "details": err.Error()})
		return
	}
	chatMessagesTotal.WithLabelValues(string(cerr.Kind)).Inc()
	s.log.Warn("chat request failed", zap.String("kind", string(cerr.Kind)), zap.Bool("retryable", cerr.Retryable()), zap.Error(err))

	switch cerr.Kind {
	case ragchat.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": cerr.Message})
	case ragchat.KindAuthFailure:
		c.JSON(http.StatusBadGateway, gin.H{"error": cerr.Message})
	case ragchat.KindTimeout:
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": cerr.Message})
	case ragchat.KindUnreachable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": cerr.Message})
	case ragchat.KindUpstream:
		status := cerr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		var details any
		if len(cerr.Body) > 0 {
			details = cerr.Body
		}
		c.JSON(status, gin.H{"error": cerr.Message, "details": details})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An error occurred while processing your message"})
	}
}

func (s *Server) ListChatSessions(c *gin.Context) {
	uid, _ := currentUserID(c)
	sessions, err := s.store.ListSessions(c.Request.Context(), uid)
	if err != nil {
		s.log.Error("listing chat sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch chat sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) GetChatSession(c *gin.Context) {
	uid, _ := currentUserID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found"})
		return
	}
	ctx := c.Request.Context()
	sess, err := s.store.GetSession(ctx, id, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found"})
			return
		}
		s.log.Error("fetching chat session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch chat session"})
		return
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		s.log.Error("fetching chat messages failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch chat session"})
		return
	}
	c.JSON(http.StatusOK, ChatHistoryResponse{Session: sess, Messages: msgs})
}

func (s *Server) DeleteChatSession(c *gin.Context) {
	uid, _ := currentUserID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found"})
		return
	}
	if err := s.store.DeleteSession(c.Request.Context(), id, uid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found"})
			return
		}
		s.log.Error("deleting chat session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat session"})
		return
	}
	c.Status(http.StatusNoContent)
}
