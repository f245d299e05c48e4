package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Armour007/grc-assistant/internal/store"
	"github.com/Armour007/grc-assistant/internal/utils"
)

// GetProfile mirrors GET /api/auth/me for the profile page.
func (s *Server) GetProfile(c *gin.Context) {
	s.GetMe(c)
}

// UpdateProfile lets a user change their own name and password.
func (s *Server) UpdateProfile(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
		return
	}
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	var name, hash *string
	if n := strings.TrimSpace(req.Name); n != "" {
		name = &n
	}
	if req.Password != "" {
		h, err := utils.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to update profile"})
			return
		}
		hash = &h
	}
	if name == nil && hash == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No update data provided"})
		return
	}

	user, err := s.store.UpdateProfile(c.Request.Context(), uid, name, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
			return
		}
		s.log.Error("updating profile failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, user)
}
