package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dismissal/internal/auth"
	"dismissal/internal/notice"
)

type registerRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Name     string `json:"name"`
	Role     string `json:"role" binding:"required"`
}

// RegisterDevice records a notification target and issues its feed token.
func (h *Handler) RegisterDevice(c *gin.Context) {
	if h.Feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications not configured"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !auth.ValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": auth.ErrInvalidRole.Error()})
		return
	}

	tok, err := auth.Issue(req.DeviceID, req.Role, h.auth.Issuer, h.auth.SigningKey, h.auth.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	d := notice.Device{ID: req.DeviceID, Name: req.Name, Role: req.Role, RegisteredAt: h.Now()}
	if err := h.Feed.Register(c.Request.Context(), d); err != nil {
		h.Log.Warn("device registration failed", zap.String("device", req.DeviceID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": d, "token": tok.Token, "expires_at": tok.ExpiresAt.Unix()})
}

func (h *Handler) UnregisterDevice(c *gin.Context) {
	if h.Feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications not configured"})
		return
	}
	claims, _ := auth.DeviceFrom(c)
	if err := h.Feed.Unregister(c.Request.Context(), claims.DeviceID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unregister failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RecentNotices returns the most recent notices, newest first.
func (h *Handler) RecentNotices(c *gin.Context) {
	if h.Feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications not configured"})
		return
	}
	list, err := h.Feed.Recent(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notice feed unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": list})
}
