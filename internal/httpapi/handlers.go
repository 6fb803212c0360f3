package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bizchat-platform/internal/audit"
	"bizchat-platform/internal/auth"
	"bizchat-platform/internal/booking"
	"bizchat-platform/internal/channel"
	"bizchat-platform/internal/notify"
	"bizchat-platform/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Channel  *channel.Orchestrator
	Bookings *booking.Service
	Rules    notify.RuleRepository
	Attempts notify.AttemptRepository
	Audit    *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	AssistantID string `json:"assistant_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AssistantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, assistant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.AssistantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Channel pairing ---

type initChannelRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (h Handlers) InitChannel(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	var req initChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	view, err := h.Channel.Init(c.Request.Context(), assistantID, req.PhoneNumber)
	if err != nil {
		logger.FromGin(c).Error("pairing init failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "pairing init failed"})
		return
	}
	h.logPairing(c, audit.EventTypePairingInit, assistantID, "pairing initiated")
	c.JSON(http.StatusAccepted, view)
}

func (h Handlers) ChannelStatus(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	view, err := h.Channel.Status(c.Request.Context(), assistantID)
	if err != nil {
		logger.FromGin(c).Error("pairing status failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h Handlers) DisconnectChannel(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	if err := h.Channel.Disconnect(c.Request.Context(), assistantID); err != nil {
		logger.FromGin(c).Error("pairing disconnect failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "disconnect failed"})
		return
	}
	h.logPairing(c, audit.EventTypePairingDisconnect, assistantID, "channel disconnected")
	c.JSON(http.StatusOK, gin.H{"status": string(channel.StatusUnpaired)})
}

func (h Handlers) logPairing(c *gin.Context, typ audit.EventType, assistantID, message string) {
	if h.Audit == nil {
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if err := h.Audit.LogPairing(c.Request.Context(), typ, assistantID, userID, role, c.ClientIP(), message); err != nil {
		logger.FromGin(c).Warn("pairing audit failed", "err", err)
	}
}

// --- Bookings ---

func (h Handlers) CreateBooking(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	var in booking.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	b, err := h.Bookings.Create(c.Request.Context(), assistantID, in)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h Handlers) GetBooking(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	b, err := h.Bookings.Get(c.Request.Context(), assistantID, c.Param("booking_id"))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h Handlers) ListBookings(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	var statuses []booking.Status
	if s := c.Query("status"); s != "" {
		status := booking.Status(s)
		if !status.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		statuses = append(statuses, status)
	}
	list, err := h.Bookings.List(c.Request.Context(), assistantID, statuses)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

func (h Handlers) UpdateBooking(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	var in booking.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	b, err := h.Bookings.Update(c.Request.Context(), assistantID, c.Param("booking_id"), in)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h Handlers) UpdateBookingStatus(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	b, err := h.Bookings.UpdateStatus(c.Request.Context(), assistantID, c.Param("booking_id"), booking.Status(req.Status))
	if err != nil {
		writeBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func writeBookingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "booking not found"})
	case errors.Is(err, booking.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid booking"})
	case errors.Is(err, booking.ErrTerminalStatus):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "status is terminal"})
	default:
		logger.FromGin(c).Error("booking operation failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}

// --- Trigger rules ---

type createRuleRequest struct {
	TriggerType     string         `json:"trigger_type"`
	MatchConfig     map[string]any `json:"match_config"`
	MessageTemplate string         `json:"message_template"`
	IsActive        *bool          `json:"is_active"`
}

func (h Handlers) CreateRule(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	triggerType := notify.TriggerType(req.TriggerType)
	if !triggerType.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid trigger_type"})
		return
	}
	if req.MessageTemplate == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message_template required"})
		return
	}

	rule := notify.TriggerRule{
		ID:              uuid.NewString(),
		AssistantID:     assistantID,
		TriggerType:     triggerType,
		IsActive:        true,
		MatchConfig:     req.MatchConfig,
		MessageTemplate: req.MessageTemplate,
		CreatedAt:       time.Now().UTC(),
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := h.Rules.Create(c.Request.Context(), rule); err != nil {
		logger.FromGin(c).Error("rule create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rule create failed"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h Handlers) ListRules(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	rules, err := h.Rules.ListByAssistant(c.Request.Context(), assistantID)
	if err != nil {
		logger.FromGin(c).Error("rule list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rule list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h Handlers) GetRule(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	rule, err := h.Rules.Get(c.Request.Context(), assistantID, c.Param("rule_id"))
	if err != nil {
		writeRuleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

type setRuleActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h Handlers) SetRuleActive(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	var req setRuleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "is_active required"})
		return
	}
	if err := h.Rules.SetActive(c.Request.Context(), assistantID, c.Param("rule_id"), *req.IsActive); err != nil {
		writeRuleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_active": *req.IsActive})
}

func (h Handlers) DeleteRule(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	if err := h.Rules.Delete(c.Request.Context(), assistantID, c.Param("rule_id")); err != nil {
		writeRuleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeRuleError(c *gin.Context, err error) {
	if errors.Is(err, notify.ErrRuleNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	logger.FromGin(c).Error("rule operation failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
}

// --- Dispatch attempts ---

func (h Handlers) ListAttempts(c *gin.Context) {
	assistantID, ok := requireAssistant(c)
	if !ok {
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	attempts, err := h.Attempts.ListByAssistant(c.Request.Context(), assistantID, limit)
	if err != nil {
		logger.FromGin(c).Error("attempt list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "attempt list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func requireAssistant(c *gin.Context) (string, bool) {
	assistantID, err := auth.AssistantID(c.Request.Context())
	if err != nil || assistantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "assistant_id required"})
		return "", false
	}
	return assistantID, true
}
