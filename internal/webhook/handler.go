package webhook

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bizchat-platform/internal/audit"
	"bizchat-platform/internal/booking"
	"bizchat-platform/internal/conversations"
	"bizchat-platform/pkg/logger"
)

// Upstreams disagree on which header carries the shared secret, so both are
// checked and either match authenticates the request.
const (
	secretHeader    = "X-Webhook-Secret"
	signatureHeader = "X-Signature"
	callbackHeader  = "X-Callback-Token"
)

// CRMHandler ingests booking events pushed by external CRMs.
//
// No business logic here: parse, authenticate against the integration's
// secret, delegate to the booking service, audit.
type CRMHandler struct {
	Integrations IntegrationRepository
	Bookings     *booking.Service
	Audit        *audit.Service
}

type crmEventRequest struct {
	Action    string          `json:"action"`
	BookingID string          `json:"booking_id"`
	Status    string          `json:"status"`
	Booking   *crmBookingBody `json:"booking"`
}

type crmBookingBody struct {
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	ServiceType   string    `json:"service_type"`
	Price         float64   `json:"price"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
}

func (h CRMHandler) HandleEvent(c *gin.Context) {
	log := logger.FromGin(c)

	integration, err := h.Integrations.Get(c.Request.Context(), c.Param("integration_id"))
	if err != nil {
		if errors.Is(err, ErrIntegrationNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown integration"})
			return
		}
		log.Error("integration lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !integration.Active() || !secretMatches(c, integration.Secret) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	var req crmEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	assistantID := integration.AssistantID

	switch req.Action {
	case "booking_created":
		if req.Booking == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "booking required"})
			return
		}
		b, err := h.Bookings.Create(ctx, assistantID, booking.CreateInput{
			CustomerName:  req.Booking.CustomerName,
			CustomerPhone: req.Booking.CustomerPhone,
			ServiceType:   req.Booking.ServiceType,
			Price:         req.Booking.Price,
			StartsAt:      req.Booking.StartsAt,
			EndsAt:        req.Booking.EndsAt,
		})
		if err != nil {
			writeBookingError(c, err)
			return
		}
		h.logEvent(c, integration, req.Action, b.ID)
		c.JSON(http.StatusCreated, b)

	case "booking_updated":
		if req.BookingID == "" || req.Booking == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "booking_id and booking required"})
			return
		}
		in := booking.UpdateInput{}
		if req.Booking.CustomerName != "" {
			in.CustomerName = &req.Booking.CustomerName
		}
		if req.Booking.ServiceType != "" {
			in.ServiceType = &req.Booking.ServiceType
		}
		if req.Booking.Price != 0 {
			in.Price = &req.Booking.Price
		}
		if !req.Booking.StartsAt.IsZero() {
			in.StartsAt = &req.Booking.StartsAt
		}
		if !req.Booking.EndsAt.IsZero() {
			in.EndsAt = &req.Booking.EndsAt
		}
		b, err := h.Bookings.Update(ctx, assistantID, req.BookingID, in)
		if err != nil {
			writeBookingError(c, err)
			return
		}
		h.logEvent(c, integration, req.Action, b.ID)
		c.JSON(http.StatusOK, b)

	case "status_changed":
		if req.BookingID == "" || req.Status == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "booking_id and status required"})
			return
		}
		b, err := h.Bookings.UpdateStatus(ctx, assistantID, req.BookingID, booking.Status(req.Status))
		if err != nil {
			writeBookingError(c, err)
			return
		}
		h.logEvent(c, integration, req.Action, b.ID)
		c.JSON(http.StatusOK, b)

	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
	}
}

func (h CRMHandler) logEvent(c *gin.Context, integration Integration, action, bookingID string) {
	if h.Audit == nil {
		return
	}
	err := h.Audit.LogWebhook(c.Request.Context(),
		integration.AssistantID, integration.ID, c.ClientIP(), action, "booking_id="+bookingID)
	if err != nil {
		logger.FromGin(c).Warn("webhook audit failed", "err", err)
	}
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

func secretMatches(c *gin.Context, secret string) bool {
	if secret == "" {
		return false
	}
	for _, header := range []string{secretHeader, signatureHeader} {
		got := c.GetHeader(header)
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}

// MessageCallbackHandler receives inbound customer messages pushed by the
// session host and records them into the conversation log, which is what
// opens the contact window.
type MessageCallbackHandler struct {
	Conversations *conversations.Service
	// Token is the shared secret the session host presents.
	Token string
}

type inboundMessageRequest struct {
	AssistantID string `json:"assistant_id"`
	From        string `json:"from"`
	Body        string `json:"body"`
}

func (h MessageCallbackHandler) HandleMessage(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Token == "" || subtle.ConstantTimeCompare([]byte(c.GetHeader(callbackHeader)), []byte(h.Token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var req inboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AssistantID == "" || req.From == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "assistant_id and from required"})
		return
	}

	conv, err := h.Conversations.RecordInbound(c.Request.Context(), req.AssistantID, req.From, req.Body)
	if err != nil {
		if errors.Is(err, conversations.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid message"})
			return
		}
		log.Error("inbound message record failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "record failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}
