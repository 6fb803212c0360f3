package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bizchat-platform/internal/audit"
	"bizchat-platform/internal/auth"
	"bizchat-platform/internal/booking"
	"bizchat-platform/internal/channel"
	"bizchat-platform/internal/config"
	"bizchat-platform/internal/conversations"
	"bizchat-platform/internal/httpapi"
	"bizchat-platform/internal/notify"
	"bizchat-platform/internal/rbac"
	"bizchat-platform/internal/webhook"
	"bizchat-platform/pkg/utils"
)

type routeDeps struct {
	cfg           config.Config
	db            *sql.DB
	authManager   *auth.Manager
	apiKeys       auth.KeyRepository
	integrations  webhook.IntegrationRepository
	auditSvc      *audit.Service
	conversations *conversations.Service
	orchestrator  *channel.Orchestrator
	bookings      *booking.Service
	rules         notify.RuleRepository
	attempts      notify.AttemptRepository
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Auth:     deps.authManager,
		Channel:  deps.orchestrator,
		Bookings: deps.bookings,
		Rules:    deps.rules,
		Attempts: deps.attempts,
		Audit:    deps.auditSvc,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Inbound webhooks (public; authenticated per-request by shared secrets).
	crm := webhook.CRMHandler{
		Integrations: deps.integrations,
		Bookings:     deps.bookings,
		Audit:        deps.auditSvc,
	}
	callback := webhook.MessageCallbackHandler{
		Conversations: deps.conversations,
		Token:         deps.cfg.SessionHost.CallbackToken,
	}
	r.POST("/webhooks/crm/:integration_id", crm.HandleEvent)
	r.POST("/webhooks/channel/messages", callback.HandleMessage)

	// CRM surface: API-key scoped, one assistant per key.
	crmAPI := r.Group("/v1/crm", auth.RequireAPIKey(deps.apiKeys))
	{
		crmAPI.POST("/bookings", h.CreateBooking)
		crmAPI.GET("/bookings", h.ListBookings)
		crmAPI.GET("/bookings/:booking_id", h.GetBooking)
		crmAPI.PATCH("/bookings/:booking_id", h.UpdateBooking)
		crmAPI.POST("/bookings/:booking_id/status", h.UpdateBookingStatus)
		crmAPI.GET("/attempts", h.ListAttempts)
	}

	// Dashboard surface: JWT users managing their assistant.
	v1 := r.Group("/v1")
	{
		v1.POST("/auth/login", h.Login)

		dash := v1.Group("", auth.RequireAccessToken(deps.authManager), rbac.RequireAssistant())
		{
			dash.GET("/me", func(c *gin.Context) {
				uid, _ := auth.UserID(c.Request.Context())
				aid, _ := auth.AssistantID(c.Request.Context())
				role, _ := auth.Role(c.Request.Context())
				c.JSON(http.StatusOK, gin.H{"user_id": uid, "assistant_id": aid, "role": role})
			})

			// Channel pairing is owner-only: it holds the tenant's sole
			// messaging credential.
			pairing := dash.Group("/channel", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
			{
				pairing.POST("/init", h.InitChannel)
				pairing.GET("/status", h.ChannelStatus)
				pairing.POST("/disconnect", h.DisconnectChannel)
			}

			bookings := dash.Group("/bookings", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin))
			{
				bookings.POST("", h.CreateBooking)
				bookings.GET("", h.ListBookings)
				bookings.GET("/:booking_id", h.GetBooking)
				bookings.PATCH("/:booking_id", h.UpdateBooking)
				bookings.POST("/:booking_id/status", h.UpdateBookingStatus)
			}

			rules := dash.Group("/rules", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
			{
				rules.POST("", h.CreateRule)
				rules.GET("", h.ListRules)
				rules.GET("/:rule_id", h.GetRule)
				rules.PATCH("/:rule_id", h.SetRuleActive)
				rules.DELETE("/:rule_id", h.DeleteRule)
			}

			dash.GET("/attempts", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin), h.ListAttempts)
		}
	}
}
