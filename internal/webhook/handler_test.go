package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"bizchat-platform/internal/booking"
	"bizchat-platform/internal/conversations"
	"bizchat-platform/internal/notify"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubNotifier struct {
	events []notify.DomainEvent
}

func (s *stubNotifier) Evaluate(ctx context.Context, ev notify.DomainEvent) ([]notify.DispatchAttempt, error) {
	s.events = append(s.events, ev)
	return nil, nil
}

type crmFixture struct {
	router   *gin.Engine
	bookings *booking.MemoryRepo
	notifier *stubNotifier
}

func newCRMFixture(t *testing.T) crmFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	integrations := NewMemoryIntegrationRepo()
	integrations.Add(Integration{
		ID:          "int-1",
		AssistantID: "a1",
		Secret:      "s3cret",
		CreatedAt:   time.Now(),
	})

	repo := booking.NewMemoryRepo()
	notifier := &stubNotifier{}
	svc := booking.NewService(repo, notifier, nil, testLogger())

	h := CRMHandler{Integrations: integrations, Bookings: svc}
	r := gin.New()
	r.POST("/webhooks/crm/:integration_id", h.HandleEvent)
	return crmFixture{router: r, bookings: repo, notifier: notifier}
}

func postCRM(t *testing.T, f crmFixture, integrationID, secretHeaderName, secret string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/crm/"+integrationID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secretHeaderName != "" {
		req.Header.Set(secretHeaderName, secret)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCRMHandler_CreatesBooking(t *testing.T) {
	f := newCRMFixture(t)

	w := postCRM(t, f, "int-1", "X-Webhook-Secret", "s3cret", map[string]any{
		"action": "booking_created",
		"booking": map[string]any{
			"customer_name":  "Ana",
			"customer_phone": "+15550001",
			"service_type":   "Oil Change",
			"price":          49.9,
			"starts_at":      time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}

	var created booking.Booking
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.AssistantID != "a1" || created.Status != booking.StatusPending {
		t.Fatalf("unexpected booking %+v", created)
	}
}

func TestCRMHandler_StatusChangeTriggersEvaluation(t *testing.T) {
	f := newCRMFixture(t)

	w := postCRM(t, f, "int-1", "X-Webhook-Secret", "s3cret", map[string]any{
		"action": "booking_created",
		"booking": map[string]any{
			"customer_phone": "+15550001",
			"service_type":   "Oil Change",
			"starts_at":      time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		},
	})
	var created booking.Booking
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = postCRM(t, f, "int-1", "X-Signature", "s3cret", map[string]any{
		"action":     "status_changed",
		"booking_id": created.ID,
		"status":     "completed",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	if len(f.notifier.events) != 1 {
		t.Fatalf("expected one evaluated event, got %d", len(f.notifier.events))
	}
	if f.notifier.events[0].Payload["status"] != "completed" {
		t.Fatalf("unexpected event %+v", f.notifier.events[0])
	}
}

func TestCRMHandler_RejectsBadSecret(t *testing.T) {
	f := newCRMFixture(t)

	w := postCRM(t, f, "int-1", "X-Webhook-Secret", "wrong", map[string]any{"action": "booking_created"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = postCRM(t, f, "int-1", "", "", map[string]any{"action": "booking_created"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", w.Code)
	}
}

func TestCRMHandler_EitherSecretHeaderAuthenticates(t *testing.T) {
	f := newCRMFixture(t)

	for _, header := range []string{"X-Webhook-Secret", "X-Signature"} {
		w := postCRM(t, f, "int-1", header, "s3cret", map[string]any{
			"action":     "status_changed",
			"booking_id": "missing",
			"status":     "completed",
		})
		// Authenticated but targeting a missing booking: 404, not 401.
		if w.Code != http.StatusNotFound {
			t.Fatalf("header %s: expected 404, got %d", header, w.Code)
		}
	}
}

func TestCRMHandler_UnknownIntegration(t *testing.T) {
	f := newCRMFixture(t)

	w := postCRM(t, f, "int-nope", "X-Webhook-Secret", "s3cret", map[string]any{"action": "booking_created"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCRMHandler_UnknownAction(t *testing.T) {
	f := newCRMFixture(t)

	w := postCRM(t, f, "int-1", "X-Webhook-Secret", "s3cret", map[string]any{"action": "explode"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestMessageCallback_RecordsInbound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	repo := conversations.NewMemoryRepo()
	h := MessageCallbackHandler{
		Conversations: conversations.NewService(repo),
		Token:         "host-token",
	}
	r := gin.New()
	r.POST("/webhooks/channel/messages", h.HandleMessage)

	body := []byte(`{"assistant_id":"a1","from":"+15550001","body":"hi there"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Callback-Token", "host-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}

	state, err := conversations.NewService(repo).Window(context.Background(), "a1", "+15550001", time.Now())
	if err != nil || state != conversations.WindowOpen {
		t.Fatalf("inbound message must open the window, got %q (%v)", state, err)
	}
}

func TestMessageCallback_RejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := MessageCallbackHandler{
		Conversations: conversations.NewService(conversations.NewMemoryRepo()),
		Token:         "host-token",
	}
	r := gin.New()
	r.POST("/webhooks/channel/messages", h.HandleMessage)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel/messages",
		bytes.NewReader([]byte(`{"assistant_id":"a1","from":"+1","body":"x"}`)))
	req.Header.Set("X-Callback-Token", "nope")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
