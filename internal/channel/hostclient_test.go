package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPHost_OpenParsesQRResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req hostActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.AssistantID != "a1" || req.Action != "init" {
			t.Errorf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "qr",
			"qr":     "data:image/png;base64,abc",
		})
	}))
	defer srv.Close()

	h, err := NewHTTPHost(HTTPHostConfig{PrimaryURL: srv.URL})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}

	report, err := h.Open(context.Background(), "a1", "+1555")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if report.Status != HostStatusAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %q", report.Status)
	}
	if !report.HasCode() {
		t.Fatalf("expected qr bytes")
	}
}

func TestHTTPHost_FallbackUsesGetPath(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("primary must not be called")
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/sessions/a1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ready", "session": map[string]any{"cred": "x"}})
	}))
	defer fallback.Close()

	h, err := NewHTTPHost(HTTPHostConfig{PrimaryURL: primary.URL, FallbackURL: fallback.URL})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}

	report, err := h.StatusFallback(context.Background(), "a1")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if report.Status != HostStatusReady {
		t.Fatalf("expected ready, got %q", report.Status)
	}
	if len(report.SessionBlob) == 0 {
		t.Fatalf("expected session blob")
	}
}

func TestHTTPHost_ServerErrorIsHostUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h, _ := NewHTTPHost(HTTPHostConfig{PrimaryURL: srv.URL})
	_, err := h.Status(context.Background(), "a1")
	if !errors.Is(err, ErrHostUnavailable) {
		t.Fatalf("expected ErrHostUnavailable, got %v", err)
	}
}

func TestNormalizeHostResponse_PendingWithCodeBecomesAwaitingScan(t *testing.T) {
	r := normalizeHostResponse(hostSessionResponse{Status: "pending", QR: "abc"})
	if r.Status != HostStatusAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %q", r.Status)
	}
}

func TestNormalizeHostResponse_UnknownStatusDegradesToUnknown(t *testing.T) {
	r := normalizeHostResponse(hostSessionResponse{Status: "weird"})
	if r.Status != HostStatusUnknown {
		t.Fatalf("expected unknown, got %q", r.Status)
	}
}
