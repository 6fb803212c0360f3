package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPHost talks to the session-host service over HTTP.
//
// Two retrieval paths exist on purpose:
// - primary: POST {primaryURL}/sessions with an action payload
// - fallback: GET {fallbackURL}/sessions/{assistantID} (parameterless status)
// Both return the same response shape.
type HTTPHost struct {
	primaryURL  string
	fallbackURL string
	client      *http.Client
}

type HTTPHostConfig struct {
	PrimaryURL  string
	FallbackURL string
	Timeout     time.Duration
}

func NewHTTPHost(cfg HTTPHostConfig) (*HTTPHost, error) {
	if cfg.PrimaryURL == "" {
		return nil, fmt.Errorf("channel: host primary URL is required")
	}
	fallback := cfg.FallbackURL
	if fallback == "" {
		fallback = cfg.PrimaryURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPHost{
		primaryURL:  strings.TrimRight(cfg.PrimaryURL, "/"),
		fallbackURL: strings.TrimRight(fallback, "/"),
		client:      &http.Client{Timeout: timeout},
	}, nil
}

type hostActionRequest struct {
	AssistantID string `json:"assistant_id"`
	Action      string `json:"action"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type hostSessionResponse struct {
	Status  string          `json:"status"`
	QR      string          `json:"qr,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
	Debug   map[string]any  `json:"debug,omitempty"`
}

type hostSendRequest struct {
	AssistantID string `json:"assistant_id"`
	To          string `json:"to"`
	Body        string `json:"body"`
}

func (h *HTTPHost) Open(ctx context.Context, assistantID, phoneNumber string) (HostReport, error) {
	return h.postAction(ctx, hostActionRequest{AssistantID: assistantID, Action: "init", PhoneNumber: phoneNumber})
}

func (h *HTTPHost) Status(ctx context.Context, assistantID string) (HostReport, error) {
	return h.postAction(ctx, hostActionRequest{AssistantID: assistantID, Action: "status"})
}

func (h *HTTPHost) StatusFallback(ctx context.Context, assistantID string) (HostReport, error) {
	url := fmt.Sprintf("%s/sessions/%s", h.fallbackURL, assistantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HostReport{}, err
	}
	return h.do(req)
}

func (h *HTTPHost) Teardown(ctx context.Context, assistantID string) error {
	_, err := h.postAction(ctx, hostActionRequest{AssistantID: assistantID, Action: "disconnect"})
	return err
}

func (h *HTTPHost) SendText(ctx context.Context, assistantID, toPhone, body string) error {
	payload, err := json.Marshal(hostSendRequest{AssistantID: assistantID, To: toPhone, Body: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.primaryURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: send returned %d", ErrHostUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("channel: host rejected send with %d", resp.StatusCode)
	}
	return nil
}

func (h *HTTPHost) postAction(ctx context.Context, body hostActionRequest) (HostReport, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return HostReport{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.primaryURL+"/sessions", bytes.NewReader(payload))
	if err != nil {
		return HostReport{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func (h *HTTPHost) do(req *http.Request) (HostReport, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return HostReport{}, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return HostReport{}, fmt.Errorf("%w: host returned %d", ErrHostUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return HostReport{}, fmt.Errorf("channel: host returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return HostReport{}, fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	var out hostSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return HostReport{}, fmt.Errorf("channel: invalid host response: %w", err)
	}
	return normalizeHostResponse(out), nil
}

// normalizeHostResponse maps the host's loosely specified status vocabulary
// onto HostStatus. Unknown values degrade to HostStatusUnknown so that poll
// loops keep waiting instead of failing.
func normalizeHostResponse(out hostSessionResponse) HostReport {
	r := HostReport{Debug: out.Debug}
	if out.QR != "" {
		r.QR = []byte(out.QR)
	}
	if len(out.Session) > 0 {
		r.SessionBlob = []byte(out.Session)
	}

	switch strings.ToLower(strings.TrimSpace(out.Status)) {
	case "pending", "initializing", "starting":
		r.Status = HostStatusPending
	case "qr", "awaiting_scan", "scan", "scanning":
		r.Status = HostStatusAwaitingScan
	case "ready", "paired", "connected", "open":
		r.Status = HostStatusReady
	case "disconnected", "closed", "logged_out", "gone":
		r.Status = HostStatusGone
	default:
		r.Status = HostStatusUnknown
	}

	// Some host builds report "pending" while still attaching a code.
	if r.Status == HostStatusPending && r.HasCode() {
		r.Status = HostStatusAwaitingScan
	}
	return r
}
