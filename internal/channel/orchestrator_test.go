package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// stubHost is a scriptable Host for orchestrator tests.
type stubHost struct {
	mu sync.Mutex

	openFn     func(assistantID, phone string) (HostReport, error)
	statusFn   func(assistantID string) (HostReport, error)
	fallbackFn func(assistantID string) (HostReport, error)

	teardownErr   error
	teardownCalls int
	sent          []string
}

func (h *stubHost) Open(ctx context.Context, assistantID, phone string) (HostReport, error) {
	h.mu.Lock()
	fn := h.openFn
	h.mu.Unlock()
	if fn == nil {
		return HostReport{Status: HostStatusPending}, nil
	}
	return fn(assistantID, phone)
}

func (h *stubHost) Status(ctx context.Context, assistantID string) (HostReport, error) {
	h.mu.Lock()
	fn := h.statusFn
	h.mu.Unlock()
	if fn == nil {
		return HostReport{Status: HostStatusPending}, nil
	}
	return fn(assistantID)
}

func (h *stubHost) StatusFallback(ctx context.Context, assistantID string) (HostReport, error) {
	h.mu.Lock()
	fn := h.fallbackFn
	h.mu.Unlock()
	if fn == nil {
		return HostReport{Status: HostStatusPending}, nil
	}
	return fn(assistantID)
}

func (h *stubHost) Teardown(ctx context.Context, assistantID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownCalls++
	return h.teardownErr
}

func (h *stubHost) SendText(ctx context.Context, assistantID, toPhone, body string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, body)
	return nil
}

func newTestOrchestrator(host Host) (*Orchestrator, *MemorySessionRepo) {
	repo := NewMemorySessionRepo()
	o := NewOrchestrator(repo, host, slog.Default(), OrchestratorOptions{
		PollInterval: 5 * time.Millisecond,
		AttemptTTL:   time.Minute,
	})
	return o, repo
}

func TestInit_TransitionsToAwaitingScanWhenOpenYieldsCode(t *testing.T) {
	host := &stubHost{
		openFn: func(_, _ string) (HostReport, error) {
			return HostReport{Status: HostStatusAwaitingScan, QR: []byte("qr-1")}, nil
		},
	}
	o, repo := newTestOrchestrator(host)
	defer o.Disconnect(context.Background(), "a1")

	v, err := o.Init(context.Background(), "a1", "+15551234567")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if v.Status != StatusAwaitingScan {
		t.Fatalf("expected awaiting_scan, got %q", v.Status)
	}
	if string(v.QR) != "qr-1" {
		t.Fatalf("expected qr in view, got %q", v.QR)
	}

	sess, err := repo.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.PhoneNumber != "+15551234567" {
		t.Fatalf("expected phone persisted")
	}
	if sess.SessionBlob != nil {
		t.Fatalf("blob must be nil before paired")
	}
}

func TestInit_StaysInitializingWhenHostHasNoCodeYet(t *testing.T) {
	host := &stubHost{
		openFn: func(_, _ string) (HostReport, error) {
			return HostReport{Status: HostStatusPending}, nil
		},
	}
	o, _ := newTestOrchestrator(host)
	defer o.Disconnect(context.Background(), "a1")

	v, err := o.Init(context.Background(), "a1", "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if v.Status != StatusInitializing {
		t.Fatalf("expected initializing, got %q", v.Status)
	}
}

func TestInit_SupersedesPriorAttempt(t *testing.T) {
	host := &stubHost{}
	o, _ := newTestOrchestrator(host)
	defer o.Disconnect(context.Background(), "a1")

	if _, err := o.Init(context.Background(), "a1", ""); err != nil {
		t.Fatalf("init 1: %v", err)
	}
	o.mu.Lock()
	first := o.attempts["a1"]
	o.mu.Unlock()
	if first == nil {
		t.Fatalf("expected live attempt after first init")
	}

	if _, err := o.Init(context.Background(), "a1", ""); err != nil {
		t.Fatalf("init 2: %v", err)
	}

	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("first attempt loop did not stop")
	}

	o.mu.Lock()
	second := o.attempts["a1"]
	n := len(o.attempts)
	o.mu.Unlock()
	if second == first {
		t.Fatalf("expected a fresh attempt")
	}
	if n != 1 {
		t.Fatalf("expected exactly one live attempt, got %d", n)
	}
}

func TestDisconnect_AlwaysUnpairsLocally(t *testing.T) {
	host := &stubHost{teardownErr: errors.New("host stuck")}
	o, repo := newTestOrchestrator(host)

	// Seed a paired session.
	if err := repo.Save(context.Background(), ChannelSession{
		AssistantID: "a1",
		Status:      StatusPaired,
		SessionBlob: []byte("blob"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := o.Disconnect(context.Background(), "a1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	sess, err := repo.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != StatusUnpaired {
		t.Fatalf("expected unpaired after disconnect, got %q", sess.Status)
	}
	if sess.SessionBlob != nil {
		t.Fatalf("expected blob cleared")
	}
	if host.teardownCalls != 1 {
		t.Fatalf("expected teardown attempted")
	}
}

func TestDisconnect_WinsOverInFlightStatusQuery(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	host := &stubHost{
		statusFn: func(string) (HostReport, error) {
			close(entered)
			<-release
			return HostReport{Status: HostStatusReady, SessionBlob: []byte(`{"k":"v"}`)}, nil
		},
	}
	repo := NewMemorySessionRepo()
	// Long poll interval keeps the loop off the host; only Status queries it.
	o := NewOrchestrator(repo, host, slog.Default(), OrchestratorOptions{
		PollInterval: time.Hour,
		AttemptTTL:   time.Minute,
	})

	if _, err := o.Init(context.Background(), "a1", ""); err != nil {
		t.Fatalf("init: %v", err)
	}

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		_, _ = o.Status(context.Background(), "a1")
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("status query never reached the host")
	}

	// Disconnect completes while the status query is still blocked in the
	// host round trip; its ready report must not resurrect the session.
	if err := o.Disconnect(context.Background(), "a1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	close(release)

	select {
	case <-statusDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("status call did not return")
	}

	sess, err := repo.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != StatusUnpaired || sess.SessionBlob != nil {
		t.Fatalf("after disconnect session must stay unpaired with nil blob, got %q %q",
			sess.Status, sess.SessionBlob)
	}
}

func TestPairedIsStickyAgainstStaleReports(t *testing.T) {
	host := &stubHost{}
	o, repo := newTestOrchestrator(host)

	att := &pairingAttempt{assistantID: "a1", done: make(chan struct{}), cancel: func() {}}
	o.mu.Lock()
	o.attempts["a1"] = att
	o.mu.Unlock()
	if err := repo.Save(context.Background(), ChannelSession{AssistantID: "a1", Status: StatusAwaitingScan}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if settled := o.applyReport(context.Background(), att, HostReport{Status: HostStatusReady, SessionBlob: []byte("cred")}); !settled {
		t.Fatalf("expected ready report to settle the attempt")
	}

	// A stale fallback response arriving after paired must be discarded.
	if settled := o.applyReport(context.Background(), att, HostReport{Status: HostStatusAwaitingScan, QR: []byte("old")}); !settled {
		t.Fatalf("expected stale report to be discarded as settled")
	}

	sess, err := repo.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != StatusPaired {
		t.Fatalf("expected paired to stick, got %q", sess.Status)
	}
	if string(sess.SessionBlob) != "cred" {
		t.Fatalf("expected credential stored")
	}
}

func TestAttemptExpiryRevertsToUnpaired(t *testing.T) {
	host := &stubHost{} // never produces a code
	repo := NewMemorySessionRepo()
	o := NewOrchestrator(repo, host, slog.Default(), OrchestratorOptions{
		PollInterval: 5 * time.Millisecond,
		AttemptTTL:   20 * time.Millisecond,
	})

	if _, err := o.Init(context.Background(), "a1", ""); err != nil {
		t.Fatalf("init: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := repo.Get(context.Background(), "a1")
		if err == nil && sess.Status == StatusUnpaired {
			if sess.SessionBlob != nil {
				t.Fatalf("expected blob nil after expiry")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("attempt did not expire to unpaired in time")
}

func TestRaceStatus_CodeBeatsNoCodeAndReadyWins(t *testing.T) {
	host := &stubHost{
		statusFn: func(string) (HostReport, error) {
			return HostReport{Status: HostStatusPending}, nil
		},
		fallbackFn: func(string) (HostReport, error) {
			return HostReport{Status: HostStatusAwaitingScan, QR: []byte("qr-fb")}, nil
		},
	}
	o, _ := newTestOrchestrator(host)

	report, ok := o.raceStatus(context.Background(), "a1")
	if !ok {
		t.Fatalf("expected a merged report")
	}
	if !report.HasCode() || string(report.QR) != "qr-fb" {
		t.Fatalf("expected fallback code to win, got %+v", report)
	}

	host.mu.Lock()
	host.statusFn = func(string) (HostReport, error) {
		return HostReport{Status: HostStatusReady, SessionBlob: []byte("cred")}, nil
	}
	host.mu.Unlock()

	report, ok = o.raceStatus(context.Background(), "a1")
	if !ok || report.Status != HostStatusReady {
		t.Fatalf("expected ready to win, got %+v", report)
	}
}

func TestRaceStatus_SwallowsSinglePathFailure(t *testing.T) {
	host := &stubHost{
		statusFn: func(string) (HostReport, error) {
			return HostReport{}, ErrHostUnavailable
		},
		fallbackFn: func(string) (HostReport, error) {
			return HostReport{Status: HostStatusAwaitingScan, QR: []byte("qr")}, nil
		},
	}
	o, _ := newTestOrchestrator(host)

	report, ok := o.raceStatus(context.Background(), "a1")
	if !ok {
		t.Fatalf("expected fallback to cover primary failure")
	}
	if !report.HasCode() {
		t.Fatalf("expected code from fallback")
	}
}

func TestStatus_DetectsProviderDrop(t *testing.T) {
	host := &stubHost{
		statusFn: func(string) (HostReport, error) {
			return HostReport{Status: HostStatusGone}, nil
		},
	}
	o, repo := newTestOrchestrator(host)

	if err := repo.Save(context.Background(), ChannelSession{
		AssistantID: "a1",
		Status:      StatusPaired,
		SessionBlob: []byte("blob"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	v, err := o.Status(context.Background(), "a1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if v.Status != StatusDisconnected {
		t.Fatalf("expected disconnected after drop, got %q", v.Status)
	}
	sess, _ := repo.Get(context.Background(), "a1")
	if sess.SessionBlob != nil {
		t.Fatalf("expected blob cleared on drop")
	}
}

func TestStatus_UnknownAssistantIsUnpaired(t *testing.T) {
	o, _ := newTestOrchestrator(&stubHost{})
	v, err := o.Status(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if v.Status != StatusUnpaired {
		t.Fatalf("expected unpaired, got %q", v.Status)
	}
}
