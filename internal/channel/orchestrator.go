package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrInvalidAssistant = errors.New("channel: assistant_id required")

// Orchestrator drives the client-visible pairing state machine:
//
//	unpaired --Init--> initializing --(code)--> awaiting_scan --(ready)--> paired
//	awaiting_scan --(deadline)--> unpaired
//	paired --(host drop)--> disconnected --Init--> initializing
//	any --Disconnect--> unpaired
//
// It is the only writer of ChannelSession.Status. While an attempt is live it
// polls the host on two paths (primary + fallback) and merges the responses
// into a single compare-and-swap state update: paired is sticky and can only
// be left via Disconnect or a host-reported drop.
type Orchestrator struct {
	sessions SessionRepository
	host     Host
	log      *slog.Logger
	clock    func() time.Time

	pollInterval time.Duration
	attemptTTL   time.Duration

	mu       sync.Mutex
	attempts map[string]*pairingAttempt
}

type OrchestratorOptions struct {
	// PollInterval defaults to 3s.
	PollInterval time.Duration
	// AttemptTTL is the hard cap on a pairing attempt. Defaults to 5m.
	AttemptTTL time.Duration
}

func NewOrchestrator(sessions SessionRepository, host Host, log *slog.Logger, opts OrchestratorOptions) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	attemptTTL := opts.AttemptTTL
	if attemptTTL <= 0 {
		attemptTTL = 5 * time.Minute
	}
	return &Orchestrator{
		sessions:     sessions,
		host:         host,
		log:          log,
		clock:        time.Now,
		pollInterval: pollInterval,
		attemptTTL:   attemptTTL,
		attempts:     map[string]*pairingAttempt{},
	}
}

// pairingAttempt is ephemeral per-assistant pairing state. It never touches
// persistence directly; at most one attempt is live per assistant.
type pairingAttempt struct {
	assistantID string
	startedAt   time.Time
	deadline    time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	mu           sync.Mutex
	qr           []byte
	lastPolledAt time.Time
	// settled flips exactly once, when the attempt reaches paired or expires.
	// Reports arriving after that are discarded.
	settled bool
}

func (a *pairingAttempt) isSettled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled
}

// StatusView is what clients see; qr is only present while a code awaits scanning.
type StatusView struct {
	Status Status         `json:"status"`
	QR     []byte         `json:"qr,omitempty"`
	Debug  map[string]any `json:"debug,omitempty"`
}

// Init starts or restarts pairing. Calling it while an attempt is live cancels
// and supersedes that attempt; it never errors for that reason.
func (o *Orchestrator) Init(ctx context.Context, assistantID, phoneNumber string) (StatusView, error) {
	if assistantID == "" {
		return StatusView{}, ErrInvalidAssistant
	}

	o.cancelAttempt(assistantID)

	now := o.clock().UTC()
	sess, err := o.sessions.Get(ctx, assistantID)
	if errors.Is(err, ErrSessionNotFound) {
		sess = ChannelSession{AssistantID: assistantID, CreatedAt: now}
	} else if err != nil {
		return StatusView{}, err
	}
	if phoneNumber != "" {
		sess.PhoneNumber = phoneNumber
	}
	sess.Status = StatusInitializing
	sess.SessionBlob = nil
	sess.UpdatedAt = now
	if err := o.sessions.Save(ctx, sess); err != nil {
		return StatusView{}, err
	}

	att := &pairingAttempt{
		assistantID: assistantID,
		startedAt:   now,
		deadline:    now.Add(o.attemptTTL),
		done:        make(chan struct{}),
	}
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	att.cancel = cancel

	o.mu.Lock()
	o.attempts[assistantID] = att
	o.mu.Unlock()

	// One open round trip. "No code yet" and transient host failures are both
	// expected here; the poll loop takes over either way.
	if report, err := o.host.Open(ctx, assistantID, sess.PhoneNumber); err != nil {
		o.log.Debug("host open did not yield a report", "assistant_id", assistantID, "err", err)
	} else {
		o.applyReport(pollCtx, att, report)
	}

	go o.pollLoop(pollCtx, att)

	return o.view(ctx, assistantID)
}

// Status returns the current pairing state. It performs a single host round
// trip to advance the state machine when the host reports a change (ready,
// or a drop of a paired session); host failures surface as "still waiting".
func (o *Orchestrator) Status(ctx context.Context, assistantID string) (StatusView, error) {
	if assistantID == "" {
		return StatusView{}, ErrInvalidAssistant
	}

	sess, err := o.sessions.Get(ctx, assistantID)
	if errors.Is(err, ErrSessionNotFound) {
		return StatusView{Status: StatusUnpaired}, nil
	}
	if err != nil {
		return StatusView{}, err
	}

	o.mu.Lock()
	att := o.attempts[assistantID]
	o.mu.Unlock()

	if att != nil && !att.isSettled() {
		if report, err := o.host.Status(ctx, assistantID); err == nil {
			o.applyReport(ctx, att, report)
		} else {
			o.log.Debug("host status query failed", "assistant_id", assistantID, "err", err)
		}
		return o.view(ctx, assistantID)
	}

	if sess.Status == StatusPaired {
		// The provider can silently kill a paired session; mirror the drop.
		if report, err := o.host.Status(ctx, assistantID); err == nil && report.Status == HostStatusGone {
			sess.Status = StatusDisconnected
			sess.SessionBlob = nil
			sess.UpdatedAt = o.clock().UTC()
			if err := o.sessions.Save(ctx, sess); err != nil {
				return StatusView{}, err
			}
		}
	}

	return o.view(ctx, assistantID)
}

// Disconnect tears the session down. Local state always ends up unpaired with
// no credential, even when the host call fails: a stuck host relationship must
// never block the ability to re-pair.
func (o *Orchestrator) Disconnect(ctx context.Context, assistantID string) error {
	if assistantID == "" {
		return ErrInvalidAssistant
	}

	o.cancelAttempt(assistantID)

	if err := o.host.Teardown(ctx, assistantID); err != nil {
		o.log.Warn("host teardown failed; disconnecting locally anyway", "assistant_id", assistantID, "err", err)
	}

	now := o.clock().UTC()
	sess, err := o.sessions.Get(ctx, assistantID)
	if errors.Is(err, ErrSessionNotFound) {
		sess = ChannelSession{AssistantID: assistantID, CreatedAt: now}
	} else if err != nil {
		return err
	}
	sess.Status = StatusUnpaired
	sess.SessionBlob = nil
	sess.UpdatedAt = now
	return o.sessions.Save(ctx, sess)
}

// cancelAttempt stops any live attempt for this assistant and waits for its
// loop to exit, so that no two loops ever poll the host for the same id.
// The attempt is settled before cancelling: a Status call that grabbed the
// attempt pointer earlier and is still blocked in a host round trip must not
// apply its report after the canceller's final write.
func (o *Orchestrator) cancelAttempt(assistantID string) {
	o.mu.Lock()
	att := o.attempts[assistantID]
	delete(o.attempts, assistantID)
	o.mu.Unlock()

	if att != nil {
		att.mu.Lock()
		att.settled = true
		att.qr = nil
		att.mu.Unlock()

		att.cancel()
		<-att.done
	}
}

func (o *Orchestrator) pollLoop(ctx context.Context, att *pairingAttempt) {
	defer close(att.done)
	defer func() {
		o.mu.Lock()
		if o.attempts[att.assistantID] == att {
			delete(o.attempts, att.assistantID)
		}
		o.mu.Unlock()
	}()

	if att.isSettled() {
		return
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Superseded or disconnected; the canceller owns the final state.
			return
		case <-ticker.C:
			now := o.clock().UTC()
			att.mu.Lock()
			att.lastPolledAt = now
			att.mu.Unlock()

			if now.After(att.deadline) {
				o.expire(ctx, att)
				return
			}

			report, ok := o.raceStatus(ctx, att.assistantID)
			if !ok {
				continue // host unreachable this tick; keep waiting
			}
			if o.applyReport(ctx, att, report) {
				return
			}
		}
	}
}

type hostResult struct {
	report HostReport
	err    error
}

// raceStatus queries the primary and fallback retrieval paths concurrently and
// merges them: a ready report wins immediately (remaining responses are
// discarded), and a report carrying a code beats one that does not.
func (o *Orchestrator) raceStatus(ctx context.Context, assistantID string) (HostReport, bool) {
	results := make(chan hostResult, 2)
	go func() {
		r, err := o.host.Status(ctx, assistantID)
		results <- hostResult{r, err}
	}()
	go func() {
		r, err := o.host.StatusFallback(ctx, assistantID)
		results <- hostResult{r, err}
	}()

	var best HostReport
	have := false
	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return best, have
		case res := <-results:
			if res.err != nil {
				o.log.Debug("host status path failed", "assistant_id", assistantID, "err", res.err)
				continue
			}
			if res.report.Status == HostStatusReady {
				return res.report, true
			}
			if !have || (res.report.HasCode() && !best.HasCode()) {
				best = res.report
				have = true
			}
		}
	}
	return best, have
}

// applyReport folds one host report into the attempt and the store. Returns
// true once the attempt is settled. The settled flag makes the transition to
// paired apply exactly once; late or stale reports are no-ops.
func (o *Orchestrator) applyReport(ctx context.Context, att *pairingAttempt, r HostReport) bool {
	att.mu.Lock()
	if att.settled {
		att.mu.Unlock()
		return true
	}

	switch r.Status {
	case HostStatusReady:
		att.settled = true
		att.qr = nil
		att.mu.Unlock()
		o.persistPaired(ctx, att.assistantID, r.SessionBlob)
		return true
	case HostStatusAwaitingScan:
		if r.HasCode() {
			att.qr = r.QR
		}
		att.mu.Unlock()
		o.persistStatus(ctx, att.assistantID, StatusAwaitingScan)
		return false
	default:
		// pending / unknown / gone before first pairing: keep waiting.
		att.mu.Unlock()
		return false
	}
}

func (o *Orchestrator) expire(ctx context.Context, att *pairingAttempt) {
	att.mu.Lock()
	if att.settled {
		att.mu.Unlock()
		return
	}
	att.settled = true
	att.qr = nil
	att.mu.Unlock()

	o.log.Info("pairing attempt expired", "assistant_id", att.assistantID, "started_at", att.startedAt)
	o.persistStatusAndBlob(ctx, att.assistantID, StatusUnpaired, nil)
}

func (o *Orchestrator) persistPaired(ctx context.Context, assistantID string, blob []byte) {
	if len(blob) == 0 {
		// Some host builds report ready without echoing the credential back.
		// Keep a placeholder so the blob<=>paired invariant holds; sends go
		// through the host anyway.
		blob = []byte("{}")
	}
	o.persistStatusAndBlob(ctx, assistantID, StatusPaired, blob)
}

func (o *Orchestrator) persistStatus(ctx context.Context, assistantID string, status Status) {
	o.persistStatusAndBlob(ctx, assistantID, status, nil)
}

func (o *Orchestrator) persistStatusAndBlob(ctx context.Context, assistantID string, status Status, blob []byte) {
	sess, err := o.sessions.Get(ctx, assistantID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		o.log.Error("session load failed", "assistant_id", assistantID, "err", err)
		return
	}
	if errors.Is(err, ErrSessionNotFound) {
		sess = ChannelSession{AssistantID: assistantID, CreatedAt: o.clock().UTC()}
	}

	// Paired is sticky: only Disconnect or a host-reported drop may leave it.
	if sess.Status == StatusPaired && status != StatusPaired {
		return
	}

	sess.Status = status
	sess.SessionBlob = blob
	sess.UpdatedAt = o.clock().UTC()
	if err := o.sessions.Save(ctx, sess); err != nil {
		o.log.Error("session save failed", "assistant_id", assistantID, "status", string(status), "err", err)
	}
}

func (o *Orchestrator) view(ctx context.Context, assistantID string) (StatusView, error) {
	sess, err := o.sessions.Get(ctx, assistantID)
	if errors.Is(err, ErrSessionNotFound) {
		return StatusView{Status: StatusUnpaired}, nil
	}
	if err != nil {
		return StatusView{}, err
	}

	v := StatusView{Status: sess.Status}

	o.mu.Lock()
	att := o.attempts[assistantID]
	o.mu.Unlock()

	if att != nil && (sess.Status == StatusInitializing || sess.Status == StatusAwaitingScan) {
		att.mu.Lock()
		if !att.settled {
			v.QR = att.qr
			v.Debug = map[string]any{
				"attempt_started_at": att.startedAt,
				"attempt_deadline":   att.deadline,
			}
			if !att.lastPolledAt.IsZero() {
				v.Debug["last_polled_at"] = att.lastPolledAt
			}
		}
		att.mu.Unlock()
	}
	return v, nil
}
