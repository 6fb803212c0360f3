package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"bizchat-platform/internal/conversations"
)

type fakeWindows struct {
	state    conversations.WindowState
	outbound []string
}

func (f *fakeWindows) Window(ctx context.Context, assistantID, customerPhone string, now time.Time) (conversations.WindowState, error) {
	return f.state, nil
}

func (f *fakeWindows) RecordOutbound(ctx context.Context, assistantID, customerPhone, body string) error {
	f.outbound = append(f.outbound, body)
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	errOn error
}

func (f *fakeSender) SendText(ctx context.Context, assistantID, toPhone, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errOn != nil {
		return f.errOn
	}
	f.sent = append(f.sent, toPhone+"|"+body)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type deniedGuard struct{}

func (deniedGuard) Acquire(ctx context.Context, eventID, ruleID string) (bool, error) {
	return false, nil
}
func (deniedGuard) Release(ctx context.Context, eventID, ruleID string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func seedRule(t *testing.T, repo *MemoryRuleRepo, rule TriggerRule) {
	t.Helper()
	rule.IsActive = true
	if err := repo.Create(context.Background(), rule); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
}

func completedEvent() DomainEvent {
	return DomainEvent{
		ID:           "booking:B1:status:completed",
		AssistantID:  "a1",
		SubjectPhone: "+15550001",
		EventType:    TriggerStatusChange,
		Payload: map[string]string{
			"status":        "completed",
			"service_type":  "Oil Change",
			"customer_name": "Ana",
		},
		OccurredAt: time.Now(),
	}
}

func newTestDispatcher(rules *MemoryRuleRepo, attempts *MemoryAttemptRepo, windows WindowSource, sender Sender) *Dispatcher {
	return NewDispatcher(rules, attempts, NoopGuard{}, windows, sender, testLogger())
}

func TestEvaluate_SendsRenderedMessageInsideWindow(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	windows := &fakeWindows{state: conversations.WindowOpen}
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{"target_status": "completed"},
		MessageTemplate: "Your {{service_type}} is ready",
	})

	d := newTestDispatcher(rules, attempts, windows, sender)
	recorded, err := d.Evaluate(context.Background(), completedEvent())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeSent {
		t.Fatalf("expected one sent attempt, got %+v", recorded)
	}
	if recorded[0].Message != "Your Oil Change is ready" {
		t.Fatalf("unexpected rendered message %q", recorded[0].Message)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly one send, got %d", sender.count())
	}
	if len(windows.outbound) != 1 {
		t.Fatalf("sent message must be logged against the conversation")
	}
}

func TestEvaluate_SuppressesWithoutConversation(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{"target_status": "completed"},
		MessageTemplate: "hi",
	})

	d := newTestDispatcher(rules, attempts, &fakeWindows{state: conversations.WindowNone}, sender)
	recorded, err := d.Evaluate(context.Background(), completedEvent())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeSuppressedNoConversation {
		t.Fatalf("expected suppressed_no_conversation, got %+v", recorded)
	}
	if sender.count() != 0 {
		t.Fatalf("suppressed dispatch must not reach the channel")
	}
}

func TestEvaluate_SuppressesExpiredWindow(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{"target_status": "completed"},
		MessageTemplate: "hi",
	})

	d := newTestDispatcher(rules, attempts, &fakeWindows{state: conversations.WindowExpired}, sender)
	recorded, err := d.Evaluate(context.Background(), completedEvent())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeSuppressedWindowExpired {
		t.Fatalf("expected suppressed_window_expired, got %+v", recorded)
	}
	if sender.count() != 0 {
		t.Fatalf("expired window must block the send")
	}
}

func TestEvaluate_SentPairIsNeverResent(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{"target_status": "completed"},
		MessageTemplate: "done",
	})

	d := newTestDispatcher(rules, attempts, &fakeWindows{state: conversations.WindowOpen}, sender)
	ev := completedEvent()

	if _, err := d.Evaluate(context.Background(), ev); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	recorded, err := d.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if len(recorded) != 0 {
		t.Fatalf("re-delivery of a sent pair must not record new attempts, got %+v", recorded)
	}
	if sender.count() != 1 {
		t.Fatalf("expected one send across both deliveries, got %d", sender.count())
	}
}

func TestEvaluate_SendFailureIsRecordedAndRetryable(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{errOn: errors.New("host down")}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{"target_status": "completed"},
		MessageTemplate: "done",
	})

	d := newTestDispatcher(rules, attempts, &fakeWindows{state: conversations.WindowOpen}, sender)
	ev := completedEvent()

	recorded, err := d.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeSendFailed {
		t.Fatalf("expected send_failed, got %+v", recorded)
	}
	if recorded[0].Error == "" {
		t.Fatalf("send_failed attempt must carry the transport error")
	}

	// A failed pair stays eligible: once the host recovers, re-delivery sends.
	sender.errOn = nil
	recorded, err = d.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("retry evaluate: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeSent {
		t.Fatalf("expected sent on retry, got %+v", recorded)
	}
}

func TestEvaluate_NonMatchingRuleIsRecorded(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{"target_status": "cancelled"},
		MessageTemplate: "sorry",
	})
	// Missing required config: permanently non-matching, not an error.
	seedRule(t, rules, TriggerRule{
		ID: "r2", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{},
		MessageTemplate: "never",
	})

	d := newTestDispatcher(rules, attempts, &fakeWindows{state: conversations.WindowOpen}, sender)
	recorded, err := d.Evaluate(context.Background(), completedEvent())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 2 {
		t.Fatalf("expected two attempts, got %d", len(recorded))
	}
	for _, a := range recorded {
		if a.Outcome != OutcomeRuleNotMatched {
			t.Fatalf("expected rule_not_matched, got %q for rule %s", a.Outcome, a.RuleID)
		}
	}
	if sender.count() != 0 {
		t.Fatalf("non-matching rules must not send")
	}
}

func TestEvaluate_BookingConfirmedRuleMatchesStatusEvent(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerBookingConfirmed,
		MessageTemplate: "See you soon, {{customer_name}}",
	})

	ev := completedEvent()
	ev.ID = "booking:B2:status:confirmed"
	ev.Payload["status"] = "confirmed"

	d := newTestDispatcher(rules, attempts, &fakeWindows{state: conversations.WindowOpen}, sender)
	recorded, err := d.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeSent {
		t.Fatalf("expected sent, got %+v", recorded)
	}
	if recorded[0].Message != "See you soon, Ana" {
		t.Fatalf("unexpected message %q", recorded[0].Message)
	}
}

func TestEvaluate_ReminderRuleMatchesWithinLeadTime(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerBookingReminder,
		MatchConfig:     map[string]any{"hours_before": float64(24)},
		MessageTemplate: "Reminder: {{service_type}} at {{start_time}}",
	})

	ev := DomainEvent{
		ID:           "booking:B3:reminder:24",
		AssistantID:  "a1",
		SubjectPhone: "+15550002",
		EventType:    TriggerBookingReminder,
		Payload: map[string]string{
			"service_type":      "Inspection",
			"start_time":        "2026-09-01T10:00:00Z",
			"hours_until_start": "23.5",
		},
		OccurredAt: time.Now(),
	}

	d := newTestDispatcher(rules, attempts, &fakeWindows{state: conversations.WindowOpen}, sender)
	recorded, err := d.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeSent {
		t.Fatalf("expected sent, got %+v", recorded)
	}

	// Outside the lead time the rule does not fire.
	ev.ID = "booking:B4:reminder:24"
	ev.Payload["hours_until_start"] = "30"
	recorded, err = d.Evaluate(context.Background(), ev)
	if err != nil {
		t.Fatalf("evaluate far: %v", err)
	}
	if len(recorded) != 1 || recorded[0].Outcome != OutcomeRuleNotMatched {
		t.Fatalf("expected rule_not_matched outside lead time, got %+v", recorded)
	}
}

func TestEvaluate_UnacquiredClaimSkipsPair(t *testing.T) {
	rules := NewMemoryRuleRepo()
	attempts := NewMemoryAttemptRepo()
	sender := &fakeSender{}

	seedRule(t, rules, TriggerRule{
		ID: "r1", AssistantID: "a1",
		TriggerType:     TriggerStatusChange,
		MatchConfig:     map[string]any{"target_status": "completed"},
		MessageTemplate: "done",
	})

	d := NewDispatcher(rules, attempts, deniedGuard{}, &fakeWindows{state: conversations.WindowOpen}, sender, testLogger())
	recorded, err := d.Evaluate(context.Background(), completedEvent())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(recorded) != 0 {
		t.Fatalf("claimed pair must be skipped without a record, got %+v", recorded)
	}
	if sender.count() != 0 {
		t.Fatalf("claimed pair must not send")
	}
}

func TestEvaluate_RejectsInvalidEvent(t *testing.T) {
	d := newTestDispatcher(NewMemoryRuleRepo(), NewMemoryAttemptRepo(), &fakeWindows{}, &fakeSender{})
	_, err := d.Evaluate(context.Background(), DomainEvent{AssistantID: "a1", EventType: TriggerStatusChange})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
