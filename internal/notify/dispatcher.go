package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bizchat-platform/internal/conversations"
)

var ErrInvalidEvent = errors.New("notify: invalid event")

// WindowSource answers contact-window eligibility and logs delivered messages.
// Satisfied by *conversations.Service.
type WindowSource interface {
	Window(ctx context.Context, assistantID, customerPhone string, now time.Time) (conversations.WindowState, error)
	RecordOutbound(ctx context.Context, assistantID, customerPhone, body string) error
}

// Sender delivers rendered messages over the paired channel.
// Satisfied by channel.Host.
type Sender interface {
	SendText(ctx context.Context, assistantID, toPhone, body string) error
}

// Dispatcher evaluates domain events against trigger rules and sends at most
// one message per (event, rule) pair, policy permitting.
//
// Evaluation order per rule: dedup against the attempt log, claim the pair,
// match, check the contact window, render, send. Every decision is recorded;
// only a prior sent outcome short-circuits re-evaluation.
type Dispatcher struct {
	rules    RuleRepository
	attempts AttemptRepository
	guard    ClaimGuard
	windows  WindowSource
	sender   Sender
	log      *slog.Logger
	clock    func() time.Time
}

func NewDispatcher(rules RuleRepository, attempts AttemptRepository, guard ClaimGuard, windows WindowSource, sender Sender, log *slog.Logger) *Dispatcher {
	if guard == nil {
		guard = NoopGuard{}
	}
	return &Dispatcher{
		rules:    rules,
		attempts: attempts,
		guard:    guard,
		windows:  windows,
		sender:   sender,
		log:      log,
		clock:    time.Now,
	}
}

// Evaluate runs ev against every active compatible rule and returns the
// attempts recorded during this call. Pairs already resolved to sent are
// skipped without a new record.
func (d *Dispatcher) Evaluate(ctx context.Context, ev DomainEvent) ([]DispatchAttempt, error) {
	if ev.ID == "" || ev.AssistantID == "" || !ev.EventType.Valid() {
		return nil, ErrInvalidEvent
	}

	rules, err := d.rules.ListActiveByType(ctx, ev.AssistantID, compatibleRuleTypes(ev.EventType))
	if err != nil {
		return nil, err
	}

	recorded := make([]DispatchAttempt, 0, len(rules))
	for _, rule := range rules {
		attempt, ok, err := d.evaluateRule(ctx, rule, ev)
		if err != nil {
			return recorded, err
		}
		if ok {
			recorded = append(recorded, attempt)
		}
	}
	return recorded, nil
}

func (d *Dispatcher) evaluateRule(ctx context.Context, rule TriggerRule, ev DomainEvent) (DispatchAttempt, bool, error) {
	log := d.log.With("assistant_id", ev.AssistantID, "event_id", ev.ID, "rule_id", rule.ID)

	prior, found, err := d.attempts.LatestFor(ctx, ev.ID, rule.ID)
	if err != nil {
		return DispatchAttempt{}, false, err
	}
	if found && prior.Outcome == OutcomeSent {
		log.Debug("event already dispatched, skipping")
		return DispatchAttempt{}, false, nil
	}

	acquired, err := d.guard.Acquire(ctx, ev.ID, rule.ID)
	if err != nil {
		// Fail closed: without the claim we cannot rule out a concurrent send.
		log.Error("claim guard unavailable, skipping pair", "error", err)
		return DispatchAttempt{}, false, nil
	}
	if !acquired {
		log.Debug("pair claimed by another worker, skipping")
		return DispatchAttempt{}, false, nil
	}

	outcome, message, sendErr := d.resolve(ctx, rule, ev, log)

	// The claim is released on every outcome except sent, so a later
	// re-delivery can be evaluated again. For sent pairs the attempt log is
	// the durable guard and the claim may simply expire.
	if outcome != OutcomeSent {
		if relErr := d.guard.Release(ctx, ev.ID, rule.ID); relErr != nil {
			log.Warn("claim release failed", "error", relErr)
		}
	}

	attempt := DispatchAttempt{
		ID:          uuid.NewString(),
		AssistantID: ev.AssistantID,
		EventID:     ev.ID,
		RuleID:      rule.ID,
		Outcome:     outcome,
		Message:     message,
		CreatedAt:   d.clock().UTC(),
	}
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}
	if err := d.attempts.Append(ctx, attempt); err != nil {
		// The send may already have happened; surface the logging failure but
		// do not retry the pair in this call.
		log.Error("attempt record failed", "outcome", string(outcome), "error", err)
		return DispatchAttempt{}, false, err
	}

	log.Info("dispatch evaluated", "outcome", string(outcome))
	return attempt, true, nil
}

// resolve walks match -> eligibility -> render -> send and returns the
// outcome to record. sendErr is non-nil only for send_failed.
func (d *Dispatcher) resolve(ctx context.Context, rule TriggerRule, ev DomainEvent, log *slog.Logger) (Outcome, string, error) {
	if !ruleMatches(rule, ev) {
		return OutcomeRuleNotMatched, "", nil
	}

	state, err := d.windows.Window(ctx, ev.AssistantID, ev.SubjectPhone, d.clock().UTC())
	if err != nil {
		// Treat an unknown window as closed rather than risking an off-window
		// send.
		log.Error("window lookup failed", "error", err)
		return OutcomeSuppressedNoConversation, "", nil
	}
	switch state {
	case conversations.WindowNone:
		return OutcomeSuppressedNoConversation, "", nil
	case conversations.WindowExpired:
		return OutcomeSuppressedWindowExpired, "", nil
	}

	message := RenderTemplate(rule.MessageTemplate, ev.Payload)

	if err := d.sender.SendText(ctx, ev.AssistantID, ev.SubjectPhone, message); err != nil {
		return OutcomeSendFailed, message, err
	}

	if err := d.windows.RecordOutbound(ctx, ev.AssistantID, ev.SubjectPhone, message); err != nil {
		log.Warn("outbound message log failed", "error", err)
	}
	return OutcomeSent, message, nil
}
