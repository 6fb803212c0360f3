package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrRuleNotFound = errors.New("notify: rule not found")

// RuleRepository persists trigger rules.
type RuleRepository interface {
	Create(ctx context.Context, r TriggerRule) error
	Get(ctx context.Context, assistantID, id string) (TriggerRule, error)
	ListByAssistant(ctx context.Context, assistantID string) ([]TriggerRule, error)
	// ListActiveByType returns active rules whose trigger type is in types,
	// ordered by creation time (ties broken by id) so evaluation order is
	// deterministic.
	ListActiveByType(ctx context.Context, assistantID string, types []TriggerType) ([]TriggerRule, error)
	SetActive(ctx context.Context, assistantID, id string, active bool) error
	Delete(ctx context.Context, assistantID, id string) error
}

// AttemptRepository is the append-only dispatch audit log.
type AttemptRepository interface {
	Append(ctx context.Context, a DispatchAttempt) error
	// LatestFor returns the most recent attempt for an (event, rule) pair.
	LatestFor(ctx context.Context, eventID, ruleID string) (DispatchAttempt, bool, error)
	ListByAssistant(ctx context.Context, assistantID string, limit int) ([]DispatchAttempt, error)
}

// MemoryRuleRepo is an in-memory rule repository for tests and early development.
type MemoryRuleRepo struct {
	mu    sync.Mutex
	rules []TriggerRule
}

func NewMemoryRuleRepo() *MemoryRuleRepo { return &MemoryRuleRepo{} }

func (r *MemoryRuleRepo) Create(ctx context.Context, rule TriggerRule) error {
	if rule.ID == "" || rule.AssistantID == "" {
		return errors.New("rule id and assistant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return nil
}

func (r *MemoryRuleRepo) Get(ctx context.Context, assistantID, id string) (TriggerRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.rules {
		if rule.AssistantID == assistantID && rule.ID == id {
			return rule, nil
		}
	}
	return TriggerRule{}, ErrRuleNotFound
}

func (r *MemoryRuleRepo) ListByAssistant(ctx context.Context, assistantID string) ([]TriggerRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TriggerRule, 0)
	for _, rule := range r.rules {
		if rule.AssistantID == assistantID {
			out = append(out, rule)
		}
	}
	sortRules(out)
	return out, nil
}

func (r *MemoryRuleRepo) ListActiveByType(ctx context.Context, assistantID string, types []TriggerType) ([]TriggerRule, error) {
	typeSet := make(map[TriggerType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TriggerRule, 0)
	for _, rule := range r.rules {
		if rule.AssistantID != assistantID || !rule.IsActive {
			continue
		}
		if _, ok := typeSet[rule.TriggerType]; !ok {
			continue
		}
		out = append(out, rule)
	}
	sortRules(out)
	return out, nil
}

func (r *MemoryRuleRepo) SetActive(ctx context.Context, assistantID, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].AssistantID == assistantID && r.rules[i].ID == id {
			r.rules[i].IsActive = active
			return nil
		}
	}
	return ErrRuleNotFound
}

func (r *MemoryRuleRepo) Delete(ctx context.Context, assistantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].AssistantID == assistantID && r.rules[i].ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

func sortRules(rules []TriggerRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

// MemoryAttemptRepo is an in-memory attempt log for tests.
type MemoryAttemptRepo struct {
	mu       sync.Mutex
	attempts []DispatchAttempt
}

func NewMemoryAttemptRepo() *MemoryAttemptRepo { return &MemoryAttemptRepo{} }

func (r *MemoryAttemptRepo) Append(ctx context.Context, a DispatchAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *MemoryAttemptRepo) LatestFor(ctx context.Context, eventID, ruleID string) (DispatchAttempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.attempts) - 1; i >= 0; i-- {
		if r.attempts[i].EventID == eventID && r.attempts[i].RuleID == ruleID {
			return r.attempts[i], true, nil
		}
	}
	return DispatchAttempt{}, false, nil
}

func (r *MemoryAttemptRepo) ListByAssistant(ctx context.Context, assistantID string, limit int) ([]DispatchAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispatchAttempt, 0)
	for i := len(r.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if r.attempts[i].AssistantID == assistantID {
			out = append(out, r.attempts[i])
		}
	}
	return out, nil
}

// Attempts returns a copy of all recorded attempts, for assertions in tests.
func (r *MemoryAttemptRepo) Attempts() []DispatchAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispatchAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}
