package notify

import "strconv"

// compatibleRuleTypes maps an event type to the rule types it can fire.
// booking_confirmed is sugar over status_change events: it matches without the
// merchant having to spell out a target_status.
func compatibleRuleTypes(t TriggerType) []TriggerType {
	switch t {
	case TriggerStatusChange:
		return []TriggerType{TriggerStatusChange, TriggerBookingConfirmed}
	case TriggerBookingReminder:
		return []TriggerType{TriggerBookingReminder}
	case TriggerCustomEvent:
		return []TriggerType{TriggerCustomEvent}
	default:
		return nil
	}
}

// ruleMatches decides whether rule fires for event. A rule whose MatchConfig
// is missing a required field is permanently non-matching; that is a
// rule_not_matched outcome, never an error.
func ruleMatches(rule TriggerRule, ev DomainEvent) bool {
	switch rule.TriggerType {
	case TriggerStatusChange:
		target, ok := configString(rule.MatchConfig, "target_status")
		if !ok {
			return false
		}
		return ev.Payload["status"] == target

	case TriggerBookingConfirmed:
		return ev.Payload["status"] == "confirmed"

	case TriggerBookingReminder:
		hoursBefore, ok := configNumber(rule.MatchConfig, "hours_before")
		if !ok {
			return false
		}
		hoursUntil, err := strconv.ParseFloat(ev.Payload["hours_until_start"], 64)
		if err != nil {
			return false
		}
		return hoursUntil >= 0 && hoursUntil <= hoursBefore

	case TriggerCustomEvent:
		name, ok := configString(rule.MatchConfig, "event_name")
		if !ok {
			return false
		}
		return ev.Payload["event"] == name

	default:
		return false
	}
}

func configString(cfg map[string]any, key string) (string, bool) {
	v, ok := cfg[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// configNumber accepts both JSON numbers and numeric strings, since configs
// arrive from both the API (decoded JSON) and hand-seeded fixtures.
func configNumber(cfg map[string]any, key string) (float64, bool) {
	v, ok := cfg[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
