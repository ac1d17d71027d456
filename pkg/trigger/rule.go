package trigger

import (
	"github.com/dukex/identiflow/pkg/events"
)

// RuleCondition is an optional predicate gating a rule. A nil condition
// always passes.
type RuleCondition func(event events.LifecycleEvent) bool

// InputTransformer builds the flow input from the triggering event. A nil
// transformer falls back to the default event projection.
type InputTransformer func(event events.LifecycleEvent) (map[string]any, error)

// TriggerRule is a declarative mapping from event types to a target flow.
// Rules are replace-or-remove only; there is no partial update.
type TriggerRule struct {
	RuleID      string             `json:"rule_id"     validate:"required"`
	EventTypes  []events.EventType `json:"event_types" validate:"required,min=1"`
	FlowID      string             `json:"flow_id"     validate:"required"`
	Condition   RuleCondition      `json:"-"`
	Transformer InputTransformer   `json:"-"`
	Enabled     bool               `json:"enabled"`
}

// matches reports whether the rule listens for the event's type.
func (r *TriggerRule) matches(eventType events.EventType) bool {
	for _, t := range r.EventTypes {
		if t == eventType {
			return true
		}
	}

	return false
}

// DefaultRules returns the default trigger rule set. These are ordinary data
// records, replaceable at runtime.
func DefaultRules() []TriggerRule {
	return []TriggerRule{
		{
			RuleID:     "rule_new_hire_onboarding",
			EventTypes: []events.EventType{events.UserCreated, events.UserActivated},
			FlowID:     "flow_new_hire_onboarding",
			Enabled:    true,
			Transformer: func(event events.LifecycleEvent) (map[string]any, error) {
				return map[string]any{
					"user_id":         event.SubjectID,
					"user_email":      event.SubjectIdentifier,
					"event_timestamp": event.Timestamp,
				}, nil
			},
		},
		{
			RuleID:     "rule_offboarding",
			EventTypes: []events.EventType{events.UserDeactivated},
			FlowID:     "flow_offboarding",
			Enabled:    true,
			Transformer: func(event events.LifecycleEvent) (map[string]any, error) {
				return map[string]any{
					"user_id":           event.SubjectID,
					"user_email":        event.SubjectIdentifier,
					"deactivation_time": event.Timestamp,
				}, nil
			},
		},
		{
			RuleID:     "rule_mfa_remediation",
			EventTypes: []events.EventType{events.LoginFailure},
			FlowID:     "flow_mfa_remediation",
			Enabled:    true,
			Condition: func(event events.LifecycleEvent) bool {
				return event.Metadata["reason"] == "mfa_not_enrolled"
			},
			Transformer: func(event events.LifecycleEvent) (map[string]any, error) {
				return map[string]any{
					"user_id":        event.SubjectID,
					"user_email":     event.SubjectIdentifier,
					"failure_reason": event.Metadata["reason"],
				}, nil
			},
		},
		{
			RuleID:     "rule_password_expiry",
			EventTypes: []events.EventType{events.PasswordExpiring},
			FlowID:     "flow_password_expiry",
			Enabled:    true,
			Transformer: func(event events.LifecycleEvent) (map[string]any, error) {
				return map[string]any{
					"user_id":     event.SubjectID,
					"user_email":  event.SubjectIdentifier,
					"expiry_date": event.Metadata["expiry_date"],
				}, nil
			},
		},
		{
			RuleID:     "rule_access_audit",
			EventTypes: []events.EventType{events.AppAccessGranted},
			FlowID:     "flow_access_request",
			Enabled:    true,
			Transformer: func(event events.LifecycleEvent) (map[string]any, error) {
				return map[string]any{
					"user_id":    event.SubjectID,
					"user_email": event.SubjectIdentifier,
					"app_id":     event.Metadata["app_id"],
					"app_name":   event.Metadata["app_name"],
				}, nil
			},
		},
	}
}
