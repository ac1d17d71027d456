// Package web provides the HTTP surface for event ingress, rule management
// and execution queries.
package web

import (
	"time"

	"github.com/dukex/identiflow/pkg/events"
	"github.com/dukex/identiflow/pkg/trigger"
)

// ProcessEventRequest is the request body for event ingress. The event id is
// optional; a missing id gets generated.
type ProcessEventRequest struct {
	EventID           string         `json:"event_id"`
	EventType         string         `json:"event_type"         validate:"required"`
	Timestamp         *time.Time     `json:"timestamp,omitempty"`
	SubjectID         string         `json:"subject_id"`
	SubjectIdentifier string         `json:"subject_identifier"`
	ClientIP          string         `json:"client_ip,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// SimulateEventRequest is the request body for synthetic test events.
type SimulateEventRequest struct {
	EventType         string         `json:"event_type"         validate:"required"`
	SubjectID         string         `json:"subject_id"`
	SubjectIdentifier string         `json:"subject_identifier"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// BatchEventsRequest processes several events in one call.
type BatchEventsRequest struct {
	Events   []ProcessEventRequest `json:"events"   validate:"required,min=1,dive"`
	Parallel bool                  `json:"parallel"`
}

// CreateRuleRequest registers a trigger rule over the API. API-registered
// rules carry an optional declarative condition (metadata equality) and use
// the default input transformation.
type CreateRuleRequest struct {
	RuleID         string            `json:"rule_id"     validate:"required"`
	EventTypes     []string          `json:"event_types" validate:"required,min=1"`
	FlowID         string            `json:"flow_id"     validate:"required"`
	Enabled        bool              `json:"enabled"`
	MetadataEquals map[string]string `json:"metadata_equals,omitempty"`
}

// RuleResponse is the API view of a rule. Condition and transformer are
// function values, so only their presence is reported.
type RuleResponse struct {
	RuleID         string             `json:"rule_id"`
	EventTypes     []events.EventType `json:"event_types"`
	FlowID         string             `json:"flow_id"`
	Enabled        bool               `json:"enabled"`
	HasCondition   bool               `json:"has_condition"`
	HasTransformer bool               `json:"has_transformer"`
}

func newRuleResponse(rule trigger.TriggerRule) RuleResponse {
	return RuleResponse{
		RuleID:         rule.RuleID,
		EventTypes:     rule.EventTypes,
		FlowID:         rule.FlowID,
		Enabled:        rule.Enabled,
		HasCondition:   rule.Condition != nil,
		HasTransformer: rule.Transformer != nil,
	}
}

func (r *ProcessEventRequest) toEvent() events.LifecycleEvent {
	event := events.NewLifecycleEvent(events.EventType(r.EventType), r.SubjectID, r.SubjectIdentifier, r.Metadata)

	if r.EventID != "" {
		event.EventID = r.EventID
	}

	if r.Timestamp != nil {
		event.Timestamp = r.Timestamp.UTC()
	}

	event.ClientIP = r.ClientIP
	event.UserAgent = r.UserAgent

	return event
}
