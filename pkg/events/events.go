// Package events defines identity lifecycle event types and structures.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic carrying lifecycle events between the dispatcher and producers.
const Topic = "identiflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Authentication events.
	LoginSuccess   EventType = "user.authentication.sso.login.success"
	LoginFailure   EventType = "user.authentication.sso.login.failure"
	Logout         EventType = "user.authentication.sso.logout"
	SessionExpired EventType = "user.session.expired"

	// MFA events.
	MFAEnrolled  EventType = "user.mfa.factor.activate"
	MFAChallenge EventType = "user.mfa.factor.challenge"
	MFAFailure   EventType = "user.mfa.factor.failure"

	// User lifecycle events.
	UserCreated     EventType = "user.lifecycle.create"
	UserActivated   EventType = "user.lifecycle.activate"
	UserDeactivated EventType = "user.lifecycle.deactivate"
	UserSuspended   EventType = "user.lifecycle.suspend"
	UserUnsuspended EventType = "user.lifecycle.unsuspend"

	// Access events.
	AppAccessGranted      EventType = "application.user_membership.add"
	AppAccessRevoked      EventType = "application.user_membership.remove"
	GroupMembershipAdd    EventType = "group.user_membership.add"
	GroupMembershipRemove EventType = "group.user_membership.remove"

	// Password events.
	PasswordChanged  EventType = "user.account.update_password"
	PasswordReset    EventType = "user.account.reset_password"
	PasswordExpiring EventType = "user.password.expiring"

	// Policy events.
	PolicyViolation EventType = "policy.violation"
	RiskyLogin      EventType = "user.authentication.risk.detected"
)

// LifecycleEvent is a notification that something changed in the identity
// system. Immutable once constructed.
type LifecycleEvent struct {
	EventID           string         `json:"event_id"           validate:"required"`
	Type              EventType      `json:"event_type"         validate:"required"`
	Timestamp         time.Time      `json:"timestamp"`
	SubjectID         string         `json:"subject_id"`
	SubjectIdentifier string         `json:"subject_identifier"`
	ClientIP          string         `json:"client_ip,omitempty"`
	UserAgent         string         `json:"user_agent,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func NewLifecycleEvent(eventType EventType, subjectID, subjectIdentifier string, metadata map[string]any) LifecycleEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return LifecycleEvent{
		EventID:           "evt-" + uuid.New().String(),
		Type:              eventType,
		Timestamp:         time.Now().UTC(),
		SubjectID:         subjectID,
		SubjectIdentifier: subjectIdentifier,
		Metadata:          metadata,
	}
}

// SimulatedEvent builds an event indistinguishable from a real one apart from
// its id prefix. Used by demos and tests.
func SimulatedEvent(eventType EventType, subjectID, subjectIdentifier string, metadata map[string]any) LifecycleEvent {
	event := NewLifecycleEvent(eventType, subjectID, subjectIdentifier, metadata)
	event.EventID = "sim-" + uuid.New().String()
	event.ClientIP = "192.168.1.100"
	event.UserAgent = "identiflow-simulator/1.0"

	return event
}
