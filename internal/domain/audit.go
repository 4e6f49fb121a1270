package domain

import "context"

// EventType enumerates the audit events Heron emits.
type EventType string

const (
	EventModelTrained        EventType = "model_trained"
	EventTransactionScored   EventType = "transaction_scored"
	EventExplanationFailed   EventType = "explanation_failed"
	EventModelTrainingFailed EventType = "model_training_failed"
	EventFeedbackProvided    EventType = "feedback_provided"
	EventDecisionLogged      EventType = "decision_logged"
)

// EventTypes lists every recognized event type.
var EventTypes = []EventType{
	EventModelTrained,
	EventTransactionScored,
	EventExplanationFailed,
	EventModelTrainingFailed,
	EventFeedbackProvided,
	EventDecisionLogged,
}

// Known reports whether t is a recognized event type.
func (t EventType) Known() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AuditEvent is one append-only audit log entry.
// Data holds only plain JSON values (see audit.Normalize).
type AuditEvent struct {
	ID        string         `json:"id,omitempty"`
	Timestamp string         `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// EventFilter narrows an audit event query.
type EventFilter struct {
	EventType EventType
	Limit     int
}

// EventLogger appends audit events.
type EventLogger interface {
	Log(ctx context.Context, eventType EventType, data map[string]any) error
}
