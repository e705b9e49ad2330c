package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types published by the panel
const (
	InstanceStateChanged = "instance.state_changed"
	InstanceFatal        = "instance.fatal"
	AssignmentClaimed    = "assignment.claimed"
	MessageInbound       = "message.inbound"
	FollowUpSent         = "followup.sent"
	FollowUpClosed       = "followup.closed"
)

const producer = "soporte_wa"

// Envelope is the wire format of every published event
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Meta identifies an event
type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer"`
	AgentID  string    `json:"agent_id,omitempty"`
	Time     time.Time `json:"time"`
}

// NewEnvelope stamps data with a fresh id and the current time
func NewEnvelope(eventType, agentID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Producer: producer,
			AgentID:  agentID,
			Time:     time.Now().UTC(),
		},
		Data: data,
	}
}

// InstanceState is the payload of instance events
type InstanceState struct {
	State       string `json:"state"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Attempts    int    `json:"reconnect_attempts"`
	Error       string `json:"error,omitempty"`
}

// Assignment is the payload of assignment.claimed
type Assignment struct {
	ContactID   string `json:"contact_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Inbound is the payload of message.inbound
type Inbound struct {
	ContactID string `json:"contact_id"`
	MessageID string `json:"message_id"`
	Author    string `json:"author"`
	HasMedia  bool   `json:"has_media"`
}

// FollowUp is the payload of follow-up events
type FollowUp struct {
	ContactID string `json:"contact_id"`
	Attempt   int    `json:"attempt"`
	Reason    string `json:"reason,omitempty"`
}
