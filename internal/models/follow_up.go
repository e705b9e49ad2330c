package models

import "time"

// FollowUp tracks escalating re-engagement messages for a silent contact
type FollowUp struct {
	ContactID    string    `json:"contact_id" gorm:"primaryKey;size:128"`
	OwnerAgentID string    `json:"owner_agent_id" gorm:"size:64;not null"`
	NextDueAt    time.Time `json:"next_due_at" gorm:"index"`
	AttemptCount int       `json:"attempt_count" gorm:"default:0"`
	StartedAt    time.Time `json:"started_at"`
}

// TableName specifies the table name for FollowUp
func (FollowUp) TableName() string {
	return "follow_ups"
}
