package models

import "time"

// ClientAssignment binds an external contact to the single agent answering it.
// OwnerAgentID never changes once the row exists.
type ClientAssignment struct {
	ContactID     string    `json:"contact_id" gorm:"primaryKey;size:128"`
	OwnerAgentID  string    `json:"owner_agent_id" gorm:"size:64;not null;index"`
	IsGroup       bool      `json:"is_group" gorm:"default:true"`
	DisplayName   string    `json:"display_name" gorm:"size:255"`
	PictureRef    string    `json:"picture_ref" gorm:"type:text"`
	LastMessageAt time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for ClientAssignment
func (ClientAssignment) TableName() string {
	return "client_assignments"
}
