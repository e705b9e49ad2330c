package models

import "time"

// Conversation roles
const (
	RoleClient = "client"
	RoleBot    = "bot"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Delivery statuses, in progression order
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
)

// ConversationLog is one append-only conversation entry
type ConversationLog struct {
	ID                 uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Timestamp          time.Time `json:"timestamp" gorm:"index;not null"`
	Role               string    `json:"role" gorm:"type:varchar(10);not null;check:role IN ('client','bot','agent','system')"`
	ContactID          string    `json:"contact_id" gorm:"size:128;index"`
	AgentID            string    `json:"agent_id" gorm:"size:64;index"`
	AuthorName         string    `json:"author_name" gorm:"size:255"`
	Participant        string    `json:"participant" gorm:"size:128"`
	IsGroup            bool      `json:"is_group"`
	Text               string    `json:"text" gorm:"type:text"`
	MessageID          string    `json:"message_id" gorm:"size:128;index"`
	InReplyToMessageID string    `json:"in_reply_to_message_id" gorm:"size:128"`
	DeliveryStatus     *string   `json:"delivery_status" gorm:"type:varchar(10)"`
	Forwarded          bool      `json:"forwarded"`

	HasMedia bool            `json:"has_media"`
	Media    MediaDescriptor `json:"media" gorm:"embedded;embeddedPrefix:media_"`

	HasQuoted bool          `json:"has_quoted"`
	Quoted    QuotedMessage `json:"quoted" gorm:"embedded;embeddedPrefix:quoted_"`
}

// MediaDescriptor describes an attachment stored by the media store
type MediaDescriptor struct {
	Type     string `json:"type" gorm:"size:16"`
	URI      string `json:"uri" gorm:"type:text"`
	MimeType string `json:"mime_type" gorm:"size:100"`
	Filename string `json:"filename" gorm:"size:255"`
	Caption  string `json:"caption" gorm:"type:text"`
}

// QuotedMessage is the message an entry replied to
type QuotedMessage struct {
	Text        string `json:"text" gorm:"type:text"`
	Participant string `json:"participant" gorm:"size:128"`
	MessageID   string `json:"message_id" gorm:"size:128"`
}

// TableName specifies the table name for ConversationLog
func (ConversationLog) TableName() string {
	return "conversation_logs"
}

// LogStats summarizes the conversation entries of a period
type LogStats struct {
	Total          int64            `json:"total"`
	UniqueContacts int64            `json:"unique_contacts"`
	ByRole         map[string]int64 `json:"by_role"`
}
