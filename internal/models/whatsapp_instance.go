package models

import "time"

// Instance connection states
const (
	InstanceDisconnected = "disconnected"
	InstanceQRReady      = "qr_ready"
	InstanceConnected    = "connected"
)

// WhatsAppInstance is the persisted connection state of an agent's session
type WhatsAppInstance struct {
	AgentID           string     `json:"agent_id" gorm:"primaryKey;size:64"`
	Label             string     `json:"label" gorm:"size:100"`
	Status            string     `json:"status" gorm:"type:varchar(20);default:'disconnected';check:status IN ('connected','disconnected','qr_ready')"`
	QRCode            *string    `json:"qr_code" gorm:"type:text"`
	PhoneNumber       *string    `json:"phone_number" gorm:"size:32"`
	DeviceID          *string    `json:"device_id" gorm:"size:100"`
	ReconnectAttempts int        `json:"reconnect_attempts" gorm:"default:0"`
	LastError         *string    `json:"last_error" gorm:"type:text"`
	LastQRAt          *time.Time `json:"last_qr_at"`
	ConnectedAt       *time.Time `json:"connected_at"`
	LastActivity      *time.Time `json:"last_activity"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for WhatsAppInstance
func (WhatsAppInstance) TableName() string {
	return "instances"
}
