package models

import (
	"time"

	"gorm.io/gorm"
)

// Agent roles
const (
	AgentRoleAdmin = "admin"
	AgentRoleAgent = "agent"
)

// Agent represents a support operator owning one WhatsApp instance
type Agent struct {
	ID          string         `json:"id" gorm:"primaryKey;size:64"`
	DisplayName string         `json:"display_name" gorm:"size:100;not null"`
	Role        string         `json:"role" gorm:"type:varchar(20);default:'agent';check:role IN ('admin','agent')"`
	Active      bool           `json:"active" gorm:"default:true"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName specifies the table name for Agent
func (Agent) TableName() string {
	return "agents"
}
