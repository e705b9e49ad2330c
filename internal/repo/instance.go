package repo

import (
	"context"

	"soporte_wa/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InstanceRepository persists the connection state of agents' instances
type InstanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// Save applies patch (column name -> value, nil clears) to the agent's row,
// creating the row first if needed.
func (r *InstanceRepository) Save(ctx context.Context, agentID string, patch map[string]interface{}) error {
	db := r.db.WithContext(ctx)
	row := models.WhatsAppInstance{AgentID: agentID, Status: models.InstanceDisconnected}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return wrap("create instance", err)
	}
	if len(patch) == 0 {
		return nil
	}
	err := db.Model(&models.WhatsAppInstance{}).Where("agent_id = ?", agentID).Updates(patch).Error
	return wrap("update instance", err)
}

// Get returns the persisted instance or nil
func (r *InstanceRepository) Get(ctx context.Context, agentID string) (*models.WhatsAppInstance, error) {
	var row models.WhatsAppInstance
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&row).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get instance", err)
	}
	return &row, nil
}

// List returns every persisted instance
func (r *InstanceRepository) List(ctx context.Context) ([]models.WhatsAppInstance, error) {
	var rows []models.WhatsAppInstance
	err := r.db.WithContext(ctx).Order("agent_id ASC").Find(&rows).Error
	return rows, wrap("list instances", err)
}

// DeviceID returns the paired device JID of the agent, empty if none
func (r *InstanceRepository) DeviceID(ctx context.Context, agentID string) (string, error) {
	row, err := r.Get(ctx, agentID)
	if err != nil || row == nil || row.DeviceID == nil {
		return "", err
	}
	return *row.DeviceID, nil
}

// Delete removes the persisted instance
func (r *InstanceRepository) Delete(ctx context.Context, agentID string) error {
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).Delete(&models.WhatsAppInstance{}).Error
	return wrap("delete instance", err)
}
