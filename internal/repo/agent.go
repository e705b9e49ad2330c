package repo

import (
	"context"

	"soporte_wa/internal/models"

	"gorm.io/gorm"
)

// AgentRepository handles agent data access
type AgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Create creates a new agent
func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	return wrap("create agent", r.db.WithContext(ctx).Create(agent).Error)
}

// GetByID returns the agent or nil when it does not exist
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&agent).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get agent", err)
	}
	return &agent, nil
}

// List returns all agents ordered by name
func (r *AgentRepository) List(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	err := r.db.WithContext(ctx).Order("display_name ASC").Find(&agents).Error
	return agents, wrap("list agents", err)
}

// ListActive returns the agents whose instance should be running
func (r *AgentRepository) ListActive(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	err := r.db.WithContext(ctx).Where("active = ?", true).Find(&agents).Error
	return agents, wrap("list active agents", err)
}

// Update saves the agent
func (r *AgentRepository) Update(ctx context.Context, agent *models.Agent) error {
	return wrap("update agent", r.db.WithContext(ctx).Save(agent).Error)
}

// Delete soft deletes the agent
func (r *AgentRepository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Agent{})
	if result.Error != nil {
		return false, wrap("delete agent", result.Error)
	}
	return result.RowsAffected > 0, nil
}
