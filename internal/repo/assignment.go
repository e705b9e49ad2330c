package repo

import (
	"context"
	"time"

	"soporte_wa/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssignmentRepository handles client assignment data access
type AssignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// ClaimOrGet inserts candidate unless a row for its contact already exists,
// then returns the stored row. created is true only for the winning insert.
// The primary key on contact_id makes concurrent claims race-free.
func (r *AssignmentRepository) ClaimOrGet(ctx context.Context, candidate models.ClientAssignment) (models.ClientAssignment, bool, error) {
	db := r.db.WithContext(ctx)
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
	if result.Error != nil {
		return models.ClientAssignment{}, false, wrap("claim assignment", result.Error)
	}
	if result.RowsAffected == 1 {
		return candidate, true, nil
	}

	var existing models.ClientAssignment
	if err := db.Where("contact_id = ?", candidate.ContactID).First(&existing).Error; err != nil {
		return models.ClientAssignment{}, false, wrap("read assignment", err)
	}
	return existing, false, nil
}

// Touch updates activity of the contact only when agentID owns it.
// pictureRef is left untouched when empty.
func (r *AssignmentRepository) Touch(ctx context.Context, contactID, agentID, pictureRef string, at time.Time) (bool, error) {
	patch := map[string]interface{}{"last_message_at": at}
	if pictureRef != "" {
		patch["picture_ref"] = pictureRef
	}
	result := r.db.WithContext(ctx).Model(&models.ClientAssignment{}).
		Where("contact_id = ? AND owner_agent_id = ?", contactID, agentID).
		Updates(patch)
	if result.Error != nil {
		return false, wrap("touch assignment", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Get returns the assignment of the contact or nil
func (r *AssignmentRepository) Get(ctx context.Context, contactID string) (*models.ClientAssignment, error) {
	var row models.ClientAssignment
	err := r.db.WithContext(ctx).Where("contact_id = ?", contactID).First(&row).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get assignment", err)
	}
	return &row, nil
}

// ListByOwner returns the agent's contacts, most recently active first
func (r *AssignmentRepository) ListByOwner(ctx context.Context, agentID string) ([]models.ClientAssignment, error) {
	var rows []models.ClientAssignment
	err := r.db.WithContext(ctx).Where("owner_agent_id = ?", agentID).
		Order("last_message_at DESC").Find(&rows).Error
	return rows, wrap("list assignments", err)
}

// Delete removes the contact's assignment
func (r *AssignmentRepository) Delete(ctx context.Context, contactID string) error {
	err := r.db.WithContext(ctx).Where("contact_id = ?", contactID).Delete(&models.ClientAssignment{}).Error
	return wrap("delete assignment", err)
}

// DeleteByOwner removes every assignment of the agent
func (r *AssignmentRepository) DeleteByOwner(ctx context.Context, agentID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("owner_agent_id = ?", agentID).Delete(&models.ClientAssignment{})
	return result.RowsAffected, wrap("delete assignments", result.Error)
}
