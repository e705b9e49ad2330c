package repo

import (
	"context"

	"soporte_wa/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FollowUpRepository handles follow-up data access
type FollowUpRepository struct {
	db *gorm.DB
}

// NewFollowUpRepository creates a new follow-up repository
func NewFollowUpRepository(db *gorm.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

// Upsert creates or overwrites the follow-up of a contact
func (r *FollowUpRepository) Upsert(ctx context.Context, f *models.FollowUp) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contact_id"}},
		UpdateAll: true,
	}).Create(f).Error
	return wrap("upsert follow-up", err)
}

// Update persists attempt count and due time
func (r *FollowUpRepository) Update(ctx context.Context, f *models.FollowUp) error {
	err := r.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("contact_id = ?", f.ContactID).
		Updates(map[string]interface{}{
			"attempt_count": f.AttemptCount,
			"next_due_at":   f.NextDueAt,
		}).Error
	return wrap("update follow-up", err)
}

// Delete removes the follow-up; deleting a missing row is not an error
func (r *FollowUpRepository) Delete(ctx context.Context, contactID string) error {
	err := r.db.WithContext(ctx).Where("contact_id = ?", contactID).Delete(&models.FollowUp{}).Error
	return wrap("delete follow-up", err)
}

// List returns every pending follow-up
func (r *FollowUpRepository) List(ctx context.Context) ([]models.FollowUp, error) {
	var rows []models.FollowUp
	err := r.db.WithContext(ctx).Order("next_due_at ASC").Find(&rows).Error
	return rows, wrap("list follow-ups", err)
}
