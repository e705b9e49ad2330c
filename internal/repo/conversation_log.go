package repo

import (
	"context"
	"time"

	"soporte_wa/internal/models"

	"gorm.io/gorm"
)

// ConversationLogRepository handles the append-only conversation log
type ConversationLogRepository struct {
	db *gorm.DB
}

// NewConversationLogRepository creates a new conversation log repository
func NewConversationLogRepository(db *gorm.DB) *ConversationLogRepository {
	return &ConversationLogRepository{db: db}
}

// Insert appends an entry
func (r *ConversationLogRepository) Insert(ctx context.Context, entry *models.ConversationLog) error {
	return wrap("insert log", r.db.WithContext(ctx).Create(entry).Error)
}

// ByContact returns the contact's entries, oldest first
func (r *ConversationLogRepository) ByContact(ctx context.Context, contactID string) ([]models.ConversationLog, error) {
	var rows []models.ConversationLog
	err := r.db.WithContext(ctx).Where("contact_id = ?", contactID).
		Order("timestamp ASC, id ASC").Find(&rows).Error
	return rows, wrap("logs by contact", err)
}

// Between returns entries with from <= timestamp < to, oldest first
func (r *ConversationLogRepository) Between(ctx context.Context, from, to time.Time, limit, offset int) ([]models.ConversationLog, error) {
	var rows []models.ConversationLog
	err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", from, to).
		Order("timestamp ASC, id ASC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	return rows, wrap("logs between", err)
}

// FindByMessageID returns the first entry for a transport message id or nil
func (r *ConversationLogRepository) FindByMessageID(ctx context.Context, messageID string) (*models.ConversationLog, error) {
	var row models.ConversationLog
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Order("id ASC").First(&row).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("log by message id", err)
	}
	return &row, nil
}

// UpdateDeliveryStatus sets status on entries of messageID whose current
// status is null or one of from.
func (r *ConversationLogRepository) UpdateDeliveryStatus(ctx context.Context, messageID, status string, from []string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.ConversationLog{}).Where("message_id = ?", messageID)
	if len(from) > 0 {
		q = q.Where("delivery_status IS NULL OR delivery_status IN ?", from)
	} else {
		q = q.Where("delivery_status IS NULL")
	}
	result := q.Update("delivery_status", status)
	return result.RowsAffected, wrap("update delivery status", result.Error)
}

// DeleteByContact purges the contact's conversation
func (r *ConversationLogRepository) DeleteByContact(ctx context.Context, contactID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("contact_id = ?", contactID).Delete(&models.ConversationLog{})
	return result.RowsAffected, wrap("delete logs", result.Error)
}

// Dates returns the distinct days (YYYY-MM-DD) that have entries, newest first
func (r *ConversationLogRepository) Dates(ctx context.Context) ([]string, error) {
	var raw []string
	err := r.db.WithContext(ctx).Model(&models.ConversationLog{}).
		Distinct().Order("day DESC").
		Pluck("DATE(timestamp) AS day", &raw).Error
	if err != nil {
		return nil, wrap("log dates", err)
	}
	days := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, d := range raw {
		if len(d) > 10 {
			d = d[:10]
		}
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	return days, nil
}

// Stats counts entries with from <= timestamp < to
func (r *ConversationLogRepository) Stats(ctx context.Context, from, to time.Time) (models.LogStats, error) {
	stats := models.LogStats{ByRole: map[string]int64{}}
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.ConversationLog{}).
			Where("timestamp >= ? AND timestamp < ?", from, to)
	}

	if err := base().Count(&stats.Total).Error; err != nil {
		return stats, wrap("log stats", err)
	}
	if err := base().Where("contact_id <> ''").Distinct("contact_id").Count(&stats.UniqueContacts).Error; err != nil {
		return stats, wrap("log stats", err)
	}

	var perRole []struct {
		Role  string
		Count int64
	}
	if err := base().Select("role, COUNT(*) AS count").Group("role").Scan(&perRole).Error; err != nil {
		return stats, wrap("log stats", err)
	}
	for _, pr := range perRole {
		stats.ByRole[pr.Role] = pr.Count
	}
	return stats, nil
}
