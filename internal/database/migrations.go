package database

import (
	"fmt"

	"gorm.io/gorm"
)

// customIndexes are composite indexes the struct tags cannot express.
// The statements are valid on SQLite, MySQL 8 and PostgreSQL.
var customIndexes = []struct {
	name  string
	table string
	cols  string
}{
	{"idx_conversation_logs_contact_ts", "conversation_logs", "contact_id, timestamp"},
	{"idx_client_assignments_owner_last", "client_assignments", "owner_agent_id, last_message_at"},
}

// createCustomIndexes adds the composite read-path indexes if missing
func createCustomIndexes(db *gorm.DB) error {
	migrator := db.Migrator()
	for _, idx := range customIndexes {
		if migrator.HasIndex(idx.table, idx.name) {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.cols)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}
