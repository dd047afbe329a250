package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/kumbu/internal/security"
)

// Compile-time interface check.
var _ security.AuditStore = (*AuditRepository)(nil)

// AuditRepository persists audit records. Append-only: Write is the only
// mutating method on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Write inserts one audit record.
func (r *AuditRepository) Write(ctx context.Context, rec security.Record) error {
	args := ""
	if len(rec.Args) > 0 {
		data, err := json.Marshal(rec.Args)
		if err != nil {
			return fmt.Errorf("marshaling audit args: %w", err)
		}
		args = string(data)
	}

	model := AuditRecordModel{
		CreatedAt:     rec.Timestamp,
		CorrelationID: rec.CorrelationID,
		UserID:        rec.UserID,
		Tool:          rec.Tool,
		Args:          args,
		Outcome:       rec.Outcome,
		Error:         rec.Error,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// Query returns a user's audit records, newest first. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, userID string, limit int) ([]security.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []AuditRecordModel
	err := r.db.WithContext(ctx).
		Scopes(UserScope(userID)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}

	records := make([]security.Record, len(models))
	for i, m := range models {
		rec := security.Record{
			Timestamp:     m.CreatedAt,
			CorrelationID: m.CorrelationID,
			UserID:        m.UserID,
			Tool:          m.Tool,
			Outcome:       m.Outcome,
			Error:         m.Error,
		}
		if m.Args != "" {
			// Best effort: a record with unreadable args is still a record.
			_ = json.Unmarshal([]byte(m.Args), &rec.Args)
		}
		records[i] = rec
	}
	return records, nil
}
