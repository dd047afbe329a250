package postgres

import "time"

// UserModel is the users table.
type UserModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	Username     string `gorm:"size:64;not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

// ConversationModel is one chat session owned by a user.
type ConversationModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;not null;index"`
	Title     string `gorm:"size:256"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageModel is one turn in a conversation. UserID is denormalized so the
// history tools can scope queries without a join.
type MessageModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"type:uuid;not null;index"`
	UserID         string `gorm:"type:uuid;not null;index:idx_messages_user_created"`
	Role           string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index:idx_messages_user_created"`
}

func (MessageModel) TableName() string { return "messages" }

// AuditRecordModel is one tool invocation attempt. Append-only: no code
// path updates or deletes rows of this table.
type AuditRecordModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	CreatedAt     time.Time `gorm:"index"`
	CorrelationID string    `gorm:"size:64;index"`
	UserID        string    `gorm:"type:uuid;not null;index"`
	Tool          string    `gorm:"size:64;not null"`
	Args          string    `gorm:"type:text"`
	Outcome       string    `gorm:"size:32;not null"`
	Error         string    `gorm:"type:text"`
}

func (AuditRecordModel) TableName() string { return "audit_records" }
