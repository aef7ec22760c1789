package entities

import "time"

// QueuedCaptureEntity is a capture waiting for connectivity.
// Maps to the 'queued_captures' table. Seq preserves insertion order.
type QueuedCaptureEntity struct {
	Seq        uint      `gorm:"primaryKey;autoIncrement"`
	CaptureID  string    `gorm:"size:64;uniqueIndex;not null"`
	CapturedAt time.Time `gorm:"not null"`
	Image      []byte    `gorm:"not null"`
	Location   string    `gorm:"type:text"` // JSON, empty when unavailable
	CreatedAt  time.Time
}

// TableName sets the table name used by GORM.
func (QueuedCaptureEntity) TableName() string {
	return "queued_captures"
}
