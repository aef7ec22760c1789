package entities

import "time"

// HistoryEntryEntity is one row of the ordered history. Position 0 is the
// most recent record. Maps to the 'history_entries' table.
type HistoryEntryEntity struct {
	Position  int    `gorm:"primaryKey;autoIncrement:false"`
	RecordID  string `gorm:"size:64;uniqueIndex;not null"`
	Payload   []byte `gorm:"not null"` // JSON encoded model.AnalysisRecord
	UpdatedAt time.Time
}

// TableName sets the table name used by GORM.
func (HistoryEntryEntity) TableName() string {
	return "history_entries"
}
