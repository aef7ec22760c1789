package entities

import "time"

// AppStateEntity is a key/value flag such as data-policy consent.
// Maps to the 'app_state' table.
type AppStateEntity struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName sets the table name used by GORM.
func (AppStateEntity) TableName() string {
	return "app_state"
}
