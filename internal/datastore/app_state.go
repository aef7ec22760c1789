package datastore

import (
	"context"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/pipecounter/internal/datastore/entities"
	"github.com/tphakala/pipecounter/internal/errors"
)

// ConsentKey stores whether the user accepted the data policy.
const ConsentKey = "privacy.consent"

// GetState returns the value stored under key and whether it exists.
func (s *Store) GetState(ctx context.Context, key string) (string, bool, error) {
	var row entities.AppStateEntity
	err := s.DB.WithContext(ctx).Where(&entities.AppStateEntity{Key: key}).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", false, nil
	case err != nil:
		return "", false, storageError(err, "get_state")
	}
	return row.Value, true, nil
}

// SetState upserts key.
func (s *Store) SetState(ctx context.Context, key, value string) error {
	row := entities.AppStateEntity{Key: key, Value: value}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return storageError(err, "set_state")
	}
	return nil
}

// ConsentGranted reports whether consent was recorded.
func (s *Store) ConsentGranted(ctx context.Context) (bool, error) {
	v, ok, err := s.GetState(ctx, ConsentKey)
	if err != nil || !ok {
		return false, err
	}
	granted, _ := strconv.ParseBool(v)
	return granted, nil
}

// SetConsent records or revokes consent.
func (s *Store) SetConsent(ctx context.Context, granted bool) error {
	return s.SetState(ctx, ConsentKey, strconv.FormatBool(granted))
}
