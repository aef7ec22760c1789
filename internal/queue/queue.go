// Package queue persists captures taken while offline until they can be
// analyzed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/tphakala/pipecounter/internal/datastore/entities"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
)

// SpaceChecker reports whether the backing volume can take more writes.
// *datastore.Store implements it.
type SpaceChecker interface {
	CheckSpace(ctx context.Context) error
}

// Store is the durable queue. It is safe for concurrent use; the database
// serializes writes.
type Store struct {
	db    *gorm.DB
	space SpaceChecker
	log   logger.Logger
}

// New returns a Store over db. space may be nil.
func New(db *gorm.DB, space SpaceChecker, log logger.Logger) *Store {
	if log == nil {
		log = logger.Global().Module("queue")
	}
	return &Store{db: db, space: space, log: log}
}

// Enqueue persists c. It fails with a storage-unavailable error when the
// database cannot be written or the volume is over quota.
func (s *Store) Enqueue(ctx context.Context, c model.QueuedCapture) error {
	if s.space != nil {
		if err := s.space.CheckSpace(ctx); err != nil {
			return errors.New(fmt.Errorf("enqueue %s: %w", c.ID, err)).
				Component("queue").
				Category(errors.CategoryStorage).
				Context("operation", "enqueue").
				Context("capture_id", c.ID).
				Build()
		}
	}

	row, err := toEntity(c)
	if err != nil {
		return storageError(err, "enqueue", c.ID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return storageError(err, "enqueue", c.ID)
	}

	s.log.Debug("capture enqueued", logger.String("capture_id", c.ID), logger.Int("image_bytes", len(c.Image)))
	return nil
}

// ListAll returns every capture in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]model.QueuedCapture, error) {
	var rows []entities.QueuedCaptureEntity
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, storageError(err, "list", "")
	}

	out := make([]model.QueuedCapture, 0, len(rows))
	for i := range rows {
		c, err := fromEntity(&rows[i])
		if err != nil {
			// A corrupt location is dropped; the image can still be analyzed.
			s.log.Warn("queued capture has unreadable location",
				logger.String("capture_id", rows[i].CaptureID), logger.Error(err))
		}
		out = append(out, c)
	}
	return out, nil
}

// Remove deletes the capture with id. Removing an absent id is not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("capture_id = ?", id).Delete(&entities.QueuedCaptureEntity{}).Error
	})
	if err != nil {
		return storageError(err, "remove", id)
	}
	return nil
}

// Clear removes every capture.
func (s *Store) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&entities.QueuedCaptureEntity{}).Error
	})
	if err != nil {
		return storageError(err, "clear", "")
	}
	s.log.Info("queue cleared")
	return nil
}

// Count returns the number of queued captures.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entities.QueuedCaptureEntity{}).Count(&n).Error; err != nil {
		return 0, storageError(err, "count", "")
	}
	return int(n), nil
}

func toEntity(c model.QueuedCapture) (entities.QueuedCaptureEntity, error) {
	row := entities.QueuedCaptureEntity{
		CaptureID:  c.ID,
		CapturedAt: c.Timestamp,
		Image:      c.Image,
	}
	if c.Location != nil {
		b, err := json.Marshal(c.Location)
		if err != nil {
			return row, err
		}
		row.Location = string(b)
	}
	if row.Image == nil {
		row.Image = []byte{}
	}
	return row, nil
}

func fromEntity(row *entities.QueuedCaptureEntity) (model.QueuedCapture, error) {
	c := model.QueuedCapture{
		ID:        row.CaptureID,
		Timestamp: row.CapturedAt,
		Image:     row.Image,
	}
	if row.Location == "" {
		return c, nil
	}
	var loc model.Location
	if err := json.Unmarshal([]byte(row.Location), &loc); err != nil {
		return c, err
	}
	c.Location = &loc
	return c, nil
}

func storageError(err error, operation, id string) error {
	b := errors.New(err).
		Component("queue").
		Category(errors.CategoryStorage).
		Context("operation", operation)
	if id != "" {
		b = b.Context("capture_id", id)
	}
	return b.Build()
}
