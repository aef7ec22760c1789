package history

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/tphakala/pipecounter/internal/datastore/entities"
	"github.com/tphakala/pipecounter/internal/model"
)

// GormPersister stores the list in history_entries, one row per record.
type GormPersister struct {
	db *gorm.DB
}

// NewGormPersister returns a persister over db.
func NewGormPersister(db *gorm.DB) *GormPersister {
	return &GormPersister{db: db}
}

// Save rewrites the table in one transaction.
func (p *GormPersister) Save(ctx context.Context, records []model.AnalysisRecord) error {
	rows := make([]entities.HistoryEntryEntity, len(records))
	for i := range records {
		payload, err := json.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("encode record %s: %w", records[i].ID, err)
		}
		rows[i] = entities.HistoryEntryEntity{Position: i, RecordID: records[i].ID, Payload: payload}
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&entities.HistoryEntryEntity{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

// Load reads the list back in position order. Any undecodable row fails the
// whole load.
func (p *GormPersister) Load(ctx context.Context) ([]model.AnalysisRecord, error) {
	var rows []entities.HistoryEntryEntity
	if err := p.db.WithContext(ctx).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]model.AnalysisRecord, 0, len(rows))
	for i := range rows {
		var r model.AnalysisRecord
		if err := json.Unmarshal(rows[i].Payload, &r); err != nil {
			return nil, fmt.Errorf("decode history entry %s: %w", rows[i].RecordID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// MemoryPersister keeps the list in memory, for tests and ephemeral stores.
type MemoryPersister struct {
	Records []model.AnalysisRecord
	Err     error // returned by Save when set
}

func (m *MemoryPersister) Save(_ context.Context, records []model.AnalysisRecord) error {
	if m.Err != nil {
		return m.Err
	}
	m.Records = records
	return nil
}

func (m *MemoryPersister) Load(context.Context) ([]model.AnalysisRecord, error) {
	return m.Records, nil
}
