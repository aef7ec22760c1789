package inventory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/mqtt"
)

// Message is the payload published per record.
type Message struct {
	RecordID     string             `json:"recordId"`
	Timestamp    time.Time          `json:"timestamp"`
	SyncedAt     time.Time          `json:"syncedAt"`
	Total        int                `json:"total"`
	BySize       map[model.Size]int `json:"bySize"`
	Verified     bool               `json:"verified"`
	ModelVersion string             `json:"modelVersion"`
	Location     *model.Location    `json:"location,omitempty"`
}

// MQTTSyncer publishes the record's counts to a broker topic.
type MQTTSyncer struct {
	client mqtt.Client
	topic  string
	log    logger.Logger
	now    func() time.Time
}

// NewMQTTSyncer publishes to topic through client. The client connects on
// first use.
func NewMQTTSyncer(client mqtt.Client, topic string, log logger.Logger) *MQTTSyncer {
	if log == nil {
		log = GetLogger()
	}
	return &MQTTSyncer{client: client, topic: topic, log: log, now: time.Now}
}

// Sync implements Syncer.
func (s *MQTTSyncer) Sync(ctx context.Context, rec model.AnalysisRecord) (string, error) {
	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			s.log.Warn("inventory broker unreachable", logger.Error(err))
			return "", unavailable(err, "mqtt")
		}
	}

	payload, err := json.Marshal(Message{
		RecordID:     rec.ID,
		Timestamp:    rec.Timestamp,
		SyncedAt:     s.now(),
		Total:        rec.Counts.Total,
		BySize:       rec.Counts.BySize,
		Verified:     rec.Verified,
		ModelVersion: rec.Source.ModelVersion,
		Location:     rec.Location,
	})
	if err != nil {
		return "", unavailable(err, "mqtt")
	}

	if err := s.client.Publish(ctx, s.topic, payload); err != nil {
		s.log.Warn("inventory publish failed", logger.String("record_id", rec.ID), logger.Error(err))
		return "", unavailable(err, "mqtt")
	}
	s.log.Info("record synced to inventory", logger.String("record_id", rec.ID), logger.Int("total", rec.Counts.Total))
	return SuccessMessage(rec.ID), nil
}
