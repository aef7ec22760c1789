// Package model defines the analysis records shared by the queue, history and
// lifecycle packages.
package model

import (
	"time"
)

// Size classifies a detected pipe.
type Size string

const (
	SizeSmall   Size = "Small"
	SizeMedium  Size = "Medium"
	SizeLarge   Size = "Large"
	SizeUnknown Size = "Unknown"
)

// Sizes lists every size in display order.
var Sizes = []Size{SizeSmall, SizeMedium, SizeLarge, SizeUnknown}

// ParseSize maps free text to a Size. Unrecognized values become SizeUnknown.
func ParseSize(s string) Size {
	switch Size(s) {
	case SizeSmall, SizeMedium, SizeLarge:
		return Size(s)
	default:
		return SizeUnknown
	}
}

// SourceKind tells whether a record came from the AI model or a human.
type SourceKind string

const (
	SourceAIModel     SourceKind = "AI Model"
	SourceManualEntry SourceKind = "Manual Entry"
)

const (
	// PendingModelVersion marks a queued placeholder that has not been analyzed.
	PendingModelVersion = "N/A"
	// ManualModelVersion marks a manually authored record.
	ManualModelVersion = "Manual Entry"

	PendingNotes = "This analysis is queued and will be processed when you are back online."
	ManualNotes  = "This report was created manually."
)

// Source records the provenance of an analysis.
type Source struct {
	Kind         SourceKind `json:"kind" yaml:"kind"`
	ModelVersion string     `json:"modelVersion" yaml:"modelVersion"`
}

// Location is the capture position. Every field is optional.
type Location struct {
	Latitude  *float64   `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Error     *string    `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// BoundingBox is expressed in percent of the image dimensions.
type BoundingBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Detection is one pipe found in the image.
type Detection struct {
	ID          string      `json:"id" yaml:"id"`
	Size        Size        `json:"size" yaml:"size"`
	BoundingBox BoundingBox `json:"boundingBox" yaml:"boundingBox"`
	Confidence  float64     `json:"confidence" yaml:"confidence"`
}

// Counts summarizes detections. Total always equals the sum of BySize.
type Counts struct {
	Total  int          `json:"total" yaml:"total"`
	BySize map[Size]int `json:"bySize" yaml:"bySize"`
}

// Valid reports whether Total matches the per-size sum.
func (c Counts) Valid() bool {
	sum := 0
	for _, n := range c.BySize {
		if n < 0 {
			return false
		}
		sum += n
	}
	return sum == c.Total
}

// AnalysisRecord is one entry in the history.
type AnalysisRecord struct {
	ID                string      `json:"id" yaml:"id"`
	Timestamp         time.Time   `json:"timestamp" yaml:"timestamp"`
	Image             []byte      `json:"image,omitempty" yaml:"-"`
	Location          *Location   `json:"location,omitempty" yaml:"location,omitempty"`
	Counts            Counts      `json:"counts" yaml:"counts"`
	Detections        []Detection `json:"detections" yaml:"detections"`
	Notes             string      `json:"notes" yaml:"notes"`
	IsPending         bool        `json:"isPending" yaml:"isPending"`
	Confidence        float64     `json:"confidence" yaml:"confidence"`
	Source            Source      `json:"source" yaml:"source"`
	Verified          bool        `json:"verified" yaml:"verified"`
	FeedbackSubmitted bool        `json:"feedbackSubmitted" yaml:"feedbackSubmitted"`
}

// Clone returns a deep copy. Image bytes are shared since images are immutable.
func (r *AnalysisRecord) Clone() AnalysisRecord {
	out := *r
	out.Detections = append([]Detection(nil), r.Detections...)
	out.Counts.BySize = make(map[Size]int, len(r.Counts.BySize))
	for k, v := range r.Counts.BySize {
		out.Counts.BySize[k] = v
	}
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	return out
}

// QueuedCapture is a capture waiting for connectivity. Its ID is shared with
// the pending placeholder in history.
type QueuedCapture struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Image     []byte    `json:"image"`
	Location  *Location `json:"location,omitempty"`
}

// NewQueuedCapture mints a capture with a queued_ id.
func NewQueuedCapture(image []byte, loc *Location, now time.Time) QueuedCapture {
	return QueuedCapture{
		ID:        NewID(KindQueued, now),
		Timestamp: now,
		Image:     image,
		Location:  loc,
	}
}

// NewPlaceholder builds the pending history record for a queued capture.
func NewPlaceholder(c QueuedCapture) AnalysisRecord {
	return AnalysisRecord{
		ID:         c.ID,
		Timestamp:  c.Timestamp,
		Image:      c.Image,
		Location:   c.Location,
		Counts:     RecomputeCounts(nil),
		Detections: []Detection{},
		Notes:      PendingNotes,
		IsPending:  true,
		Source:     Source{Kind: SourceAIModel, ModelVersion: PendingModelVersion},
	}
}

// NewManualEntry builds an empty human-authored record. It starts verified
// with full confidence.
func NewManualEntry(image []byte, loc *Location, now time.Time) AnalysisRecord {
	return AnalysisRecord{
		ID:         NewID(KindManual, now),
		Timestamp:  now,
		Image:      image,
		Location:   loc,
		Counts:     RecomputeCounts(nil),
		Detections: []Detection{},
		Notes:      ManualNotes,
		Confidence: 1.0,
		Source:     Source{Kind: SourceManualEntry, ModelVersion: ManualModelVersion},
		Verified:   true,
	}
}

// NewAIRecord builds a completed record from analyzer output. Detections are
// normalized and counts derived from them.
func NewAIRecord(image []byte, loc *Location, detections []Detection, confidence float64, notes, modelVersion string, now time.Time) AnalysisRecord {
	dets := NormalizeDetections(detections, now)
	return AnalysisRecord{
		ID:         NewID(KindAnalysis, now),
		Timestamp:  now,
		Image:      image,
		Location:   loc,
		Counts:     RecomputeCounts(dets),
		Detections: dets,
		Notes:      notes,
		Confidence: clamp(confidence, 0, 1),
		Source:     Source{Kind: SourceAIModel, ModelVersion: modelVersion},
	}
}
