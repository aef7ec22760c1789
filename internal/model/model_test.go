package model

import (
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1_700_000_000_000)

func TestNewIDFormatAndKind(t *testing.T) {
	idPattern := regexp.MustCompile(`^(queued|manual|analysis)_1700000000000_[0-9a-f]{8}$`)

	for _, k := range []Kind{KindQueued, KindManual, KindAnalysis} {
		id := NewID(k, now)
		assert.Regexp(t, idPattern, id)
		assert.Equal(t, k, KindOf(id))
	}
	assert.Equal(t, KindUnknown, KindOf("legacy-42"))

	assert.NotEqual(t, NewID(KindQueued, now), NewID(KindQueued, now), "same millisecond must not collide")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc123", ShortID("analysis_1_abc123"))
	assert.Equal(t, "abc", ShortID("abc"))
}

func TestPlaceholderAndManualConstructors(t *testing.T) {
	c := NewQueuedCapture([]byte("img"), nil, now)
	p := NewPlaceholder(c)

	assert.Equal(t, c.ID, p.ID)
	assert.True(t, p.IsPending)
	assert.Equal(t, PendingModelVersion, p.Source.ModelVersion)
	assert.Equal(t, PendingNotes, p.Notes)
	assert.True(t, p.Counts.Valid())
	assert.Zero(t, p.Counts.Total)

	m := NewManualEntry([]byte("img"), nil, now)
	assert.Equal(t, KindManual, KindOf(m.ID))
	assert.True(t, m.Verified)
	assert.InDelta(t, 1.0, m.Confidence, 0)
	assert.Equal(t, SourceManualEntry, m.Source.Kind)
	assert.Equal(t, ManualModelVersion, m.Source.ModelVersion)
	assert.Equal(t, ManualNotes, m.Notes)
}

func TestNewAIRecordDerivesCounts(t *testing.T) {
	r := NewAIRecord(nil, nil, []Detection{
		{Size: SizeSmall, Confidence: 0.9},
		{Size: SizeSmall, Confidence: 0.8},
		{Size: "Huge", Confidence: 1.7},
	}, 1.2, "ok", "gemini-2.5-flash", now)

	assert.Equal(t, KindAnalysis, KindOf(r.ID))
	assert.Equal(t, 3, r.Counts.Total)
	assert.Equal(t, 2, r.Counts.BySize[SizeSmall])
	assert.Equal(t, 1, r.Counts.BySize[SizeUnknown])
	assert.True(t, r.Counts.Valid())
	assert.InDelta(t, 1.0, r.Confidence, 0)
	assert.InDelta(t, 1.0, r.Detections[2].Confidence, 0)
}

func TestNormalizeDetections(t *testing.T) {
	in := []Detection{
		{ID: "keep", Size: SizeLarge, BoundingBox: BoundingBox{X: 95, Y: -5, Width: 20, Height: 150}, Confidence: -0.2},
		{Size: "", BoundingBox: BoundingBox{X: math.NaN(), Y: 40, Width: 10, Height: 10}, Confidence: 0.5},
	}
	out := NormalizeDetections(in, now)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, "keep", first.ID)
	assert.InDelta(t, 95, first.BoundingBox.X, 0)
	assert.InDelta(t, 0, first.BoundingBox.Y, 0)
	assert.InDelta(t, 5, first.BoundingBox.Width, 0)
	assert.InDelta(t, 100, first.BoundingBox.Height, 0)
	assert.InDelta(t, 0, first.Confidence, 0)

	second := out[1]
	assert.Equal(t, "pipe_1_1700000000000", second.ID)
	assert.Equal(t, SizeUnknown, second.Size)
	assert.InDelta(t, 0, second.BoundingBox.X, 0)

	for _, d := range out {
		b := d.BoundingBox
		assert.LessOrEqual(t, b.X+b.Width, 100.0)
		assert.LessOrEqual(t, b.Y+b.Height, 100.0)
	}

	assert.Equal(t, -0.2, in[0].Confidence, "input must not be mutated")
}

func TestDefaultManualDetection(t *testing.T) {
	d := DefaultManualDetection(50, 50, now)
	assert.Equal(t, BoundingBox{X: 45, Y: 45, Width: 10, Height: 10}, d.BoundingBox)
	assert.Equal(t, SizeUnknown, d.Size)
	assert.InDelta(t, 1.0, d.Confidence, 0)

	corner := DefaultManualDetection(99, 1, now)
	assert.InDelta(t, 90, corner.BoundingBox.X, 0)
	assert.InDelta(t, 0, corner.BoundingBox.Y, 0)
}

func TestCountsValid(t *testing.T) {
	assert.True(t, RecomputeCounts(nil).Valid())
	assert.False(t, Counts{Total: 2, BySize: map[Size]int{SizeSmall: 1}}.Valid())
}

func TestCloneIsDeep(t *testing.T) {
	lat := 1.0
	r := NewAIRecord(nil, &Location{Latitude: &lat}, []Detection{{Size: SizeSmall}}, 0.5, "", "m", now)
	c := r.Clone()

	c.Detections[0].Size = SizeLarge
	c.Counts.BySize[SizeSmall] = 9
	c.Location.Error = new(string)

	assert.Equal(t, SizeSmall, r.Detections[0].Size)
	assert.Equal(t, 1, r.Counts.BySize[SizeSmall])
	assert.Nil(t, r.Location.Error)
}
