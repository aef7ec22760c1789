package model

import (
	"fmt"
	"math"
	"time"
)

// DefaultManualBoxSize is the side of a box added by hand, in percent.
const DefaultManualBoxSize = 10.0

// RecomputeCounts derives Counts from detections.
func RecomputeCounts(detections []Detection) Counts {
	c := Counts{BySize: make(map[Size]int, len(Sizes))}
	for _, s := range Sizes {
		c.BySize[s] = 0
	}
	for i := range detections {
		c.BySize[ParseSize(string(detections[i].Size))]++
		c.Total++
	}
	return c
}

// NormalizeDetections returns a corrected copy of detections: confidences are
// clamped to [0,1], boxes are clamped inside the image, unknown sizes become
// SizeUnknown and missing ids are assigned. It never fails.
func NormalizeDetections(detections []Detection, now time.Time) []Detection {
	out := make([]Detection, len(detections))
	for i, d := range detections {
		d.Size = ParseSize(string(d.Size))
		d.Confidence = clamp(d.Confidence, 0, 1)

		b := &d.BoundingBox
		b.X = clamp(b.X, 0, 100)
		b.Y = clamp(b.Y, 0, 100)
		b.Width = clamp(b.Width, 0, 100-b.X)
		b.Height = clamp(b.Height, 0, 100-b.Y)

		if d.ID == "" {
			d.ID = fmt.Sprintf("pipe_%d_%d", i, now.UnixMilli())
		}
		out[i] = d
	}
	return out
}

// DefaultManualDetection is the box placed when a user taps at (x, y): a
// square centered on the point and kept inside the image.
func DefaultManualDetection(x, y float64, now time.Time) Detection {
	size := DefaultManualBoxSize
	return Detection{
		ID:   fmt.Sprintf("manual_%d", now.UnixNano()),
		Size: SizeUnknown,
		BoundingBox: BoundingBox{
			X:      clamp(x-size/2, 0, 100-size),
			Y:      clamp(y-size/2, 0, 100-size),
			Width:  size,
			Height: size,
		},
		Confidence: 1.0,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
