package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the provenance encoded in a record id prefix.
type Kind string

const (
	KindQueued   Kind = "queued_"
	KindManual   Kind = "manual_"
	KindAnalysis Kind = "analysis_"
	KindUnknown  Kind = ""
)

// NewID returns "<prefix><unix millis>_<8 hex>". The random suffix keeps ids
// unique within one millisecond.
func NewID(kind Kind, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%d_%s", kind, now.UnixMilli(), suffix)
}

// KindOf recovers the provenance of id.
func KindOf(id string) Kind {
	for _, k := range []Kind{KindQueued, KindManual, KindAnalysis} {
		if strings.HasPrefix(id, string(k)) {
			return k
		}
	}
	return KindUnknown
}

// ShortID returns the last six characters of id, as shown to users.
func ShortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
