package datastore

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

// UsageFunc reports free bytes for the volume holding path.
type UsageFunc func(ctx context.Context, path string) (uint64, error)

func gopsutilFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// freeSpace is replaced in tests.
var freeSpace UsageFunc = gopsutilFree

// CheckSpace fails with a storage-unavailable error when the SQLite volume has
// less than the configured minimum free. MySQL volumes are not local and are
// not checked.
func (s *Store) CheckSpace(ctx context.Context) error {
	if s.minFreeBytes == 0 || s.dbType != TypeSQLite {
		return nil
	}

	free, err := freeSpace(ctx, s.dataDir)
	if err != nil {
		// An unreadable usage figure should not block writes.
		s.log.Warn("free space check failed", logger.String("path", s.dataDir), logger.Error(err))
		return nil
	}

	if free < s.minFreeBytes {
		return errors.Newf("insufficient disk space: %d bytes free, need %d", free, s.minFreeBytes).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("operation", "check_space").
			Context("free_bytes", free).
			Context("min_free_bytes", s.minFreeBytes).
			Build()
	}
	return nil
}
