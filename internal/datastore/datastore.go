// Package datastore opens the GORM database shared by the queue and history
// stores and owns its schema.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/pipecounter/internal/conf"
	"github.com/tphakala/pipecounter/internal/datastore/entities"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
)

const (
	TypeSQLite = "sqlite"
	TypeMySQL  = "mysql"

	slowQueryThreshold = 200 * time.Millisecond
	sqliteBusyTimeout  = 5000 // ms
)

// Store holds the open database and the free-space guard.
type Store struct {
	DB           *gorm.DB
	dbType       string
	dataDir      string
	minFreeBytes uint64
	log          logger.Logger
}

// Options configure Open.
type Options struct {
	Type         string
	SQLitePath   string
	MySQLDSN     string
	MinFreeBytes uint64
	Logger       logger.Logger
}

// OptionsFromSettings derives Options from settings, resolving the SQLite path
// against the data directory.
func OptionsFromSettings(s *conf.Settings) Options {
	m := s.Datastore.MySQL
	return Options{
		Type:       s.Datastore.Type,
		SQLitePath: s.ResolvePath(s.Datastore.SQLite.Path),
		MySQLDSN: fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			m.Username, m.Password, m.Host, m.Port, m.Database),
		MinFreeBytes: s.Datastore.MinFreeBytes,
	}
}

// Open connects and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = GetLogger()
	}

	gormCfg := &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log.Module("gorm"), slowQueryThreshold),
	}

	s := &Store{dbType: opts.Type, minFreeBytes: opts.MinFreeBytes, log: log}

	var (
		db  *gorm.DB
		err error
	)
	switch opts.Type {
	case TypeSQLite, "":
		s.dbType = TypeSQLite
		s.dataDir = filepath.Dir(opts.SQLitePath)
		if err := os.MkdirAll(s.dataDir, 0o750); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_data_dir").
				Build()
		}
		dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", opts.SQLitePath, sqliteBusyTimeout)
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case TypeMySQL:
		db, err = gorm.Open(mysql.Open(opts.MySQLDSN), gormCfg)
	default:
		return nil, errors.Newf("unsupported datastore type %q", opts.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", s.dbType, err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("operation", "open").
			Context("db_type", s.dbType).
			Build()
	}
	s.DB = db

	if s.dbType == TypeSQLite {
		// One connection serializes writers and avoids SQLITE_BUSY between them.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, storageError(err, "pool")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	log.Info("datastore opened", logger.String("db_type", s.dbType))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	start := time.Now()
	err := s.DB.WithContext(ctx).AutoMigrate(
		&entities.QueuedCaptureEntity{},
		&entities.HistoryEntryEntity{},
		&entities.AppStateEntity{},
	)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryStorage).
			Timing("auto_migrate", time.Since(start)).
			Build()
	}
	s.log.Debug("schema migrated", logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Type returns "sqlite" or "mysql".
func (s *Store) Type() string { return s.dbType }

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return storageError(err, "close")
	}
	return sqlDB.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return storageError(err, "ping")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storageError(err, "ping")
	}
	return nil
}

func storageError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Build()
}

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}
