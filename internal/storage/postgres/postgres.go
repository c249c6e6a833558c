// Package postgresstorage implements the storage.Backend interface on Postgres
// with PostGIS. When Postgres cannot be reached the journal falls back to an
// in-memory SQLite database dumped to the configured SQLite path.
package postgresstorage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/internal/database"
	gormstorage "github.com/studyhub/locsync/internal/storage/gorm"
	sqlitestorage "github.com/studyhub/locsync/internal/storage/sqlite"
	"github.com/studyhub/locsync/pkg/core"
)

// journal is the GORM or SQLite backend doing the actual work.
type journal interface {
	Init() error
	Close() error
	RecordFix(f core.Fix) error
	RecordStop(subjectID string, at time.Time) error
	History(ctx context.Context, q core.JournalQuery) (core.JournalPage, error)
	PendingWrites() int
}

// Backend journals fixes to Postgres.
type Backend struct {
	journal
	manager *database.Manager
	cfg     config.StorageConfig
	log     zerolog.Logger
}

// New creates a new Postgres storage backend. Connection happens in Init.
func New(cfg config.StorageConfig, log zerolog.Logger) *Backend {
	return &Backend{
		manager: database.NewManager(log, cfg.Postgres, cfg.SQLitePath),
		cfg:     cfg,
		log:     log,
	}
}

// Init connects, picks the Postgres or SQLite fallback journal and migrates it.
func (b *Backend) Init() error {
	if b.journal != nil {
		return nil
	}

	if err := b.manager.Connect(); err != nil {
		return err
	}

	if b.manager.ShouldSaveLocal {
		b.log.Warn().Str("dumpPath", b.cfg.SQLitePath).Msg("Journaling to local SQLite instead of Postgres")
		b.journal = sqlitestorage.NewWithDB(b.manager.DB, sqlitestorage.Config{
			DumpPath:      b.cfg.SQLitePath,
			FlushInterval: b.cfg.FlushInterval,
		}, b.log)
	} else {
		b.journal = gormstorage.New(gormstorage.Dependencies{
			DB:            b.manager.DB,
			FlushInterval: b.cfg.FlushInterval,
			Logger:        b.log,
		})
	}

	if err := b.journal.Init(); err != nil {
		b.journal = nil
		return err
	}
	return nil
}

// Close flushes the journal and closes the connection.
func (b *Backend) Close() error {
	if b.journal == nil {
		return nil
	}
	if err := b.journal.Close(); err != nil {
		b.log.Error().Err(err).Msg("Error closing journal")
	}
	b.journal = nil
	return b.manager.Close()
}

// Local reports whether the journal fell back to SQLite.
func (b *Backend) Local() bool {
	return b.manager.ShouldSaveLocal
}

// PendingWrites returns the number of queued records.
func (b *Backend) PendingWrites() int {
	if b.journal == nil {
		return 0
	}
	return b.journal.PendingWrites()
}

// RecordFix queues a fix on the active journal.
func (b *Backend) RecordFix(f core.Fix) error {
	if b.journal == nil {
		return core.ErrJournalClosed
	}
	return b.journal.RecordFix(f)
}

// RecordStop queues a stop marker on the active journal.
func (b *Backend) RecordStop(subjectID string, at time.Time) error {
	if b.journal == nil {
		return core.ErrJournalClosed
	}
	return b.journal.RecordStop(subjectID, at)
}

// History reads from the active journal.
func (b *Backend) History(ctx context.Context, q core.JournalQuery) (core.JournalPage, error) {
	if b.journal == nil {
		return core.JournalPage{}, core.ErrJournalClosed
	}
	return b.journal.History(ctx, q)
}
