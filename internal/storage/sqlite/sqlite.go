// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the SQLite-specific parts are the in-memory
// database and the dump loop.
package sqlitestorage

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/studyhub/locsync/internal/database"
	gormstorage "github.com/studyhub/locsync/internal/storage/gorm"
)

// DefaultDumpInterval is used when Config.DumpInterval is zero.
const DefaultDumpInterval = 30 * time.Second

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DSN           string // empty opens the shared in-memory database
	DumpPath      string // path for periodic VACUUM INTO dumps; empty disables them
	DumpInterval  time.Duration
	FlushInterval time.Duration
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db  *gorm.DB
	cfg Config
	log zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new SQLite storage backend.
func New(cfg Config, log zerolog.Logger) (*Backend, error) {
	db, err := database.OpenSQLite(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	return NewWithDB(db, cfg, log), nil
}

// NewWithDB creates a SQLite backend on an existing connection.
func NewWithDB(db *gorm.DB, cfg Config, log zerolog.Logger) *Backend {
	if cfg.DumpInterval <= 0 {
		cfg.DumpInterval = DefaultDumpInterval
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:            db,
		SQLite:        true,
		FlushInterval: cfg.FlushInterval,
		Logger:        log,
	})

	return &Backend{
		Backend: gormBackend,
		db:      db,
		cfg:     cfg,
		log:     log,
	}
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.stopChan == nil {
		b.stopChan = make(chan struct{})
		b.wg.Add(1)
		go b.dumpLoop(b.stopChan)
	}

	return nil
}

// Close stops the dump goroutine, closes the embedded GORM backend and
// writes a final dump.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.wg.Wait()
		b.stopChan = nil
	}

	if err := b.Backend.Close(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" {
		return b.Dump()
	}
	return nil
}

// Dump writes a point-in-time snapshot of the database to DumpPath.
func (b *Backend) Dump() error {
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
		return err
	}
	b.log.Debug().Str("path", b.cfg.DumpPath).Dur("duration", time.Since(start)).Msg("Dumped journal to disk")
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop(stop <-chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := b.Backend.Flush(); err != nil {
				b.log.Error().Err(err).Msg("Error flushing before dump")
			}
			if err := b.Dump(); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			}
		}
	}
}
