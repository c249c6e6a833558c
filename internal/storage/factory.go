// internal/storage/factory.go
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/studyhub/locsync/internal/config"
	gormstorage "github.com/studyhub/locsync/internal/storage/gorm"
	influxstorage "github.com/studyhub/locsync/internal/storage/influx"
	"github.com/studyhub/locsync/internal/storage/memory"
	postgresstorage "github.com/studyhub/locsync/internal/storage/postgres"
	sqlitestorage "github.com/studyhub/locsync/internal/storage/sqlite"
)

var (
	_ Backend = (*memory.Backend)(nil)
	_ Backend = (*gormstorage.Backend)(nil)
	_ Backend = (*sqlitestorage.Backend)(nil)
	_ Backend = (*postgresstorage.Backend)(nil)
	_ Backend = (*influxstorage.Backend)(nil)
)

// NewBackend creates a fix journal based on configuration. logsDir receives
// the influx backup file. The backend is not initialized.
func NewBackend(cfg config.StorageConfig, logsDir string, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(0), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpPath:      cfg.SQLitePath,
			FlushInterval: cfg.FlushInterval,
		}, log)
	case "postgres":
		return postgresstorage.New(cfg, log), nil
	case "influx":
		backup := filepath.Join(logsDir, "location_fixes.lp.gz")
		return influxstorage.New(cfg.Influx, backup, log), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
