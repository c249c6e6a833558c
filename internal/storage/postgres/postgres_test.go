package postgresstorage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/pkg/core"
)

func unreachableConfig(t *testing.T) config.StorageConfig {
	return config.StorageConfig{
		Type:          "postgres",
		SQLitePath:    filepath.Join(t.TempDir(), "fallback.db"),
		FlushInterval: time.Hour,
		Postgres: config.PostgresConfig{
			Host:     "127.0.0.1",
			Port:     "1",
			Username: "nobody",
			Password: "nothing",
			Database: "none",
		},
	}
}

func TestUninitialized_RejectsWrites(t *testing.T) {
	b := New(unreachableConfig(t), zerolog.Nop())

	assert.ErrorIs(t, b.RecordFix(core.Fix{SubjectID: "stu-1"}), core.ErrJournalClosed)
	assert.ErrorIs(t, b.RecordStop("stu-1", time.Now()), core.ErrJournalClosed)
	_, err := b.History(context.Background(), core.JournalQuery{SubjectID: "stu-1"})
	assert.ErrorIs(t, err, core.ErrJournalClosed)
	assert.Equal(t, 0, b.PendingWrites())
	assert.NoError(t, b.Close())
}

func TestInit_FallsBackToSQLite(t *testing.T) {
	b := New(unreachableConfig(t), zerolog.Nop())
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })

	assert.True(t, b.Local())

	fix := core.Fix{
		SubjectID: "stu-1",
		Source:    core.SourceManual,
		Position: core.Position{
			Latitude:   22.5726,
			Longitude:  88.3639,
			CapturedAt: time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, b.RecordFix(fix))
	assert.Equal(t, 1, b.PendingWrites())

	page, err := b.History(context.Background(), core.JournalQuery{SubjectID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}
