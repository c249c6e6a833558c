package gormstorage

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/studyhub/locsync/internal/model"
	"github.com/studyhub/locsync/pkg/core"
)

// newTestDB creates an in-memory SQLite DB. MaxOpenConns=1 ensures all
// operations use the connection that owns the database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestBackend(t *testing.T, interval time.Duration) *Backend {
	t.Helper()
	b := New(Dependencies{
		DB:            newTestDB(t),
		SQLite:        true,
		FlushInterval: interval,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, b.Init())
	t.Cleanup(func() { require.NoError(t, b.Close()) })
	return b
}

var base = time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC)

func fixAt(subject string, minute int) core.Fix {
	return core.Fix{
		SubjectID: subject,
		SessionID: "sess-1",
		Source:    core.SourceGeolocation,
		Position: core.Position{
			Latitude:   22.5726,
			Longitude:  88.3639,
			Accuracy:   core.Float(15),
			CapturedAt: base.Add(time.Duration(minute) * time.Minute),
		},
		DeviceInfo: map[string]string{"platform": "linux"},
	}
}

func TestInit_MigratesSchema(t *testing.T) {
	b := newTestBackend(t, time.Hour)
	assert.True(t, b.DB().Migrator().HasTable(&model.LocationFix{}))
	assert.True(t, b.DB().Migrator().HasTable(&model.LocationStop{}))
}

func TestRecordFix_QueuesUntilFlush(t *testing.T) {
	b := newTestBackend(t, time.Hour)

	require.NoError(t, b.RecordFix(fixAt("stu-1", 0)))
	require.NoError(t, b.RecordFix(fixAt("stu-1", 1)))
	require.NoError(t, b.RecordStop("stu-1", base.Add(2*time.Minute)))
	assert.Equal(t, 3, b.PendingWrites())

	var count int64
	require.NoError(t, b.DB().Model(&model.LocationFix{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.PendingWrites())

	require.NoError(t, b.DB().Model(&model.LocationFix{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	require.NoError(t, b.DB().Model(&model.LocationStop{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFlushLoop_WritesOnTicker(t *testing.T) {
	b := newTestBackend(t, 20*time.Millisecond)
	require.NoError(t, b.RecordFix(fixAt("stu-1", 0)))

	assert.Eventually(t, func() bool {
		return b.PendingWrites() == 0
	}, 2*time.Second, 10*time.Millisecond)

	var count int64
	require.NoError(t, b.DB().Model(&model.LocationFix{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHistory_IncludesQueuedFixes(t *testing.T) {
	b := newTestBackend(t, time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFix(fixAt("stu-1", i)))
	}
	require.NoError(t, b.RecordFix(fixAt("stu-2", 9)))

	page, err := b.History(context.Background(), core.JournalQuery{SubjectID: "stu-1", Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Fixes, 2)

	newest := page.Fixes[0]
	assert.True(t, newest.Position.CapturedAt.Equal(base.Add(4*time.Minute)))
	assert.Equal(t, "stu-1", newest.SubjectID)
	assert.Equal(t, core.SourceGeolocation, newest.Source)
	require.NotNil(t, newest.Position.Accuracy)
	assert.Equal(t, 15.0, *newest.Position.Accuracy)
	assert.Nil(t, newest.Position.Altitude)
	assert.Equal(t, map[string]string{"platform": "linux"}, newest.DeviceInfo)
}

func TestHistory_TimeRange(t *testing.T) {
	b := newTestBackend(t, time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFix(fixAt("stu-1", i)))
	}

	page, err := b.History(context.Background(), core.JournalQuery{
		SubjectID: "stu-1",
		Start:     base.Add(1 * time.Minute),
		End:       base.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Fixes, 3)
	assert.True(t, page.Fixes[2].Position.CapturedAt.Equal(base.Add(1*time.Minute)))
}

func TestRecordFix_RejectsInvalidCoordinate(t *testing.T) {
	b := newTestBackend(t, time.Hour)

	bad := fixAt("stu-1", 0)
	bad.Position.Latitude = 120
	assert.ErrorIs(t, b.RecordFix(bad), core.ErrInvalidCoordinate)
	assert.Equal(t, 0, b.PendingWrites())
}

func TestClose_FlushesAndRejectsWrites(t *testing.T) {
	db := newTestDB(t)
	b := New(Dependencies{DB: db, SQLite: true, FlushInterval: time.Hour, Logger: zerolog.Nop()})
	require.NoError(t, b.Init())

	require.NoError(t, b.RecordFix(fixAt("stu-1", 0)))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	var count int64
	require.NoError(t, db.Model(&model.LocationFix{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, b.RecordFix(fixAt("stu-1", 1)), core.ErrJournalClosed)
	assert.ErrorIs(t, b.RecordStop("stu-1", base), core.ErrJournalClosed)
}

func TestFlush_FailureRequeues(t *testing.T) {
	b := newTestBackend(t, time.Hour)
	require.NoError(t, b.RecordFix(fixAt("stu-1", 0)))

	require.NoError(t, b.DB().Migrator().DropTable(&model.LocationFix{}))
	require.Error(t, b.Flush())
	assert.Equal(t, 1, b.PendingWrites())

	require.NoError(t, b.DB().AutoMigrate(&model.LocationFix{}))
	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.PendingWrites())
}
