package influxstorage

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/internal/influx"
	"github.com/studyhub/locsync/pkg/core"
)

var captured = time.Date(2026, 3, 14, 4, 0, 0, 0, time.UTC)

func testFix() core.Fix {
	return core.Fix{
		SubjectID: "stu-1",
		SessionID: "sess-1",
		Source:    core.SourceGeolocation,
		Position: core.Position{
			Latitude:   22.5726,
			Longitude:  88.3639,
			Accuracy:   core.Float(15),
			CapturedAt: captured,
		},
	}
}

func TestFixPoint(t *testing.T) {
	line := influxdb2_write.PointToLineProtocol(FixPoint(testFix()), time.Nanosecond)

	assert.True(t, strings.HasPrefix(line, "location_fix,"))
	assert.Contains(t, line, "session=sess-1")
	assert.Contains(t, line, "source=geolocation")
	assert.Contains(t, line, "subject=stu-1")
	assert.Contains(t, line, "latitude=22.5726")
	assert.Contains(t, line, "longitude=88.3639")
	assert.Contains(t, line, "accuracy=15")
	assert.NotContains(t, line, "altitude")
	assert.NotContains(t, line, "address")
	assert.Contains(t, line, "1773460800000000000")
}

func TestHistoryQuery(t *testing.T) {
	q := HistoryQuery("location_fixes", core.JournalQuery{SubjectID: `stu-"1"`})
	assert.Contains(t, q, `from(bucket: "location_fixes")`)
	assert.Contains(t, q, "range(start: -2160h, stop: now())")
	assert.Contains(t, q, `r._measurement == "location_fix"`)
	assert.Contains(t, q, `r.subject == "stu-\"1\""`)
	assert.Contains(t, q, "desc: true")

	q = HistoryQuery("b", core.JournalQuery{SubjectID: "s", Start: captured, End: captured.Add(time.Hour)})
	assert.Contains(t, q, "range(start: 2026-03-14T04:00:00Z, stop: 2026-03-14T05:00:00.000000001Z)")
}

func TestRecordToFix(t *testing.T) {
	f := recordToFix(map[string]interface{}{
		"_time":     captured,
		"subject":   "stu-1",
		"session":   "sess-1",
		"source":    "manual",
		"latitude":  12.9,
		"longitude": 77.6,
		"speed":     1.5,
		"address":   "MG Road",
	})

	assert.Equal(t, "stu-1", f.SubjectID)
	assert.Equal(t, "sess-1", f.SessionID)
	assert.Equal(t, core.SourceManual, f.Source)
	assert.Equal(t, 12.9, f.Position.Latitude)
	assert.Equal(t, 77.6, f.Position.Longitude)
	assert.Nil(t, f.Position.Accuracy)
	require.NotNil(t, f.Position.Speed)
	assert.Equal(t, 1.5, *f.Position.Speed)
	assert.Equal(t, "MG Road", f.Position.Address)
	assert.Equal(t, captured, f.Position.CapturedAt)
}

func TestBackupWriter_WhenUnreachable(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "fixes.lp.gz")
	b := New(config.InfluxConfig{
		URL:    "http://127.0.0.1:1",
		Org:    "locsync",
		Bucket: "location_fixes",
	}, backup, zerolog.Nop())

	assert.ErrorIs(t, b.RecordFix(testFix()), core.ErrJournalClosed)

	require.NoError(t, b.Init())
	assert.False(t, b.Connected())

	require.NoError(t, b.RecordFix(testFix()))
	require.NoError(t, b.RecordStop("stu-1", captured.Add(time.Minute)))

	_, err := b.History(context.Background(), core.JournalQuery{SubjectID: "stu-1"})
	assert.True(t, errors.Is(err, influx.ErrNotConnected))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	file, err := os.Open(backup)
	require.NoError(t, err)
	defer file.Close()
	zr, err := gzip.NewReader(file)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "location_fix,"))
	assert.True(t, strings.HasPrefix(lines[1], "location_stop,subject=stu-1"))
}

func TestInit_NoBackupPath(t *testing.T) {
	b := New(config.InfluxConfig{URL: "http://127.0.0.1:1"}, "", zerolog.Nop())
	require.Error(t, b.Init())
}
