// Package influxstorage implements the storage.Backend interface on InfluxDB.
// Each fix is one point in the location_fix measurement, tagged by subject.
package influxstorage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/internal/influx"
	"github.com/studyhub/locsync/pkg/core"
)

// Measurement names.
const (
	MeasurementFix  = "location_fix"
	MeasurementStop = "location_stop"
)

const connectTimeout = 10 * time.Second

// Backend journals fixes to an InfluxDB bucket.
type Backend struct {
	manager *influx.Manager
	log     zerolog.Logger
	closed  bool
}

// New creates a new InfluxDB backend. backupPath receives gzip line protocol
// while the server is unreachable.
func New(cfg config.InfluxConfig, backupPath string, log zerolog.Logger) *Backend {
	return &Backend{
		manager: influx.NewManager(log, cfg, backupPath),
		log:     log,
		closed:  true,
	}
}

// Init connects to InfluxDB or opens the backup file.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := b.manager.Connect(ctx); err != nil {
		return err
	}
	b.closed = false
	return nil
}

// Close flushes pending points.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.manager.Close()
}

// Connected reports whether points go to the server rather than the backup file.
func (b *Backend) Connected() bool {
	return b.manager.IsValid
}

// RecordFix writes a fix point.
func (b *Backend) RecordFix(f core.Fix) error {
	if b.closed {
		return core.ErrJournalClosed
	}
	return b.manager.WritePoint(FixPoint(f))
}

// RecordStop writes a stop point.
func (b *Backend) RecordStop(subjectID string, at time.Time) error {
	if b.closed {
		return core.ErrJournalClosed
	}
	point := influxdb2_write.NewPoint(
		MeasurementStop,
		map[string]string{"subject": subjectID},
		map[string]interface{}{"stopped": true},
		at.UTC(),
	)
	return b.manager.WritePoint(point)
}

// FixPoint converts a fix to a line protocol point. Optional readings are
// only written when present.
func FixPoint(f core.Fix) *influxdb2_write.Point {
	pos := f.Position
	tags := map[string]string{
		"subject": f.SubjectID,
		"source":  string(f.Source),
	}
	if f.SessionID != "" {
		tags["session"] = f.SessionID
	}

	fields := map[string]interface{}{
		"latitude":  pos.Latitude,
		"longitude": pos.Longitude,
	}
	optional := map[string]*float64{
		"accuracy": pos.Accuracy,
		"altitude": pos.Altitude,
		"heading":  pos.Heading,
		"speed":    pos.Speed,
	}
	for name, v := range optional {
		if v != nil {
			fields[name] = *v
		}
	}
	if pos.Address != "" {
		fields["address"] = pos.Address
	}

	return influxdb2_write.NewPoint(MeasurementFix, tags, fields, pos.CapturedAt.UTC())
}

// HistoryQuery builds the Flux query returning a subject's fixes newest first.
func HistoryQuery(bucket string, q core.JournalQuery) string {
	start := fmt.Sprintf("-%dh", influx.RetentionDays*24)
	if !q.Start.IsZero() {
		start = q.Start.UTC().Format(time.RFC3339Nano)
	}
	stop := "now()"
	if !q.End.IsZero() {
		// range stop is exclusive
		stop = q.End.UTC().Add(time.Nanosecond).Format(time.RFC3339Nano)
	}

	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.subject == %s)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)`,
		strconv.Quote(bucket), start, stop, MeasurementFix, strconv.Quote(q.SubjectID))
}

// History queries the bucket and pages the result.
func (b *Backend) History(ctx context.Context, q core.JournalQuery) (core.JournalPage, error) {
	q = q.Normalize()

	result, err := b.manager.Query(ctx, HistoryQuery(b.manager.Bucket(), q))
	if err != nil {
		return core.JournalPage{}, fmt.Errorf("error querying location fixes: %w", err)
	}
	defer result.Close()

	var fixes []core.Fix
	for result.Next() {
		fixes = append(fixes, recordToFix(result.Record().Values()))
	}
	if result.Err() != nil {
		return core.JournalPage{}, fmt.Errorf("error reading location fixes: %w", result.Err())
	}

	page := core.JournalPage{Page: q.Page, Limit: q.Limit, Total: len(fixes)}
	start := min(q.Offset(), len(fixes))
	end := min(start+q.Limit, len(fixes))
	page.Fixes = fixes[start:end]
	return page, nil
}

func recordToFix(values map[string]interface{}) core.Fix {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}
	num := func(key string) *float64 {
		if v, ok := values[key].(float64); ok {
			return core.Float(v)
		}
		return nil
	}

	f := core.Fix{
		SubjectID: str("subject"),
		SessionID: str("session"),
		Source:    core.FixSource(str("source")),
		Position: core.Position{
			Accuracy: num("accuracy"),
			Altitude: num("altitude"),
			Heading:  num("heading"),
			Speed:    num("speed"),
			Address:  str("address"),
		},
	}
	if v := num("latitude"); v != nil {
		f.Position.Latitude = *v
	}
	if v := num("longitude"); v != nil {
		f.Position.Longitude = *v
	}
	if t, ok := values["_time"].(time.Time); ok {
		f.Position.CapturedAt = t
	}
	return f
}
