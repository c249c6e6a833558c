// Package gormstorage implements the storage.Backend interface on top of GORM.
// Writes are queued and flushed in batches by a background loop, so recording
// never waits on the database.
package gormstorage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/studyhub/locsync/internal/database"
	"github.com/studyhub/locsync/internal/model"
	"github.com/studyhub/locsync/internal/model/convert"
	"github.com/studyhub/locsync/internal/queue"
	"github.com/studyhub/locsync/pkg/core"
)

// DefaultFlushInterval is used when Dependencies.FlushInterval is zero.
const DefaultFlushInterval = 2 * time.Second

// DefaultQueueLimit bounds each write queue while the database is unavailable.
const DefaultQueueLimit = 10000

// Dependencies holds the backend's collaborators.
type Dependencies struct {
	DB            *gorm.DB
	SQLite        bool // migrate the SQLite model set
	FlushInterval time.Duration
	QueueLimit    int
	Logger        zerolog.Logger
}

// Backend journals fixes through GORM.
type Backend struct {
	deps   Dependencies
	fixes  *queue.Queue[model.LocationFix]
	stops  *queue.Queue[model.LocationStop]
	flushM sync.Mutex

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// New creates a GORM backend. Init must be called before recording.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.QueueLimit <= 0 {
		deps.QueueLimit = DefaultQueueLimit
	}
	return &Backend{
		deps:  deps,
		fixes: queue.NewBounded[model.LocationFix](deps.QueueLimit),
		stops: queue.NewBounded[model.LocationStop](deps.QueueLimit),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the flush loop.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isRunning {
		return nil
	}

	if err := database.Setup(b.deps.DB, b.deps.SQLite); err != nil {
		return err
	}

	b.isRunning = true
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.flushLoop(b.stopChan, b.done)

	b.deps.Logger.Info().Dur("flushInterval", b.deps.FlushInterval).Msg("Fix journal ready")
	return nil
}

// Close stops the flush loop and writes whatever is still queued.
func (b *Backend) Close() error {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return nil
	}
	b.isRunning = false
	close(b.stopChan)
	done := b.done
	b.mu.Unlock()

	<-done
	return b.Flush()
}

func (b *Backend) running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isRunning
}

// RecordFix queues a fix for the next flush.
func (b *Backend) RecordFix(f core.Fix) error {
	if !b.running() {
		return core.ErrJournalClosed
	}
	row, err := convert.CoreToLocationFix(f)
	if err != nil {
		return err
	}
	if dropped := b.fixes.Push(row); dropped > 0 {
		b.deps.Logger.Warn().Int("dropped", dropped).Msg("Fix queue full, dropped oldest fixes")
	}
	return nil
}

// RecordStop queues a session stop marker.
func (b *Backend) RecordStop(subjectID string, at time.Time) error {
	if !b.running() {
		return core.ErrJournalClosed
	}
	b.stops.Push(model.LocationStop{SubjectID: subjectID, Time: at.UTC()})
	return nil
}

// PendingWrites returns the number of queued records.
func (b *Backend) PendingWrites() int {
	return b.fixes.Len() + b.stops.Len()
}

func (b *Backend) flushLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error().Err(err).Msg("Error flushing fix journal")
			}
		}
	}
}

// Flush writes all queued records. A failed batch is put back at the head
// of its queue for the next attempt.
func (b *Backend) Flush() error {
	b.flushM.Lock()
	defer b.flushM.Unlock()

	if fixes := b.fixes.GetAndEmpty(); len(fixes) > 0 {
		start := time.Now()
		if err := b.deps.DB.CreateInBatches(&fixes, 500).Error; err != nil {
			b.fixes.Requeue(fixes...)
			return fmt.Errorf("error writing location fixes: %w", err)
		}
		b.deps.Logger.Debug().Int("count", len(fixes)).Dur("duration", time.Since(start)).Msg("Flushed location fixes")
	}

	if stops := b.stops.GetAndEmpty(); len(stops) > 0 {
		if err := b.deps.DB.Create(&stops).Error; err != nil {
			b.stops.Requeue(stops...)
			return fmt.Errorf("error writing location stops: %w", err)
		}
	}
	return nil
}

// History returns a page of the subject's fixes, newest first. Queued fixes
// are flushed first so the page includes them.
func (b *Backend) History(ctx context.Context, q core.JournalQuery) (core.JournalPage, error) {
	q = q.Normalize()
	if err := b.Flush(); err != nil {
		b.deps.Logger.Warn().Err(err).Msg("History read without pending fixes")
	}

	tx := b.deps.DB.WithContext(ctx).Model(&model.LocationFix{}).Where("subject_id = ?", q.SubjectID)
	if !q.Start.IsZero() {
		tx = tx.Where("time >= ?", q.Start.UTC())
	}
	if !q.End.IsZero() {
		tx = tx.Where("time <= ?", q.End.UTC())
	}
	tx = tx.Session(&gorm.Session{})

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return core.JournalPage{}, fmt.Errorf("error counting location fixes: %w", err)
	}

	var rows []model.LocationFix
	err := tx.Order("time DESC").Order("id DESC").Offset(q.Offset()).Limit(q.Limit).Find(&rows).Error
	if err != nil {
		return core.JournalPage{}, fmt.Errorf("error reading location fixes: %w", err)
	}

	page := core.JournalPage{
		Page:  q.Page,
		Limit: q.Limit,
		Total: int(total),
		Fixes: make([]core.Fix, 0, len(rows)),
	}
	for _, row := range rows {
		page.Fixes = append(page.Fixes, convert.LocationFixToCore(row))
	}
	return page, nil
}
