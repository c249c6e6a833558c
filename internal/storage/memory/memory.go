// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studyhub/locsync/pkg/core"
)

// DefaultLimit is the number of fixes kept per subject.
const DefaultLimit = 5000

// SubjectRecord groups a subject's journaled fixes and stops.
type SubjectRecord struct {
	Fixes []core.Fix
	Stops []time.Time
}

// Backend keeps the fix journal in memory. Each subject keeps at most limit
// fixes; older ones are discarded.
type Backend struct {
	limit    int
	subjects map[string]*SubjectRecord
	closed   bool
	mu       sync.RWMutex
}

// New creates a new memory backend. A non-positive limit uses DefaultLimit.
func New(limit int) *Backend {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Backend{
		limit:    limit,
		subjects: make(map[string]*SubjectRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) record(subjectID string) *SubjectRecord {
	rec, ok := b.subjects[subjectID]
	if !ok {
		rec = &SubjectRecord{}
		b.subjects[subjectID] = rec
	}
	return rec
}

// RecordFix appends a fix to the subject's journal
func (b *Backend) RecordFix(f core.Fix) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrJournalClosed
	}

	rec := b.record(f.SubjectID)
	rec.Fixes = append(rec.Fixes, f)
	if n := len(rec.Fixes) - b.limit; n > 0 {
		rec.Fixes = append(rec.Fixes[:0:0], rec.Fixes[n:]...)
	}
	return nil
}

// RecordStop notes the end of a session for the subject
func (b *Backend) RecordStop(subjectID string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrJournalClosed
	}

	rec := b.record(subjectID)
	rec.Stops = append(rec.Stops, at)
	return nil
}

// History returns a page of the subject's fixes, newest first.
func (b *Backend) History(_ context.Context, q core.JournalQuery) (core.JournalPage, error) {
	q = q.Normalize()

	b.mu.RLock()
	var matched []core.Fix
	if rec, ok := b.subjects[q.SubjectID]; ok {
		for _, f := range rec.Fixes {
			if q.Contains(f.Position.CapturedAt) {
				matched = append(matched, f)
			}
		}
	}
	b.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Position.CapturedAt.After(matched[j].Position.CapturedAt)
	})

	page := core.JournalPage{Page: q.Page, Limit: q.Limit, Total: len(matched)}
	start := min(q.Offset(), len(matched))
	end := min(start+q.Limit, len(matched))
	page.Fixes = matched[start:end]
	return page, nil
}

// Stops returns the recorded stop times for a subject.
func (b *Backend) Stops(subjectID string) []time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.subjects[subjectID]
	if !ok {
		return nil
	}
	return append([]time.Time(nil), rec.Stops...)
}
