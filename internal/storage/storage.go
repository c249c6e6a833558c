// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/studyhub/locsync/pkg/core"
)

// Backend is the interface all fix journal implementations must satisfy.
// Record methods must not block on I/O; backends queue and flush on their own.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Recording
	RecordFix(f core.Fix) error
	RecordStop(subjectID string, at time.Time) error

	// Reading
	History(ctx context.Context, q core.JournalQuery) (core.JournalPage, error)
}

// Pending is an optional interface for backends that buffer writes.
type Pending interface {
	// PendingWrites returns the number of records not yet flushed.
	PendingWrites() int
}
