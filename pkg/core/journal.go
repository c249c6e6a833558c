package core

import (
	"errors"
	"time"
)

// ErrJournalClosed is returned when recording into a closed journal.
var ErrJournalClosed = errors.New("journal closed")

// Journal paging defaults.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// JournalQuery selects a page of journaled fixes for one subject, newest first.
// Zero Start or End leaves that side of the time range open.
type JournalQuery struct {
	SubjectID string
	Page      int
	Limit     int
	Start     time.Time
	End       time.Time
}

// Normalize clamps page and limit to usable values.
func (q JournalQuery) Normalize() JournalQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	return q
}

// Offset returns the number of fixes skipped before the page.
func (q JournalQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// Contains reports whether t falls inside the query's time range.
func (q JournalQuery) Contains(t time.Time) bool {
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && t.After(q.End) {
		return false
	}
	return true
}

// JournalPage is one page of journaled fixes.
type JournalPage struct {
	Fixes []Fix
	Page  int
	Limit int
	Total int
}

// Pages returns the number of pages needed for Total fixes.
func (p JournalPage) Pages() int {
	if p.Limit < 1 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
