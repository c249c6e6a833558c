package tracking

import (
	"context"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

// History pages through the current user's stored positions, newest first.
// When the location service fails and a journal is configured the page is
// served from the journal instead. While tracking, a failure with no journal
// yields an empty page.
func (c *Controller) History(ctx context.Context, q api.HistoryQuery) (api.HistoryPage, error) {
	page, err := c.api.History(ctx, q)
	if err == nil {
		return page, nil
	}

	if c.journal != nil {
		local, jerr := c.journal.History(ctx, core.JournalQuery{
			SubjectID: c.cfg.SubjectID,
			Page:      q.Page,
			Limit:     q.Limit,
			Start:     q.StartDate,
			End:       q.EndDate,
		})
		if jerr == nil {
			c.logger.Info("Serving history from journal", "kind", core.KindOf(err), "error", err)
			return historyFromJournal(c.cfg.SubjectID, c.cfg.SubjectType, local), nil
		}
		c.logger.Warn("Journal history failed", "error", jerr)
	}

	if c.Session().IsActive() {
		c.suppress("rest.history", err)
		norm := core.JournalQuery{Page: q.Page, Limit: q.Limit}.Normalize()
		return api.HistoryPage{
			Items:      []streaming.LocationRecord{},
			Pagination: api.Pagination{Page: norm.Page, Limit: norm.Limit},
		}, nil
	}
	return api.HistoryPage{}, err
}

func historyFromJournal(subjectID, subjectType string, p core.JournalPage) api.HistoryPage {
	items := make([]streaming.LocationRecord, 0, len(p.Fixes))
	for _, f := range p.Fixes {
		ts := f.Position.CapturedAt
		items = append(items, streaming.LocationRecord{
			UserID:    subjectID,
			UserType:  subjectType,
			Latitude:  f.Position.Latitude,
			Longitude: f.Position.Longitude,
			Accuracy:  f.Position.Accuracy,
			Altitude:  f.Position.Altitude,
			Heading:   f.Position.Heading,
			Speed:     f.Position.Speed,
			Address:   f.Position.Address,
			SessionID: f.SessionID,
			Timestamp: &ts,
		})
	}
	return api.HistoryPage{
		Items: items,
		Pagination: api.Pagination{
			Page:  p.Page,
			Limit: p.Limit,
			Total: p.Total,
			Pages: p.Pages(),
		},
	}
}
