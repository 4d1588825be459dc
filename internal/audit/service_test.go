package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/shared"
	_ "github.com/tradewind-erp/tradewind/testing"
)

type memoryTimeline struct {
	entries []Entry
}

func (m *memoryTimeline) ListTimeline(_ context.Context, companyID int64, f Filters) ([]Entry, int, error) {
	var matched []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.CompanyID != companyID {
			continue
		}
		if !f.From.IsZero() && e.At.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.At.After(f.To) {
			continue
		}
		if f.ActorID > 0 && e.ActorID != f.ActorID {
			continue
		}
		if f.Entity != "" && e.Entity != f.Entity {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func timelineFixture() *memoryTimeline {
	base := time.Date(2025, 8, 15, 9, 0, 0, 0, time.UTC)
	return &memoryTimeline{entries: []Entry{
		{ID: 1, CompanyID: 1, ActorID: 7, Action: "sale.commit", Entity: "invoice", EntityID: "11", At: base},
		{ID: 2, CompanyID: 1, ActorID: 7, Action: "purchase.commit", Entity: "purchase", EntityID: "3", At: base.Add(time.Hour)},
		{ID: 3, CompanyID: 1, ActorID: 9, Action: "inventory.adjust", Entity: "inventory_item", EntityID: "1:1", At: base.Add(2 * time.Hour)},
		{ID: 4, CompanyID: 2, ActorID: 5, Action: "sale.commit", Entity: "invoice", EntityID: "50", At: base},
	}}
}

func testContext() shared.RequestContext {
	return shared.RequestContext{CompanyID: 1, UserID: 7, Role: "admin"}
}

func TestTimelineScopedToCompany(t *testing.T) {
	svc := NewService(timelineFixture())

	entries, paging, err := svc.Timeline(context.Background(), testContext(), Filters{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, 3, paging.Total)
	require.Equal(t, int64(3), entries[0].ID, "newest entry first")
	for _, e := range entries {
		require.Equal(t, int64(1), e.CompanyID)
	}
}

func TestTimelineFilters(t *testing.T) {
	svc := NewService(timelineFixture())

	entries, _, err := svc.Timeline(context.Background(), testContext(), Filters{ActorID: 7})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, _, err = svc.Timeline(context.Background(), testContext(), Filters{Action: "inventory.adjust"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "1:1", entries[0].EntityID)

	from := time.Date(2025, 8, 15, 9, 30, 0, 0, time.UTC)
	entries, _, err = svc.Timeline(context.Background(), testContext(), Filters{From: from})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTimelinePaging(t *testing.T) {
	svc := NewService(timelineFixture())

	entries, paging, err := svc.Timeline(context.Background(), testContext(), Filters{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 3, paging.Total)
	require.Equal(t, 2, paging.TotalPages)
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	svc := NewService(timelineFixture())

	from := time.Date(2025, 8, 16, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	_, _, err := svc.Timeline(context.Background(), testContext(), Filters{From: from, To: to})
	require.ErrorIs(t, err, ErrInvalidRange)
}
