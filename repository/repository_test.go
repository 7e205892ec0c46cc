package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pricewise/analytics"
	"pricewise/database"
	"pricewise/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ analytics.Store = (*AnalyticsStore)(nil)

func openStore(t *testing.T) *AnalyticsStore {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "pricewise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.CreateTables(context.Background()))
	return NewAnalyticsStore(db)
}

func TestEventRepository(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	events := []models.SearchEvent{
		{ID: "e1", UserID: "u1", Query: "laptop", Region: "uganda", Country: "Uganda", Category: "electronics", ResultCount: 8, CreatedAt: base.Add(-2 * time.Hour)},
		{ID: "e2", Query: "tv", Region: "kenya", Country: "Kenya", ResultCount: 0, CreatedAt: base.Add(-time.Hour)},
		{ID: "e3", UserID: "u1", Query: "dress", Region: "uganda", Country: "Uganda", Category: "fashion", ResultCount: 3, CreatedAt: base},
	}
	for _, e := range events {
		require.NoError(t, store.AppendEvent(ctx, e))
	}

	all, err := store.Events(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, events, all)

	recent, err := store.Events(ctx, base.Add(-90*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "", recent[0].UserID)

	mine, err := store.UserEvents(ctx, "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "laptop", mine[0].Query)

	none, err := store.UserEvents(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Error(t, store.AppendEvent(ctx, events[0]), "duplicate id must be rejected")
}

func TestRunRepository(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	finished := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	runs := []models.ScrapeRun{
		{ID: "r1", SiteID: "jumia-ug", SiteName: "Jumia Uganda", Query: "phone", Region: "uganda", Status: models.RunFailed,
			Attempts: 3, Duration: 2500 * time.Millisecond, Error: "http 503", StartedAt: finished.Add(-2500 * time.Millisecond), FinishedAt: finished},
		{ID: "r2", SiteID: "amazon", SiteName: "Amazon", Query: "phone", Status: models.RunSuccess,
			ListingCount: 5, Attempts: 1, Duration: time.Second, StartedAt: finished.Add(-time.Second), FinishedAt: finished.Add(time.Millisecond)},
	}
	for _, r := range runs {
		require.NoError(t, store.AppendRun(ctx, r))
	}

	got, err := store.Runs(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, runs, got)

	statuses := analytics.ScraperStatuses(got, nil)
	require.Len(t, statuses, 2)
	assert.Equal(t, analytics.StatusSuccess, statuses[0].Status)
	assert.Equal(t, analytics.StatusFailed, statuses[1].Status)
	assert.Equal(t, "http 503", statuses[1].ErrorMessage)
}

func TestStoreBacksAnalyticsLog(t *testing.T) {
	store := openStore(t)
	l := analytics.NewLog(store)

	l.RecordSearch(models.SearchEvent{UserID: "u1", Query: "Phone", Country: "Uganda", ResultCount: 4})
	l.RecordSearch(models.SearchEvent{UserID: "u2", Query: "phone", Country: "Kenya", ResultCount: 2})
	l.Wait()

	s, err := l.Summarize(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalSearches)
	assert.Equal(t, 2, s.UniqueUsers)
	assert.Equal(t, []analytics.QueryCount{{Query: "phone", Count: 2}}, s.TopQueries)
	assert.Equal(t, 3.0, s.AverageResultsPerSearch)
}
