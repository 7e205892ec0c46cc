package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pricewise/database"
	"pricewise/models"
)

type RunRepository struct {
	db *database.DB
}

func NewRunRepository(db *database.DB) *RunRepository {
	return &RunRepository{db: db}
}

// AppendRun inserts one scrape run record
func (r *RunRepository) AppendRun(ctx context.Context, run models.ScrapeRun) error {
	query := r.db.Rebind(`
		INSERT INTO scrape_runs (id, site_id, site_name, query, region, status, listing_count, attempts, duration_ms, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var errMsg sql.NullString
	if run.Error != "" {
		errMsg = sql.NullString{String: run.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.SiteID, run.SiteName, run.Query, run.Region, string(run.Status),
		run.ListingCount, run.Attempts, run.Duration.Milliseconds(), errMsg,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append scrape run: %w", err)
	}
	return nil
}

// Runs returns runs finished at or after since, oldest first
func (r *RunRepository) Runs(ctx context.Context, since time.Time) ([]models.ScrapeRun, error) {
	query := r.db.Rebind(`
		SELECT id, site_id, site_name, query, region, status, listing_count, attempts, duration_ms, error_message, started_at, finished_at
		FROM scrape_runs
		WHERE finished_at >= ?
		ORDER BY finished_at ASC, id ASC
	`)

	rows, err := r.db.QueryContext(ctx, query, sinceMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to get scrape runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		var status string
		var errMsg sql.NullString
		var durationMs, startedAt, finishedAt int64
		err := rows.Scan(
			&run.ID, &run.SiteID, &run.SiteName, &run.Query, &run.Region, &status,
			&run.ListingCount, &run.Attempts, &durationMs, &errMsg, &startedAt, &finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scrape run: %w", err)
		}
		run.Status = models.RunStatus(status)
		run.Error = errMsg.String
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		run.FinishedAt = time.UnixMilli(finishedAt).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scrape runs: %w", err)
	}
	return runs, nil
}
