package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pricewise/database"
	"pricewise/models"
)

type EventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// AppendEvent inserts one search event. A blank user id is stored as NULL.
func (r *EventRepository) AppendEvent(ctx context.Context, e models.SearchEvent) error {
	query := r.db.Rebind(`
		INSERT INTO search_events (id, user_id, query, region, country, category, result_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var userID sql.NullString
	if e.UserID != "" {
		userID = sql.NullString{String: e.UserID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		e.ID, userID, e.Query, e.Region, e.Country, e.Category, e.ResultCount, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append search event: %w", err)
	}
	return nil
}

// Events returns events created at or after since, oldest first
func (r *EventRepository) Events(ctx context.Context, since time.Time) ([]models.SearchEvent, error) {
	query := r.db.Rebind(`
		SELECT id, user_id, query, region, country, category, result_count, created_at
		FROM search_events
		WHERE created_at >= ?
		ORDER BY created_at ASC, id ASC
	`)
	return r.queryEvents(ctx, query, sinceMillis(since))
}

// UserEvents returns one user's events created at or after since, oldest first
func (r *EventRepository) UserEvents(ctx context.Context, userID string, since time.Time) ([]models.SearchEvent, error) {
	if userID == "" {
		return nil, nil
	}
	query := r.db.Rebind(`
		SELECT id, user_id, query, region, country, category, result_count, created_at
		FROM search_events
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`)
	return r.queryEvents(ctx, query, userID, sinceMillis(since))
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...any) ([]models.SearchEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get search events: %w", err)
	}
	defer rows.Close()

	var events []models.SearchEvent
	for rows.Next() {
		var e models.SearchEvent
		var userID sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &userID, &e.Query, &e.Region, &e.Country, &e.Category, &e.ResultCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan search event: %w", err)
		}
		e.UserID = userID.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search events: %w", err)
	}
	return events, nil
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixMilli()
}
