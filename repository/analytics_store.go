package repository

import (
	"pricewise/database"
)

// AnalyticsStore is the SQL-backed analytics log
type AnalyticsStore struct {
	*EventRepository
	*RunRepository
}

func NewAnalyticsStore(db *database.DB) *AnalyticsStore {
	return &AnalyticsStore{
		EventRepository: NewEventRepository(db),
		RunRepository:   NewRunRepository(db),
	}
}
