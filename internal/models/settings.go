package models

import (
	"fmt"
	"time"
)

// Settings — параметры начисления, читаются в начале каждого прогона.
type Settings struct {
	MinDurationMinutes float64 `db:"min_duration_minutes" json:"min_duration_minutes"`
	PointsPerDay       int     `db:"points_per_day" json:"points_per_day"`
	ValidityDays       int     `db:"validity_days" json:"validity_days"`
	StrictDates        bool    `db:"strict_dates" json:"strict_dates"`
}

func DefaultSettings() Settings {
	return Settings{
		MinDurationMinutes: 40,
		PointsPerDay:       1,
		ValidityDays:       90,
	}
}

func (s Settings) Validate() error {
	if s.MinDurationMinutes < 0 {
		return fmt.Errorf("min duration must be >= 0, got %v", s.MinDurationMinutes)
	}
	if s.PointsPerDay <= 0 {
		return fmt.Errorf("points per day must be > 0, got %d", s.PointsPerDay)
	}
	if s.ValidityDays <= 0 {
		return fmt.Errorf("validity days must be > 0, got %d", s.ValidityDays)
	}
	return nil
}

// Cutoff — записи с датой <= cutoff считаются сгоревшими.
func (s Settings) Cutoff(today time.Time) time.Time {
	return DateOf(today).AddDate(0, 0, -s.ValidityDays)
}

// Ingestion — запись истории загрузок.
type Ingestion struct {
	ID         string    `db:"id" json:"id"`
	Tenant     string    `db:"tenant_id" json:"tenant"`
	Filename   string    `db:"filename" json:"filename"`
	Rows       int       `db:"rows_read" json:"rows"`
	Sessions   int       `db:"sessions" json:"sessions"`
	Users      int       `db:"users" json:"users"`
	NewEntries int       `db:"new_entries" json:"new_entries"`
	Success    bool      `db:"success" json:"success"`
	Error      string    `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
