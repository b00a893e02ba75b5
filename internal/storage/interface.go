package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rohankatakam/dashi/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// WindowCount is the activity inside one window: every stored event, and
// the events whose author is one of a user's aliases
type WindowCount struct {
	Window models.TimeWindow `json:"window"`
	Total  int               `json:"total"`
	Mine   int               `json:"mine"`
}

// RunSummary is one persisted aggregation run
type RunSummary struct {
	ID           string    `db:"id" json:"id"`
	GeneratedAt  string    `db:"generated_at" json:"generated_at"`
	Total        int       `db:"total" json:"total"`
	Unrecognized int       `db:"unrecognized" json:"unrecognized"`
	Users        []RunUser `db:"-" json:"users"`
}

// RunUser is one user's row of a persisted run
type RunUser struct {
	Name       string  `db:"user_name" json:"name"`
	Events     int     `db:"events" json:"events"`
	Percentage float64 `db:"percentage" json:"percentage"`
}

// Store defines the storage interface
type Store interface {
	// Event operations
	SaveEvents(ctx context.Context, events []models.Event) error
	Events(ctx context.Context, since, until time.Time) ([]models.Event, error)
	Authors(ctx context.Context) ([]string, error)
	CountsByWindow(ctx context.Context, windows []models.TimeWindow, mine func(author string) bool) ([]WindowCount, error)

	// Run operations
	SaveRun(ctx context.Context, result *models.AggregateResult) error
	LatestRun(ctx context.Context) (*RunSummary, error)

	// Close connection
	Close() error
}
