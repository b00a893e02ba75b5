package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/sirupsen/logrus"
)

// TimestampLayout is how instants are stored: fixed width and UTC, so text
// order equals chronological order on every driver.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
	CREATE TABLE IF NOT EXISTS events (
		source TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		author TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		files_changed INTEGER NOT NULL DEFAULT 0,
		insertions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		fields TEXT,
		PRIMARY KEY (source, id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_author ON events(author);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		generated_at TEXT NOT NULL,
		total INTEGER NOT NULL,
		unrecognized INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_users (
		run_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		events INTEGER NOT NULL,
		percentage DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, user_name)
	);
`

type eventRow struct {
	Source       string         `db:"source"`
	ID           string         `db:"id"`
	Kind         string         `db:"kind"`
	Author       string         `db:"author"`
	Timestamp    string         `db:"timestamp"`
	FilesChanged int            `db:"files_changed"`
	Insertions   int            `db:"insertions"`
	Deletions    int            `db:"deletions"`
	Fields       sql.NullString `db:"fields"`
}

// SQLStore implements Store on SQLite (local, default) or PostgreSQL
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *logrus.Logger
}

// NewStore opens a store. driver is "sqlite3" or "postgres"; for SQLite the
// dsn is a file path or ":memory:".
func NewStore(driver, dsn string, logger *logrus.Logger) (*SQLStore, error) {
	switch driver {
	case "sqlite3":
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, errors.FileSystemErrorf(err, "create database directory for %s", dsn)
			}
		}
	case "postgres":
	default:
		return nil, errors.ConfigErrorf("unsupported storage driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "connect to %s", driver)
	}

	if driver == "sqlite3" {
		// one connection keeps ":memory:" a single database and serializes writers
		db.SetMaxOpenConns(1)
		enableWAL(db, logger)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &SQLStore{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.DatabaseError(err, "init schema")
	}

	return store, nil
}

// enableWAL switches SQLite to write-ahead logging. A database that refuses
// keeps its default journal, which only costs concurrent readers.
func enableWAL(db *sqlx.DB, logger *logrus.Logger) {
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.WithError(err).Debug("WAL journal mode unavailable, using the default")
	}
}

func (s *SQLStore) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SaveEvents upserts events keyed by (source, id)
func (s *SQLStore) SaveEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError(err, "begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events
		(source, id, kind, author, timestamp, files_changed, insertions, deletions, fields)
		VALUES (:source, :id, :kind, :author, :timestamp, :files_changed, :insertions, :deletions, :fields)
		ON CONFLICT (source, id) DO UPDATE SET
			kind = EXCLUDED.kind,
			author = EXCLUDED.author,
			timestamp = EXCLUDED.timestamp,
			files_changed = EXCLUDED.files_changed,
			insertions = EXCLUDED.insertions,
			deletions = EXCLUDED.deletions,
			fields = EXCLUDED.fields
	`

	for _, event := range events {
		row, err := toRow(event)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return errors.DatabaseErrorf(err, "save event %s/%s", event.Source, event.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError(err, "commit events")
	}

	s.logger.WithField("count", len(events)).Debug("Saved events")
	return nil
}

func toRow(event models.Event) (eventRow, error) {
	row := eventRow{
		Source:       event.Source,
		ID:           event.ID,
		Kind:         string(event.Kind),
		Author:       event.Author,
		Timestamp:    FormatTimestamp(event.Timestamp),
		FilesChanged: event.FilesChanged,
		Insertions:   event.Insertions,
		Deletions:    event.Deletions,
	}
	if len(event.Fields) > 0 {
		data, err := json.Marshal(event.Fields)
		if err != nil {
			return row, fmt.Errorf("encode fields of %s/%s: %w", event.Source, event.ID, err)
		}
		row.Fields = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

// Events returns stored events in [since, until), ordered by source,
// timestamp and id. A zero until is open-ended.
func (s *SQLStore) Events(ctx context.Context, since, until time.Time) ([]models.Event, error) {
	query := `
		SELECT source, id, kind, author, timestamp, files_changed, insertions, deletions, fields
		FROM events
		WHERE timestamp >= ?`
	args := []interface{}{FormatTimestamp(since)}
	if !until.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, FormatTimestamp(until))
	}
	query += ` ORDER BY source, timestamp, id`

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError(err, "query events")
	}

	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse(TimestampLayout, row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("stored timestamp %q of %s/%s: %w", row.Timestamp, row.Source, row.ID, err)
		}
		event := models.Event{
			ID:           row.ID,
			Source:       row.Source,
			Kind:         models.EventKind(row.Kind),
			Author:       row.Author,
			Timestamp:    ts,
			FilesChanged: row.FilesChanged,
			Insertions:   row.Insertions,
			Deletions:    row.Deletions,
		}
		if row.Fields.Valid {
			if err := json.Unmarshal([]byte(row.Fields.String), &event.Fields); err != nil {
				return nil, fmt.Errorf("stored fields of %s/%s: %w", row.Source, row.ID, err)
			}
		}
		events = append(events, event)
	}
	return events, nil
}

// Authors returns every distinct author seen, sorted
func (s *SQLStore) Authors(ctx context.Context) ([]string, error) {
	var authors []string
	err := s.db.SelectContext(ctx, &authors, `SELECT DISTINCT author FROM events ORDER BY author`)
	if err != nil {
		return nil, errors.DatabaseError(err, "query authors")
	}
	return authors, nil
}

// CountsByWindow counts stored events per window. Mine counts the events
// whose author mine accepts; a nil mine counts none.
func (s *SQLStore) CountsByWindow(ctx context.Context, windows []models.TimeWindow, mine func(author string) bool) ([]WindowCount, error) {
	counts := make([]WindowCount, 0, len(windows))

	query := s.db.Rebind(`
		SELECT author, COUNT(*) AS events
		FROM events
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY author
	`)

	for _, w := range windows {
		start, end := FormatTimestamp(w.Start), FormatTimestamp(w.End)
		count := WindowCount{Window: w}

		var rows []authorCount
		if err := s.db.SelectContext(ctx, &rows, query, start, end); err != nil {
			return nil, errors.DatabaseErrorf(err, "count events in %s", start)
		}
		for _, row := range rows {
			count.Total += row.Events
			if mine != nil && mine(row.Author) {
				count.Mine += row.Events
			}
		}

		counts = append(counts, count)
	}

	return counts, nil
}

type authorCount struct {
	Author string `db:"author"`
	Events int    `db:"events"`
}

// SaveRun records a run summary and its per-user rows
func (s *SQLStore) SaveRun(ctx context.Context, result *models.AggregateResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO runs (id, generated_at, total, unrecognized)
		VALUES (?, ?, ?, ?)
	`), result.RunID, FormatTimestamp(result.GeneratedAt), result.Total, len(result.Unrecognized))
	if err != nil {
		return errors.DatabaseErrorf(err, "save run %s", result.RunID)
	}

	userQuery := tx.Rebind(`
		INSERT INTO run_users (run_id, user_name, events, percentage)
		VALUES (?, ?, ?, ?)
	`)
	for name, stats := range result.Users {
		if _, err := tx.ExecContext(ctx, userQuery, result.RunID, name, len(stats.Events), stats.Percentage); err != nil {
			return errors.DatabaseErrorf(err, "save run %s user %s", result.RunID, name)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseErrorf(err, "commit run %s", result.RunID)
	}
	return nil
}

// LatestRun returns the most recently generated run, or ErrNotFound
func (s *SQLStore) LatestRun(ctx context.Context) (*RunSummary, error) {
	var run RunSummary
	err := s.db.GetContext(ctx, &run, `
		SELECT id, generated_at, total, unrecognized
		FROM runs ORDER BY generated_at DESC LIMIT 1
	`)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, errors.DatabaseError(err, "query latest run")
	}

	err = s.db.SelectContext(ctx, &run.Users, s.db.Rebind(`
		SELECT user_name, events, percentage
		FROM run_users WHERE run_id = ? ORDER BY user_name
	`), run.ID)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "query users of run %s", run.ID)
	}

	return &run, nil
}

// FormatTimestamp renders t in TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DriverFor maps a configured storage type to its database/sql driver name
func DriverFor(storageType string) (string, error) {
	switch strings.ToLower(storageType) {
	case "", "sqlite", "sqlite3":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", errors.ConfigErrorf("unsupported storage type %q", storageType)
	}
}
