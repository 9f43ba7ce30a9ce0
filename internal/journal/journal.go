// ABOUTME: SQLite-backed append-only log of marker adds and removals
// ABOUTME: Entries get a UUID and UTC timestamp when the caller leaves them unset

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Action is a journaled marker mutation.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Entry is one journaled mutation.
type Entry struct {
	ID        string
	Action    Action
	MarkerID  int
	Name      string
	Lon       float64
	Lat       float64
	Link      *string
	PostText  string
	Actor     string // chat key of whoever triggered it
	Timestamp time.Time
}

// Filter narrows List results.
type Filter struct {
	Action   *Action
	MarkerID *int
	Limit    int // default 100, max 1000
}

// Journal is the SQLite journal.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the journal database at path, creating parent
// directories as needed. A nil logger falls back to slog.Default.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "journal")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("journal opened", "path", path)
	return &Journal{db: db, logger: logger}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS marker_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		action TEXT NOT NULL,
		marker_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		link TEXT,
		post_text TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		ts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_marker_events_marker ON marker_events(marker_id);
`

// Record appends e. ID and Timestamp are filled in when empty.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO marker_events (event_id, action, marker_id, name, lon, lat, link, post_text, actor, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Action),
		e.MarkerID,
		e.Name,
		e.Lon,
		e.Lat,
		e.Link,
		e.PostText,
		e.Actor,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	j.logger.Debug("journaled marker event",
		"id", e.ID,
		"action", e.Action,
		"marker_id", e.MarkerID)
	return nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// List returns matching entries, newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	var action *string
	if f.Action != nil {
		a := string(*f.Action)
		action = &a
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, action, marker_id, name, lon, lat, link, post_text, actor, ts
		FROM marker_events
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR marker_id = ?)
		ORDER BY seq DESC
		LIMIT ?
	`, action, action, f.MarkerID, f.MarkerID, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var actionStr, tsStr string
		if err := rows.Scan(&e.ID, &actionStr, &e.MarkerID, &e.Name, &e.Lon, &e.Lat, &e.Link, &e.PostText, &e.Actor, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.Action = Action(actionStr)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
