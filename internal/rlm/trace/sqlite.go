package trace

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteRecorder persists events to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.RWMutex
	ownsDB bool
}

// SQLiteConfig configures the SQLite-backed recorder.
type SQLiteConfig struct {
	// Path is the database file. Empty means an in-memory database.
	Path string

	// DB is an existing connection to use instead of opening one.
	DB *sql.DB
}

// NewSQLiteRecorder opens (or adopts) a database and ensures the schema.
func NewSQLiteRecorder(cfg SQLiteConfig) (*SQLiteRecorder, error) {
	var db *sql.DB
	var ownsDB bool

	if cfg.DB != nil {
		db = cfg.DB
	} else {
		dsn := cfg.Path
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		var err error
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		ownsDB = true
	}

	r := &SQLiteRecorder{db: db, ownsDB: ownsDB}
	if _, err := db.Exec(schemaSQL); err != nil {
		if ownsDB {
			db.Close()
		}
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return r, nil
}

// Close closes the database if this recorder opened it.
func (r *SQLiteRecorder) Close() error {
	if r.ownsDB && r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record implements Recorder.
func (r *SQLiteRecorder) Record(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sessionID sql.NullString
	if event.SessionID != "" {
		sessionID = sql.NullString{String: event.SessionID, Valid: true}
	}
	var detail sql.NullString
	if event.Detail != "" {
		detail = sql.NullString{String: event.Detail, Valid: true}
	}

	_, err := r.db.ExecContext(context.Background(), `
		INSERT INTO trace_events (
			id, session_id, type, turn, detail, tokens, duration_ns, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		sessionID,
		string(event.Type),
		event.Turn,
		detail,
		event.Tokens,
		event.Duration.Nanoseconds(),
		event.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert trace event: %w", err)
	}
	return nil
}

// EventsBySession returns up to limit events for a session in
// chronological order.
func (r *SQLiteRecorder) EventsBySession(sessionID string, limit int) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(context.Background(), `
		SELECT id, session_id, type, turn, detail, tokens, duration_ns, created_at
		FROM trace_events
		WHERE session_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trace events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Stats aggregates statistics across all recorded events.
func (r *SQLiteRecorder) Stats() (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{EventsByType: make(map[EventType]int)}

	row := r.db.QueryRowContext(context.Background(), `
		SELECT COUNT(*), COALESCE(SUM(tokens), 0), COALESCE(SUM(duration_ns), 0)
		FROM trace_events
	`)
	var durationNs int64
	if err := row.Scan(&stats.TotalEvents, &stats.TotalTokens, &durationNs); err != nil {
		return Stats{}, fmt.Errorf("scan trace stats: %w", err)
	}
	stats.TotalDuration = time.Duration(durationNs)

	rows, err := r.db.QueryContext(context.Background(), `
		SELECT type, COUNT(*) FROM trace_events GROUP BY type
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("query trace stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return Stats{}, fmt.Errorf("scan trace stats: %w", err)
		}
		stats.EventsByType[EventType(eventType)] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate trace stats: %w", err)
	}

	return stats, nil
}

// Clear deletes all recorded events.
func (r *SQLiteRecorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(context.Background(), "DELETE FROM trace_events"); err != nil {
		return fmt.Errorf("delete trace events: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			id         string
			sessionID  sql.NullString
			eventType  string
			turn       int
			detail     sql.NullString
			tokens     int
			durationNs int64
			createdAt  int64
		)
		if err := rows.Scan(
			&id, &sessionID, &eventType, &turn, &detail, &tokens,
			&durationNs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}

		event := Event{
			ID:        id,
			Type:      EventType(eventType),
			Turn:      turn,
			Tokens:    tokens,
			Duration:  time.Duration(durationNs),
			Timestamp: time.UnixMilli(createdAt),
		}
		if sessionID.Valid {
			event.SessionID = sessionID.String
		}
		if detail.Valid {
			event.Detail = detail.String
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace events: %w", err)
	}
	return events, nil
}

var _ Recorder = (*SQLiteRecorder)(nil)
