// Package sqlite provides SQLite-backed bridge persistence.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tablelink/bridge/internal/storage"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_grant (
	slot INTEGER PRIMARY KEY CHECK (slot = 1),
	session_id TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	base_url TEXT NOT NULL,
	saved_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS telemetry_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	severity TEXT NOT NULL,
	component TEXT NOT NULL,
	message TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
`

// Store provides SQLite-backed session and telemetry persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a bridge SQLite store and ensures the schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutSession persists the most recent session grant, replacing any previous
// one. The table holds at most one row.
func (s *Store) PutSession(ctx context.Context, record storage.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	record.SessionID = strings.TrimSpace(record.SessionID)
	record.BaseURL = strings.TrimSpace(record.BaseURL)
	if record.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if record.ExpiresAt.IsZero() {
		return fmt.Errorf("session expiry is required")
	}
	if record.SavedAt.IsZero() {
		record.SavedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO session_grant (slot, session_id, expires_at, base_url, saved_at)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET
	session_id = excluded.session_id,
	expires_at = excluded.expires_at,
	base_url = excluded.base_url,
	saved_at = excluded.saved_at`,
		record.SessionID,
		record.ExpiresAt.UTC().Format(time.RFC3339Nano),
		record.BaseURL,
		record.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("persist session grant: %w", err)
	}
	return nil
}

// GetSession returns the persisted session grant.
func (s *Store) GetSession(ctx context.Context) (storage.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionRecord{}, fmt.Errorf("storage is not configured")
	}

	var record storage.SessionRecord
	var expiresAt, savedAt string
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT session_id, expires_at, base_url, saved_at FROM session_grant WHERE slot = 1`).
		Scan(&record.SessionID, &expiresAt, &record.BaseURL, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("load session grant: %w", err)
	}

	record.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("parse session expiry: %w", err)
	}
	record.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return storage.SessionRecord{}, fmt.Errorf("parse session saved_at: %w", err)
	}
	return record, nil
}

// DeleteSession clears the persisted session grant.
func (s *Store) DeleteSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM session_grant WHERE slot = 1`); err != nil {
		return fmt.Errorf("delete session grant: %w", err)
	}
	return nil
}

// AppendTelemetryEvent persists one operational telemetry event.
func (s *Store) AppendTelemetryEvent(ctx context.Context, evt storage.TelemetryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	evt.Severity = strings.TrimSpace(evt.Severity)
	evt.Component = strings.TrimSpace(evt.Component)
	evt.Message = strings.TrimSpace(evt.Message)
	if evt.Severity == "" {
		return fmt.Errorf("severity is required")
	}
	if evt.Message == "" {
		return fmt.Errorf("message is required")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	metadata := evt.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal telemetry metadata: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO telemetry_events (timestamp, severity, component, message, metadata)
VALUES (?, ?, ?, ?, ?)`,
		evt.Timestamp.UTC().Format(time.RFC3339Nano),
		evt.Severity,
		evt.Component,
		evt.Message,
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("append telemetry event: %w", err)
	}
	return nil
}

// ListTelemetryEvents returns the most recent telemetry events, newest first.
func (s *Store) ListTelemetryEvents(ctx context.Context, limit int) ([]storage.TelemetryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT timestamp, severity, component, message, metadata
FROM telemetry_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list telemetry events: %w", err)
	}
	defer rows.Close()

	var events []storage.TelemetryEvent
	for rows.Next() {
		var evt storage.TelemetryEvent
		var timestamp, metadataJSON string
		if err := rows.Scan(&timestamp, &evt.Severity, &evt.Component, &evt.Message, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		evt.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse telemetry timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("parse telemetry metadata: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry events: %w", err)
	}
	return events, nil
}
