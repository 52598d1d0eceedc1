// Package state remembers the event subscriptions the demo enabled on the
// gateway so that a restarted demo can disable the ones a crashed run left
// behind.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	busyTimeoutMillis = 5000
	connectionTimeout = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS event_instances (
	device_id   TEXT NOT NULL,
	event       TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	enabled_at  INTEGER NOT NULL,
	PRIMARY KEY (device_id, instance_id)
)`

// EventInstance is an event subscription enabled on a device.
type EventInstance struct {
	DeviceID   string
	Event      string
	InstanceID string
	EnabledAt  time.Time
}

// Store is a SQLite-backed record of enabled event instances.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // best effort cleanup on error path
		return nil, fmt.Errorf("creating state schema: %w", err)
	}
	_ = os.Chmod(path, filePermissions) //nolint:errcheck // the file exists once the schema is written

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing state database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Save records an enabled instance. Saving the same instance twice keeps
// the latest event name and time.
func (s *Store) Save(ctx context.Context, inst EventInstance) error {
	if inst.EnabledAt.IsZero() {
		inst.EnabledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_instances (device_id, event, instance_id, enabled_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (device_id, instance_id) DO UPDATE SET event = excluded.event, enabled_at = excluded.enabled_at`,
		inst.DeviceID, inst.Event, inst.InstanceID, inst.EnabledAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving event instance: %w", err)
	}
	return nil
}

// Delete forgets an instance. Deleting an unknown instance is not an error.
func (s *Store) Delete(ctx context.Context, deviceID, instanceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM event_instances WHERE device_id = ? AND instance_id = ?`,
		deviceID, instanceID,
	)
	if err != nil {
		return fmt.Errorf("deleting event instance: %w", err)
	}
	return nil
}

// List returns all recorded instances, oldest first.
func (s *Store) List(ctx context.Context) ([]EventInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, event, instance_id, enabled_at FROM event_instances ORDER BY enabled_at, device_id, instance_id`)
	if err != nil {
		return nil, fmt.Errorf("listing event instances: %w", err)
	}
	defer rows.Close()

	var out []EventInstance
	for rows.Next() {
		var inst EventInstance
		var enabledAt int64
		if err := rows.Scan(&inst.DeviceID, &inst.Event, &inst.InstanceID, &enabledAt); err != nil {
			return nil, fmt.Errorf("scanning event instance: %w", err)
		}
		inst.EnabledAt = time.UnixMilli(enabledAt)
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing event instances: %w", err)
	}
	return out, nil
}
