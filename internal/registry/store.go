package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const registrationsSchema = `
CREATE TABLE IF NOT EXISTS registrations (
	device_id     TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	type_name     TEXT NOT NULL,
	registered_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registrations_category ON registrations(category);
`

// Store persists id assignments made by the id service. It gives
// operators an audit trail of every device that ever registered, which
// outlives the retained announcements on the bus.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database and ensures the
// registrations table exists.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, registrationsSchema); err != nil {
		return nil, fmt.Errorf("registry: init registrations schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts a registration. Re-registering an existing device id
// replaces the previous record.
func (s *Store) Record(ctx context.Context, desc Descriptor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO registrations (device_id, category, type_name, registered_at)
		 VALUES (?, ?, ?, ?)`,
		desc.DeviceID,
		desc.Category,
		desc.TypeName,
		desc.RegisteredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("registry: record registration: %w", err)
	}
	return nil
}

// List returns every recorded registration, newest first.
func (s *Store) List(ctx context.Context) ([]Descriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, category, type_name, registered_at
		 FROM registrations
		 ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("registry: list registrations: %w", err)
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var desc Descriptor
		var registeredAt string
		if err := rows.Scan(&desc.DeviceID, &desc.Category, &desc.TypeName, &registeredAt); err != nil {
			return nil, fmt.Errorf("registry: scan registration: %w", err)
		}
		desc.RegisteredAt, err = time.Parse(time.RFC3339Nano, registeredAt)
		if err != nil {
			return nil, fmt.Errorf("registry: parse registered_at: %w", err)
		}
		out = append(out, desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list registrations: %w", err)
	}
	return out, nil
}
