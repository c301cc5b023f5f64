package motion

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS motion_state (
	tag        TEXT PRIMARY KEY,
	counter    INTEGER NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// Store persists tracker snapshots in SQLite so alert windows survive a restart.
type Store struct {
	db *sql.DB
}

// Open opens or creates the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between save and load
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save replaces the stored state with snap.
func (s *Store) Save(ctx context.Context, snap map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin state save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM motion_state`); err != nil {
		return fmt.Errorf("failed to clear motion state: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO motion_state (tag, counter) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare state insert: %w", err)
	}
	defer stmt.Close()

	for tag, counter := range snap {
		if _, err := stmt.ExecContext(ctx, tag, counter); err != nil {
			return fmt.Errorf("failed to save state for %s: %w", tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit motion state: %w", err)
	}
	return nil
}

// Load returns the stored state. An empty database yields an empty map.
func (s *Store) Load(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, counter FROM motion_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query motion state: %w", err)
	}
	defer rows.Close()

	snap := make(map[string]int)
	for rows.Next() {
		var tag string
		var counter int
		if err := rows.Scan(&tag, &counter); err != nil {
			return nil, fmt.Errorf("failed to scan motion state: %w", err)
		}
		snap[tag] = counter
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read motion state: %w", err)
	}
	return snap, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
