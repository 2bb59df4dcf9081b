package store

import "fmt"

// migrations run in order; user_version tracks the last applied step.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		generation INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS cells (
		session_id TEXT NOT NULL,
		generation INTEGER NOT NULL,
		ordinal    INTEGER NOT NULL,
		cell_id    TEXT NOT NULL,
		language   TEXT NOT NULL,
		source     TEXT NOT NULL,
		logged_at  TEXT NOT NULL,
		PRIMARY KEY (session_id, generation, ordinal),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cells_session
		ON cells(session_id, generation)`,
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
	}
	return nil
}
