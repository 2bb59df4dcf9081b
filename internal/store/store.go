// Package store persists the execution journal in SQLite so a session can
// be listed, resumed, and replayed after the process exits. The in-memory
// engine log stays authoritative while a process is running.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"nbgather/internal/logging"
	"nbgather/internal/types"
)

// Store wraps the journal database.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	ID         string
	CreatedAt  time.Time
	Generation int
	CellCount  int
}

// Open initializes the journal database at path, creating directories and
// running migrations as needed.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	// The journal is single-writer; one connection keeps SQLite happy.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("journal open at %s", path)
	return s, nil
}

// Close shuts the database down.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSession inserts the session row if it does not exist and returns
// its current generation.
func (s *Store) ensureSession(ctx context.Context, sessionID string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at, generation) VALUES (?, ?, 0)`,
		sessionID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("ensure session %s: %w", sessionID, err)
	}

	var generation int
	err = s.db.QueryRowContext(ctx,
		`SELECT generation FROM sessions WHERE id = ?`, sessionID).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	return generation, nil
}

// AppendCell journals a logged cell under the session's current generation.
func (s *Store) AppendCell(ctx context.Context, sessionID string, cell types.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	generation, err := s.ensureSession(ctx, sessionID)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cells
		   (session_id, generation, ordinal, cell_id, language, source, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, generation, cell.Ordinal, cell.ID, string(cell.Language),
		cell.Source, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("journal cell %s: %w", cell.ID, err)
	}

	logging.StoreDebug("journaled cell %s (session %s, gen %d, ordinal %d)",
		cell.ID, sessionID, generation, cell.Ordinal)
	return nil
}

// Rotate starts a new generation for the session. Older generations stay
// on disk for inspection but are no longer part of the live log.
func (s *Store) Rotate(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ensureSession(ctx, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET generation = generation + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("rotate session %s: %w", sessionID, err)
	}

	logging.Store("rotated session %s", sessionID)
	return nil
}

// Cells returns the live (current-generation) log of a session in
// execution order.
func (s *Store) Cells(ctx context.Context, sessionID string) ([]types.Cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.cell_id, c.language, c.source, c.ordinal
		   FROM cells c
		   JOIN sessions s ON s.id = c.session_id AND s.generation = c.generation
		  WHERE c.session_id = ?
		  ORDER BY c.ordinal`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read session %s cells: %w", sessionID, err)
	}
	defer rows.Close()

	var cells []types.Cell
	for rows.Next() {
		var cell types.Cell
		var language string
		if err := rows.Scan(&cell.ID, &language, &cell.Source, &cell.Ordinal); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		cell.Language = types.Language(language)
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// Sessions lists stored sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.created_at, s.generation,
		        (SELECT COUNT(*) FROM cells c
		          WHERE c.session_id = s.id AND c.generation = s.generation)
		   FROM sessions s
		  ORDER BY s.created_at DESC, s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var created string
		if err := rows.Scan(&info.ID, &created, &info.Generation, &info.CellCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339, created)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// CurrentSession returns the newest stored session ID, or "" when the
// journal is empty.
func (s *Store) CurrentSession(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("current session: %w", err)
	}
	return id, nil
}
