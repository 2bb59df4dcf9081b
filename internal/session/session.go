// Package session tracks one notebook session: what has been logged, how
// much of it, and the lazily initialized engine behind it. Counters and the
// engine's execution log reset together and never independently.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"nbgather/internal/logging"
	"nbgather/internal/types"
)

// Engine is the slice of the dataflow engine the session drives.
type Engine interface {
	LogCell(ctx context.Context, cell types.Cell) (types.Cell, error)
	Slice(ctx context.Context, cellID string) (types.Slice, error)
	Reset()
	Disabled() bool
}

// Journal persists the execution log across process restarts. Optional.
type Journal interface {
	AppendCell(ctx context.Context, sessionID string, cell types.Cell) error
	Rotate(ctx context.Context, sessionID string) error
}

// Recorder receives telemetry counts. Optional.
type Recorder interface {
	Count(event string, n int)
}

// Telemetry event names emitted by the session.
const (
	EventCellsLogged    = "cells_logged"
	EventLinesLogged    = "lines_logged"
	EventCellsSkipped   = "cells_skipped"
	EventLogFailed      = "log_failed"
	EventEngineDisabled = "engine_disabled"
	EventReset          = "log_reset"
)

// Counters is a snapshot of the session's submission counters.
type Counters struct {
	Cells int
	Lines int
}

// Session holds per-session state. Engine construction runs at most once,
// on first use; concurrent callers await the same initialization.
type Session struct {
	id        string
	newEngine func() (Engine, error)
	journal   Journal
	telemetry Recorder

	initGroup singleflight.Group

	mu               sync.Mutex
	engine           Engine
	initDone         bool
	initErr          error
	counters         Counters
	disabledReported bool
}

// Option configures a Session.
type Option func(*Session)

// WithID pins the session ID instead of generating one. Used when resuming
// a stored session.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithJournal attaches a persistent execution journal.
func WithJournal(j Journal) Option {
	return func(s *Session) { s.journal = j }
}

// WithTelemetry attaches a telemetry recorder.
func WithTelemetry(r Recorder) Option {
	return func(s *Session) { s.telemetry = r }
}

// New creates a session around an engine factory. The factory is not called
// until the first operation that needs the engine.
func New(newEngine func() (Engine, error), opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		newEngine: newEngine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Counters returns a snapshot of the submission counters.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// ensureEngine runs engine construction exactly once; concurrent callers
// share the outcome. A failed construction is sticky for the session.
func (s *Session) ensureEngine(ctx context.Context) (Engine, error) {
	s.mu.Lock()
	if s.initDone {
		engine, err := s.engine, s.initErr
		s.mu.Unlock()
		return engine, err
	}
	s.mu.Unlock()

	type result struct {
		engine Engine
		err    error
	}
	ch := s.initGroup.DoChan("init", func() (interface{}, error) {
		timer := logging.StartTimer(logging.CategorySession, "engine init")
		defer timer.Stop()

		engine, err := s.newEngine()
		s.mu.Lock()
		s.engine = engine
		s.initErr = err
		s.initDone = true
		s.mu.Unlock()
		return result{engine: engine, err: err}, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		r := res.Val.(result)
		return r.engine, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// count records a telemetry event if a recorder is attached.
func (s *Session) count(event string, n int) {
	if s.telemetry != nil {
		s.telemetry.Count(event, n)
	}
}

// LogCell submits an executed cell. Cells in an unsupported language are
// skipped. On an engine that failed best-effort initialization the cell
// passes through untouched. Returns whether the cell was logged.
func (s *Session) LogCell(ctx context.Context, cell types.Cell) (types.Cell, bool, error) {
	if !cell.Language.Supported() {
		logging.SessionDebug("skipping %s cell %s", cell.Language, cell.ID)
		s.count(EventCellsSkipped, 1)
		return cell, false, nil
	}

	engine, err := s.ensureEngine(ctx)
	if err != nil {
		// Initialization could not complete at all; degrade to pass-through.
		logging.Session("engine unavailable, passing cell %s through: %v", cell.ID, err)
		s.reportDisabledOnce()
		return cell, false, nil
	}
	if engine.Disabled() {
		s.reportDisabledOnce()
		return cell, false, nil
	}

	logged, err := engine.LogCell(ctx, cell)
	if err != nil {
		logging.Get(logging.CategorySession).Error("log cell %s: %v", cell.ID, err)
		s.count(EventLogFailed, 1)
		return cell, false, err
	}

	s.mu.Lock()
	s.counters.Cells++
	s.counters.Lines += logged.CodeLines()
	s.mu.Unlock()
	s.count(EventCellsLogged, 1)
	s.count(EventLinesLogged, logged.CodeLines())

	if s.journal != nil {
		if err := s.journal.AppendCell(ctx, s.id, logged); err != nil {
			// The in-memory log stays authoritative; persistence failure
			// is reported but does not unwind the logged cell.
			logging.Get(logging.CategorySession).Error("journal cell %s: %v", logged.ID, err)
		}
	}

	return logged, true, nil
}

func (s *Session) reportDisabledOnce() {
	s.mu.Lock()
	first := !s.disabledReported
	s.disabledReported = true
	s.mu.Unlock()
	if first {
		s.count(EventEngineDisabled, 1)
	}
}

// Slice requests a backward slice for a logged cell.
func (s *Session) Slice(ctx context.Context, cellID string) (types.Slice, error) {
	engine, err := s.ensureEngine(ctx)
	if err != nil {
		return types.Slice{}, err
	}
	return engine.Slice(ctx, cellID)
}

// Reset drops the execution log and the counters as one operation. The
// engine log is cleared first so a crash between the two steps can only
// leave counters too high, never a log the counters undercount.
func (s *Session) Reset(ctx context.Context) error {
	engine, err := s.ensureEngine(ctx)
	if err == nil && engine != nil {
		engine.Reset()
	}

	s.mu.Lock()
	s.counters = Counters{}
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.Rotate(ctx, s.id); err != nil {
			logging.Get(logging.CategorySession).Error("rotate journal: %v", err)
		}
	}

	s.count(EventReset, 1)
	logging.Session("session %s reset", s.id)
	return nil
}
