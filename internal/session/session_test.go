package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"nbgather/internal/types"
)

// fakeEngine records calls for assertions.
type fakeEngine struct {
	mu       sync.Mutex
	disabled bool
	logErr   error
	logged   []types.Cell
	resets   int
	next     int
}

func (f *fakeEngine) LogCell(ctx context.Context, cell types.Cell) (types.Cell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return cell, f.logErr
	}
	f.next++
	cell.Ordinal = f.next
	f.logged = append(f.logged, cell)
	return cell, nil
}

func (f *fakeEngine) Slice(ctx context.Context, cellID string) (types.Slice, error) {
	return types.Slice{TargetID: cellID}, nil
}

func (f *fakeEngine) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.next = 0
	f.logged = nil
}

func (f *fakeEngine) Disabled() bool { return f.disabled }

// fakeRecorder accumulates telemetry counts.
type fakeRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{counts: make(map[string]int)}
}

func (r *fakeRecorder) Count(event string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[event] += n
}

func (r *fakeRecorder) get(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[event]
}

// fakeJournal records appended cells and rotations.
type fakeJournal struct {
	mu       sync.Mutex
	appended []types.Cell
	rotated  int
}

func (j *fakeJournal) AppendCell(ctx context.Context, sessionID string, cell types.Cell) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.appended = append(j.appended, cell)
	return nil
}

func (j *fakeJournal) Rotate(ctx context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rotated++
	return nil
}

func pyCell(id, source string) types.Cell {
	return types.Cell{ID: id, Source: source, Language: types.LanguagePython}
}

func TestLogCellCountsCellsAndLines(t *testing.T) {
	engine := &fakeEngine{}
	rec := newFakeRecorder()
	s := New(func() (Engine, error) { return engine, nil }, WithTelemetry(rec))

	_, logged, err := s.LogCell(context.Background(), pyCell("a", "x = 1\ny = 2\n"))
	if err != nil || !logged {
		t.Fatalf("LogCell = (%v, %v), want logged", logged, err)
	}

	c := s.Counters()
	if c.Cells != 1 || c.Lines != 2 {
		t.Errorf("counters = %+v, want 1 cell / 2 lines", c)
	}
	if rec.get(EventCellsLogged) != 1 || rec.get(EventLinesLogged) != 2 {
		t.Error("telemetry should mirror counters")
	}
}

func TestLogCellSkipsUnsupportedLanguage(t *testing.T) {
	engine := &fakeEngine{}
	rec := newFakeRecorder()
	s := New(func() (Engine, error) { return engine, nil }, WithTelemetry(rec))

	_, logged, err := s.LogCell(context.Background(), types.Cell{
		ID: "m", Source: "# heading", Language: types.LanguageMarkdown,
	})
	if err != nil {
		t.Fatalf("LogCell error = %v", err)
	}
	if logged {
		t.Error("markdown cell should not be logged")
	}
	if len(engine.logged) != 0 {
		t.Error("engine should not see skipped cells")
	}
	if rec.get(EventCellsSkipped) != 1 {
		t.Error("skip should be counted in telemetry")
	}
	if c := s.Counters(); c.Cells != 0 {
		t.Error("skipped cells must not advance counters")
	}
}

func TestDisabledEnginePassesThrough(t *testing.T) {
	engine := &fakeEngine{disabled: true}
	rec := newFakeRecorder()
	s := New(func() (Engine, error) { return engine, nil }, WithTelemetry(rec))

	for i := 0; i < 3; i++ {
		_, logged, err := s.LogCell(context.Background(), pyCell("a", "x = 1"))
		if err != nil || logged {
			t.Fatalf("disabled engine: LogCell = (%v, %v), want pass-through", logged, err)
		}
	}
	if rec.get(EventEngineDisabled) != 1 {
		t.Errorf("engine_disabled reported %d times, want once", rec.get(EventEngineDisabled))
	}
}

func TestLogCellErrorIsCountedAndReturned(t *testing.T) {
	wantErr := errors.New("boom")
	engine := &fakeEngine{logErr: wantErr}
	rec := newFakeRecorder()
	s := New(func() (Engine, error) { return engine, nil }, WithTelemetry(rec))

	_, _, err := s.LogCell(context.Background(), pyCell("a", "x = 1"))
	if !errors.Is(err, wantErr) {
		t.Fatalf("LogCell error = %v, want %v", err, wantErr)
	}
	if rec.get(EventLogFailed) != 1 {
		t.Error("failure should be counted in telemetry")
	}
	if c := s.Counters(); c.Cells != 0 {
		t.Error("failed log must not advance counters")
	}
}

func TestResetClearsCountersWithLog(t *testing.T) {
	engine := &fakeEngine{}
	journal := &fakeJournal{}
	s := New(func() (Engine, error) { return engine, nil }, WithJournal(journal))

	if _, _, err := s.LogCell(context.Background(), pyCell("a", "x = 1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset error = %v", err)
	}

	if c := s.Counters(); c.Cells != 0 || c.Lines != 0 {
		t.Errorf("counters after reset = %+v, want zero", c)
	}
	if engine.resets != 1 {
		t.Error("engine log should reset with counters")
	}
	if journal.rotated != 1 {
		t.Error("journal should rotate on reset")
	}
}

func TestEngineFactoryRunsOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	engine := &fakeEngine{}
	s := New(func() (Engine, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return engine, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = s.LogCell(context.Background(), pyCell("a", "x = 1"))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("engine factory called %d times, want 1", calls)
	}
}

func TestFailedInitIsSticky(t *testing.T) {
	initErr := errors.New("no rules")
	var calls int
	s := New(func() (Engine, error) {
		calls++
		return nil, initErr
	})

	// Logging degrades to pass-through.
	_, logged, err := s.LogCell(context.Background(), pyCell("a", "x = 1"))
	if err != nil || logged {
		t.Fatalf("LogCell after failed init = (%v, %v), want pass-through", logged, err)
	}
	// Slicing surfaces the failure.
	if _, err := s.Slice(context.Background(), "a"); !errors.Is(err, initErr) {
		t.Errorf("Slice after failed init = %v, want %v", err, initErr)
	}
	if calls != 1 {
		t.Errorf("factory retried %d times, want sticky single attempt", calls)
	}
}

func TestJournalReceivesLoggedCells(t *testing.T) {
	engine := &fakeEngine{}
	journal := &fakeJournal{}
	s := New(func() (Engine, error) { return engine, nil }, WithJournal(journal))

	if _, _, err := s.LogCell(context.Background(), pyCell("a", "x = 1")); err != nil {
		t.Fatal(err)
	}
	if len(journal.appended) != 1 || journal.appended[0].Ordinal != 1 {
		t.Errorf("journal = %+v, want the logged cell with its ordinal", journal.appended)
	}
}

func TestWithIDPinsSession(t *testing.T) {
	s := New(func() (Engine, error) { return &fakeEngine{}, nil }, WithID("resumed"))
	if s.ID() != "resumed" {
		t.Errorf("ID() = %q, want resumed", s.ID())
	}
}
