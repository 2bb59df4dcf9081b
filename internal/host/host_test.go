package host

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"nbgather/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountRecorder() *countRecorder {
	return &countRecorder{counts: make(map[string]int)}
}

func (r *countRecorder) Count(event string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[event] += n
}

func (r *countRecorder) get(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[event]
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestOpenScriptWritesArtifact(t *testing.T) {
	rec := newCountRecorder()
	h, err := NewFSHost(filepath.Join(t.TempDir(), "gathered"), rec)
	if err != nil {
		t.Fatalf("NewFSHost error = %v", err)
	}
	defer h.Close()

	artifact, err := h.OpenScript(context.Background(), "slice.py", []byte("x = 1\n"))
	if err != nil {
		t.Fatalf("OpenScript error = %v", err)
	}
	if artifact.Kind != types.ArtifactScript {
		t.Errorf("kind = %s, want script", artifact.Kind)
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("artifact not on disk: %v", err)
	}
	if string(data) != "x = 1\n" {
		t.Errorf("artifact content = %q", data)
	}
	if rec.get(EventArtifactOpened) != 1 {
		t.Error("open should be counted")
	}
}

func TestExternalSaveIsReported(t *testing.T) {
	rec := newCountRecorder()
	h, err := NewFSHost(filepath.Join(t.TempDir(), "gathered"), rec)
	if err != nil {
		t.Fatalf("NewFSHost error = %v", err)
	}
	defer h.Close()

	artifact, err := h.OpenScript(context.Background(), "slice.py", []byte("x = 1\n"))
	if err != nil {
		t.Fatal(err)
	}

	// Simulate the user editing and saving the opened artifact.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(artifact.Path, []byte("x = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.get(EventArtifactSaved) >= 1 }) {
		t.Error("save event not reported")
	}
}

func TestOwnWriteIsNotReportedAsSave(t *testing.T) {
	rec := newCountRecorder()
	h, err := NewFSHost(filepath.Join(t.TempDir(), "gathered"), rec)
	if err != nil {
		t.Fatalf("NewFSHost error = %v", err)
	}
	defer h.Close()

	if _, err := h.OpenScript(context.Background(), "slice.py", []byte("x = 1\n")); err != nil {
		t.Fatal(err)
	}

	// The write that created the artifact happens before the watch starts;
	// it must never surface as a save.
	time.Sleep(300 * time.Millisecond)
	if n := rec.get(EventArtifactSaved); n != 0 {
		t.Errorf("saved count = %d after open, want 0", n)
	}
}

func TestRemovalIsReportedAsClose(t *testing.T) {
	rec := newCountRecorder()
	h, err := NewFSHost(filepath.Join(t.TempDir(), "gathered"), rec)
	if err != nil {
		t.Fatalf("NewFSHost error = %v", err)
	}
	defer h.Close()

	artifact, err := h.OpenNotebook(context.Background(), "slice.ipynb", []byte("{}"))
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.Remove(artifact.Path); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.get(EventArtifactClosed) >= 1 }) {
		t.Error("close event not reported")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h, err := NewFSHost(filepath.Join(t.TempDir(), "gathered"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("first Close error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}

	if _, err := h.OpenScript(context.Background(), "late.py", nil); err == nil {
		t.Error("OpenScript after Close should fail")
	}
}
