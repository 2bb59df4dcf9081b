// Package host is the seam between nbgather and whatever presents gathered
// results, typically a notebook editor. The implementation shipped here
// presents through the filesystem and reports save/close activity on the
// artifacts it opened.
package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"nbgather/internal/logging"
	"nbgather/internal/types"
)

// Host presents gathered artifacts to the user.
type Host interface {
	OpenScript(ctx context.Context, name string, content []byte) (types.Artifact, error)
	OpenNotebook(ctx context.Context, name string, content []byte) (types.Artifact, error)
	Close() error
}

// Recorder receives telemetry counts. Optional.
type Recorder interface {
	Count(event string, n int)
}

// Telemetry event names emitted by the filesystem host.
const (
	EventArtifactOpened = "artifact_opened"
	EventArtifactSaved  = "artifact_saved"
	EventArtifactClosed = "artifact_closed"
)

// FSHost writes artifacts into a directory and watches them. A write to an
// opened artifact counts as a save, a removal or rename as a close.
type FSHost struct {
	dir       string
	telemetry Recorder

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup

	mu     sync.Mutex
	opened map[string]bool
	closed bool
}

// NewFSHost creates the host rooted at dir, creating it if needed.
func NewFSHost(dir string, telemetry Recorder) (*FSHost, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create artifact watcher: %w", err)
	}

	h := &FSHost{
		dir:       dir,
		telemetry: telemetry,
		watcher:   watcher,
		opened:    make(map[string]bool),
	}

	h.wg.Add(1)
	go h.watch()

	return h, nil
}

// Dir returns the artifact directory.
func (h *FSHost) Dir() string {
	return h.dir
}

func (h *FSHost) count(event string) {
	if h.telemetry != nil {
		h.telemetry.Count(event, 1)
	}
}

// watch consumes filesystem events until the watcher closes.
func (h *FSHost) watch() {
	defer h.wg.Done()

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.mu.Lock()
			tracked := h.opened[event.Name]
			if tracked && event.Has(fsnotify.Remove|fsnotify.Rename) {
				delete(h.opened, event.Name)
			}
			h.mu.Unlock()
			if !tracked {
				continue
			}

			switch {
			case event.Has(fsnotify.Write):
				logging.HostDebug("artifact saved: %s", event.Name)
				h.count(EventArtifactSaved)
			case event.Has(fsnotify.Remove | fsnotify.Rename):
				logging.HostDebug("artifact closed: %s", event.Name)
				h.count(EventArtifactClosed)
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryHost).Error("artifact watcher: %v", err)
		}
	}
}

// open writes the artifact and starts tracking it. The watch is added only
// after the write completes, so the host never sees its own initial write
// as a save.
func (h *FSHost) open(name string, content []byte, kind types.ArtifactKind) (types.Artifact, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return types.Artifact{}, fmt.Errorf("host is closed")
	}
	h.mu.Unlock()

	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		return types.Artifact{}, fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err := h.watcher.Add(path); err != nil {
		return types.Artifact{}, fmt.Errorf("watch artifact %s: %w", path, err)
	}

	h.mu.Lock()
	h.opened[path] = true
	h.mu.Unlock()

	h.count(EventArtifactOpened)
	logging.Host("opened %s artifact: %s", kind, path)
	return types.Artifact{Kind: kind, Path: path}, nil
}

// OpenScript presents a gathered script.
func (h *FSHost) OpenScript(ctx context.Context, name string, content []byte) (types.Artifact, error) {
	return h.open(name, content, types.ArtifactScript)
}

// OpenNotebook presents a gathered notebook.
func (h *FSHost) OpenNotebook(ctx context.Context, name string, content []byte) (types.Artifact, error) {
	return h.open(name, content, types.ArtifactNotebook)
}

// Close stops watching. Artifacts on disk are left in place.
func (h *FSHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	err := h.watcher.Close()
	h.wg.Wait()
	return err
}
