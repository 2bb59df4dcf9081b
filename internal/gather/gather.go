// Package gather orchestrates slice requests: ask the engine for the
// backward slice of a cell, render it, and hand it to the host. Failures
// are reported to telemetry and returned to the caller.
package gather

import (
	"context"
	"fmt"
	"strings"

	"nbgather/internal/export"
	"nbgather/internal/host"
	"nbgather/internal/logging"
	"nbgather/internal/types"
)

// Slicer is the engine surface gather depends on.
type Slicer interface {
	Slice(ctx context.Context, cellID string) (types.Slice, error)
}

// Recorder receives telemetry counts. Optional.
type Recorder interface {
	Count(event string, n int)
}

// Telemetry event names emitted by gather.
const (
	EventRequested = "gather_requested"
	EventSucceeded = "gather_succeeded"
	EventFailed    = "gather_failed"
)

// Service requests slices and presents them.
type Service struct {
	slicer    Slicer
	script    *export.ScriptRenderer
	host      host.Host
	telemetry Recorder
}

// NewService wires the orchestrator.
func NewService(slicer Slicer, script *export.ScriptRenderer, h host.Host, telemetry Recorder) *Service {
	return &Service{
		slicer:    slicer,
		script:    script,
		host:      h,
		telemetry: telemetry,
	}
}

func (s *Service) count(event string) {
	if s.telemetry != nil {
		s.telemetry.Count(event, 1)
	}
}

func (s *Service) slice(ctx context.Context, cellID string) (types.Slice, error) {
	s.count(EventRequested)
	slice, err := s.slicer.Slice(ctx, cellID)
	if err != nil {
		s.count(EventFailed)
		logging.GatherError("slice %s: %v", cellID, err)
		return types.Slice{}, fmt.Errorf("gather %s: %w", cellID, err)
	}
	return slice, nil
}

// GatherToScript slices the cell and opens the result as a Python script.
// The renderer leaves a marker token in the header; it is resolved to the
// target cell ID here.
func (s *Service) GatherToScript(ctx context.Context, cellID string) (types.Artifact, error) {
	slice, err := s.slice(ctx, cellID)
	if err != nil {
		return types.Artifact{}, err
	}

	text := s.script.Render(slice)
	text = strings.ReplaceAll(text, export.CellIDMarker, cellID)

	artifact, err := s.host.OpenScript(ctx, artifactName(cellID, ".py"), []byte(text))
	if err != nil {
		s.count(EventFailed)
		logging.GatherError("open script for %s: %v", cellID, err)
		return types.Artifact{}, fmt.Errorf("gather %s: %w", cellID, err)
	}

	s.count(EventSucceeded)
	logging.Gather("gathered %s to script %s", cellID, artifact.Path)
	return artifact, nil
}

// GatherToNotebook slices the cell and opens the result as a notebook.
func (s *Service) GatherToNotebook(ctx context.Context, cellID string) (types.Artifact, error) {
	slice, err := s.slice(ctx, cellID)
	if err != nil {
		return types.Artifact{}, err
	}

	data, err := export.RenderNotebook(slice)
	if err != nil {
		s.count(EventFailed)
		return types.Artifact{}, fmt.Errorf("gather %s: %w", cellID, err)
	}

	artifact, err := s.host.OpenNotebook(ctx, artifactName(cellID, ".ipynb"), data)
	if err != nil {
		s.count(EventFailed)
		logging.GatherError("open notebook for %s: %v", cellID, err)
		return types.Artifact{}, fmt.Errorf("gather %s: %w", cellID, err)
	}

	s.count(EventSucceeded)
	logging.Gather("gathered %s to notebook %s", cellID, artifact.Path)
	return artifact, nil
}

// artifactName derives a filesystem-safe name from the cell ID.
func artifactName(cellID, ext string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, cellID)
	if len(safe) > 12 {
		safe = safe[:12]
	}
	return "gathered-" + safe + ext
}
