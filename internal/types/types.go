// Package types provides shared type definitions used across nbgather packages.
// Types here are foundational data structures with no dependencies on the engine
// or the host, so every other package can import them without cycles.
package types

import "strings"

// Language is the language tag carried by a notebook cell.
type Language string

const (
	// LanguagePython is the only language forwarded to the dataflow engine.
	LanguagePython Language = "python"

	// LanguageMarkdown cells are never logged or sliced.
	LanguageMarkdown Language = "markdown"
)

// Supported reports whether cells of this language participate in
// logging and slicing.
func (l Language) Supported() bool {
	return l == LanguagePython
}

// Cell is a single executed notebook cell. The ID is opaque to nbgather;
// the host assigns it and slicing requests refer to it.
type Cell struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Language Language `json:"language"`

	// Ordinal is the position of this execution in the session log,
	// starting at 1. Assigned when the cell is logged.
	Ordinal int `json:"ordinal,omitempty"`
}

// CodeLines counts the non-blank lines of the cell source. This is what the
// session's line counter accumulates.
func (c Cell) CodeLines() int {
	n := 0
	for _, line := range strings.Split(c.Source, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// Slice is the result of a backward-dependency request: the cells the target
// transitively depends on, in execution order, with the target last.
type Slice struct {
	TargetID string `json:"target_id"`
	Cells    []Cell `json:"cells"`
}

// Empty reports whether the slice carries no cells at all.
func (s Slice) Empty() bool {
	return len(s.Cells) == 0
}

// ArtifactKind distinguishes the two export formats.
type ArtifactKind string

const (
	ArtifactScript   ArtifactKind = "script"
	ArtifactNotebook ArtifactKind = "notebook"
)

// Artifact is an exported slice handed to the host for presentation.
type Artifact struct {
	Kind ArtifactKind `json:"kind"`
	Path string       `json:"path"`
}
