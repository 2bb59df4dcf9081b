// Package export renders slices as runnable Python scripts or Jupyter
// notebooks, and reads cells back out of both formats. Pure formatting;
// nothing here knows about the engine.
package export

import (
	"fmt"
	"strings"
	"time"

	"nbgather/internal/logging"
	"nbgather/internal/types"
)

// CellIDMarker is the placeholder token embedded in rendered script
// headers. The gather layer replaces it with the target cell ID.
const CellIDMarker = "%cellId%"

// DefaultCellMarker delimits cells in percent-format scripts.
const DefaultCellMarker = "# %%"

// ScriptRenderer renders a slice as a percent-format Python script.
type ScriptRenderer struct {
	cellMarker string
	now        func() time.Time
}

// NewScriptRenderer creates a renderer using the given cell marker, or
// DefaultCellMarker when empty.
func NewScriptRenderer(cellMarker string) *ScriptRenderer {
	if cellMarker == "" {
		cellMarker = DefaultCellMarker
	}
	return &ScriptRenderer{cellMarker: cellMarker, now: time.Now}
}

// Render produces the script text. The header carries CellIDMarker rather
// than the resolved ID; replacing it is the caller's concern.
func (r *ScriptRenderer) Render(slice types.Slice) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Gathered dependencies of cell %s\n", CellIDMarker)
	fmt.Fprintf(&b, "# %d of the session's cells, generated %s\n",
		len(slice.Cells), r.now().Format(time.RFC3339))
	b.WriteString("\n")

	for i, cell := range slice.Cells {
		b.WriteString(r.cellMarker)
		b.WriteString("\n")
		b.WriteString(cell.Source)
		if !strings.HasSuffix(cell.Source, "\n") {
			b.WriteString("\n")
		}
		if i < len(slice.Cells)-1 {
			b.WriteString("\n")
		}
	}

	logging.Export("rendered script for %s (%d cells)", slice.TargetID, len(slice.Cells))
	return b.String()
}
