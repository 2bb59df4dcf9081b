package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// logCmd appends a file's cells to the most recent session rather than
// starting a fresh one.
var logCmd = &cobra.Command{
	Use:   "log <file>",
	Short: "Append a notebook or script's cells to the current session",
	Long: `Reads a .ipynb notebook or a percent-format .py script and logs each
python cell into the most recent journaled session. The session's earlier
executions are replayed into the engine first, so slices see the combined
log. A fresh session is started when none exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := newApp("", true)
	if err != nil {
		return err
	}
	defer a.Close()

	cells, err := readCells(args[0], a.cfg.Export.CellMarker)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, cell := range cells {
		if _, _, err := a.session.LogCell(ctx, cell); err != nil {
			return fmt.Errorf("log cell %s: %w", cell.ID, err)
		}
	}

	counters := a.session.Counters()
	fmt.Printf("Session %s: appended %d cells (%d lines) from %s\n",
		a.session.ID(), counters.Cells, counters.Lines, args[0])
	return nil
}
