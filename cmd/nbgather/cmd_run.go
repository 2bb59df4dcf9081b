package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nbgather/internal/export"
	"nbgather/internal/types"
)

var (
	runTargetCell string
	runFormat     string
)

// runCmd logs a notebook or percent-format script into a fresh session.
var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Log the cells of a notebook or script into a new session",
	Long: `Reads a .ipynb notebook or a percent-format .py script and logs each
python cell into the dataflow engine in order, journaling the session.

With --cell, the dependencies of that cell are gathered afterwards:

  nbgather run analysis.ipynb --cell 4f2a --to script`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	runCmd.Flags().StringVar(&runTargetCell, "cell", "", "Gather this cell's dependencies after logging")
	runCmd.Flags().StringVar(&runFormat, "to", "script", "Gather output format: script or notebook")
}

func readCells(path, cellMarker string) ([]types.Cell, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ipynb":
		return export.ReadNotebook(path)
	case ".py":
		return export.ReadPercentScript(path, cellMarker)
	default:
		return nil, fmt.Errorf("unsupported file type %q (want .ipynb or .py)", filepath.Ext(path))
	}
}

func runFile(cmd *cobra.Command, args []string) error {
	a, err := newApp("", false)
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
		if _, logged, err := a.session.LogCell(ctx, cell); err != nil {
			return fmt.Errorf("log cell %s: %w", cell.ID, err)
		} else if !logged && cell.Language.Supported() {
			logger.Debug("cell passed through without logging")
		}
	}

	counters := a.session.Counters()
	fmt.Printf("Session %s: logged %d cells (%d lines) from %s\n",
		a.session.ID(), counters.Cells, counters.Lines, args[0])

	if runTargetCell == "" {
		return nil
	}
	return gatherInto(ctx, a, runTargetCell, runFormat)
}

// gatherInto slices the target and hands the rendered artifact to the host.
func gatherInto(ctx context.Context, a *app, cellID, format string) error {
	var artifact types.Artifact
	var err error
	switch format {
	case "script":
		artifact, err = a.gather.GatherToScript(ctx, cellID)
	case "notebook":
		artifact, err = a.gather.GatherToNotebook(ctx, cellID)
	default:
		return fmt.Errorf("unknown format %q (want script or notebook)", format)
	}
	if err != nil {
		return fmt.Errorf("gather %s: %w", cellID, err)
	}

	fmt.Printf("Gathered %s -> %s\n", cellID, artifact.Path)
	return nil
}
