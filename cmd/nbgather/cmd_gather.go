package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"nbgather/internal/dataflow"
	"nbgather/internal/export"
	"nbgather/internal/gather"
	"nbgather/internal/types"
)

var (
	gatherSession string
	gatherFormat  string
)

// gatherCmd replays a stored session and gathers a cell's dependencies.
var gatherCmd = &cobra.Command{
	Use:   "gather <cell-id>",
	Short: "Gather the backward slice of a previously logged cell",
	Long: `Replays a journaled session into the dataflow engine and exports the
minimal set of cells the target depends on.

Defaults to the most recent session; pick one with --session (see
"nbgather sessions").`,
	Args: cobra.ExactArgs(1),
	RunE: runGather,
}

func init() {
	gatherCmd.Flags().StringVarP(&gatherSession, "session", "s", "", "Session to replay (default: most recent)")
	gatherCmd.Flags().StringVar(&gatherFormat, "to", "script", "Output format: script or notebook")
}

func runGather(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(gatherSession, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := gatherSession
	if sessionID == "" {
		sessionID, err = a.journal.CurrentSession(ctx)
		if err != nil {
			return err
		}
		if sessionID == "" {
			return fmt.Errorf("no stored sessions; log one with \"nbgather run\" first")
		}
	}

	cells, err := a.journal.Cells(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return fmt.Errorf("session %s has no logged cells", sessionID)
	}

	// Replay through a fresh engine directly: the journal already holds
	// these executions, re-journaling them would double the log.
	engine, err := replayEngine(ctx, a.cfg, a.journal, sessionID)
	if err != nil {
		return err
	}
	if engine.Disabled() {
		return dataflow.ErrDisabled
	}

	svc := gather.NewService(engine,
		export.NewScriptRenderer(a.cfg.Export.CellMarker), a.host, a.tracker)

	var artifact types.Artifact
	switch gatherFormat {
	case "script":
		artifact, err = svc.GatherToScript(ctx, args[0])
	case "notebook":
		artifact, err = svc.GatherToNotebook(ctx, args[0])
	default:
		return fmt.Errorf("unknown format %q (want script or notebook)", gatherFormat)
	}
	if err != nil {
		return fmt.Errorf("gather %s: %w", args[0], err)
	}

	fmt.Printf("Gathered %s from session %s -> %s\n", args[0], sessionID, artifact.Path)
	return nil
}
