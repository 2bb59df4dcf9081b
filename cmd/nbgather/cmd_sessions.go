// This file handles session listing, inspection, and replay.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// sessionsCmd manages journaled sessions.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage journaled sessions",
	Long: `List and inspect journaled sessions.

Subcommands:
  list   - List all journaled sessions
  show   - Show a session's execution log
  replay - Replay a session into a fresh engine`,
	RunE: runSessionsList,
}

// sessionsListCmd lists journaled sessions.
var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all journaled sessions",
	RunE:  runSessionsList,
}

// sessionsShowCmd prints a session's execution log.
var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the execution log of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

// sessionsReplayCmd re-logs a session's cells into a fresh engine.
var sessionsReplayCmd = &cobra.Command{
	Use:   "replay [session-id]",
	Short: "Replay a session's executions into a fresh engine",
	Long: `Re-logs each journaled cell, in execution order, into a fresh dataflow
engine and reports what the engine accepted. Defaults to the most recent
session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionsReplay,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsReplayCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp("", false)
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.journal.Sessions(context.Background())
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No journaled sessions found.")
		return nil
	}

	fmt.Printf("%-38s %-22s %-5s %s\n", "SESSION", "CREATED", "GEN", "CELLS")
	for _, info := range infos {
		fmt.Printf("%-38s %-22s %-5d %d\n",
			info.ID, info.CreatedAt.Format("2006-01-02 15:04:05"),
			info.Generation, info.CellCount)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp("", false)
	if err != nil {
		return err
	}
	defer a.Close()

	cells, err := a.journal.Cells(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		fmt.Printf("Session %s has no logged cells.\n", args[0])
		return nil
	}

	fmt.Printf("%-4s %-36s %-10s %s\n", "ORD", "CELL", "LANGUAGE", "SOURCE")
	for _, cell := range cells {
		first := cell.Source
		if i := strings.IndexByte(first, '\n'); i >= 0 {
			first = first[:i] + " ..."
		}
		fmt.Printf("%-4d %-36s %-10s %s\n", cell.Ordinal, cell.ID, cell.Language, first)
	}
	return nil
}

func runSessionsReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp("", false)
	if err != nil {
		return err
	}
	defer a.Close()

	var sessionID string
	if len(args) > 0 {
		sessionID = args[0]
	} else {
		sessionID, err = a.journal.CurrentSession(ctx)
		if err != nil {
			return err
		}
		if sessionID == "" {
			return fmt.Errorf("no journaled sessions; log one with \"nbgather run\" first")
		}
	}

	engine, err := replayEngine(ctx, a.cfg, a.journal, sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("Replayed session %s: %d cells, %d facts\n",
		sessionID, engine.CellCount(), engine.FactCount())
	return nil
}
