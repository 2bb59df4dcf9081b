package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"nbgather/internal/session"
)

var resetSession string

// resetCmd rotates a journaled session so its log starts over.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the execution log of a journaled session",
	Long: `Rotates a session's journal to a fresh generation. The previous log
stays on disk but no longer feeds slicing or replay.`,
	RunE: runReset,
}

// statsCmd prints the accumulated telemetry counters.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show accumulated telemetry counters",
	RunE:  runStats,
}

func init() {
	resetCmd.Flags().StringVarP(&resetSession, "session", "s", "", "Session to reset (default: most recent)")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp("", false)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := resetSession
	if sessionID == "" {
		sessionID, err = a.journal.CurrentSession(ctx)
		if err != nil {
			return err
		}
		if sessionID == "" {
			fmt.Println("No journaled sessions to reset.")
			return nil
		}
	}

	if err := a.journal.Rotate(ctx, sessionID); err != nil {
		return err
	}
	a.tracker.Count(session.EventReset, 1)

	fmt.Printf("Reset session %s\n", sessionID)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp("", false)
	if err != nil {
		return err
	}
	defer a.Close()

	counts := a.tracker.Snapshot()
	if len(counts) == 0 {
		fmt.Println("No telemetry recorded.")
		return nil
	}

	events := make([]string, 0, len(counts))
	for event := range counts {
		events = append(events, event)
	}
	sort.Strings(events)

	for _, event := range events {
		fmt.Printf("%-20s %d\n", event, counts[event])
	}
	return nil
}
