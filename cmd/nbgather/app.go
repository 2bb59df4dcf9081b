package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nbgather/internal/config"
	"nbgather/internal/dataflow"
	"nbgather/internal/export"
	"nbgather/internal/gather"
	"nbgather/internal/host"
	"nbgather/internal/session"
	"nbgather/internal/store"
	"nbgather/internal/telemetry"
)

// app wires the configured components for one command invocation.
type app struct {
	cfg     *config.Config
	tracker *telemetry.Tracker
	journal *store.Store
	session *session.Session
	gather  *gather.Service
	host    *host.FSHost
}

// newApp builds the component graph for the workspace. sessionID selects a
// stored session; empty means mint a fresh one, or resume the most recent
// journaled session when resume is set. A resumed session's engine is
// preloaded from the journal on first use.
func newApp(sessionID string, resume bool) (*app, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	tracker, err := telemetry.NewTracker(
		config.Resolve(workspace, cfg.Telemetry.Path), cfg.Telemetry.Enabled)
	if err != nil {
		return nil, fmt.Errorf("open telemetry: %w", err)
	}

	journal, err := store.Open(config.Resolve(workspace, cfg.Store.DatabasePath))
	if err != nil {
		tracker.Close()
		return nil, err
	}

	if sessionID == "" && resume {
		sessionID, err = journal.CurrentSession(context.Background())
		if err != nil {
			journal.Close()
			tracker.Close()
			return nil, err
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	engineCfg := engineConfig(cfg)
	newEngine := func() (session.Engine, error) { return dataflow.NewEngine(engineCfg) }
	if resume {
		id := sessionID
		newEngine = func() (session.Engine, error) {
			return replayEngine(context.Background(), cfg, journal, id)
		}
	}
	sess := session.New(
		newEngine,
		session.WithID(sessionID),
		session.WithJournal(journal),
		session.WithTelemetry(tracker),
	)

	fsHost, err := host.NewFSHost(config.Resolve(workspace, cfg.Export.OutputDir), tracker)
	if err != nil {
		journal.Close()
		tracker.Close()
		return nil, err
	}

	svc := gather.NewService(sess, export.NewScriptRenderer(cfg.Export.CellMarker), fsHost, tracker)

	return &app{
		cfg:     cfg,
		tracker: tracker,
		journal: journal,
		session: sess,
		gather:  svc,
		host:    fsHost,
	}, nil
}

// replayEngine builds a fresh engine preloaded with a session's journaled
// executions, in order. The journal rows themselves are untouched.
func replayEngine(ctx context.Context, cfg *config.Config, journal *store.Store, sessionID string) (*dataflow.Engine, error) {
	engine, err := dataflow.NewEngine(engineConfig(cfg))
	if err != nil {
		return nil, err
	}
	if engine.Disabled() || sessionID == "" {
		return engine, nil
	}

	cells, err := journal.Cells(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, cell := range cells {
		if !cell.Language.Supported() {
			continue
		}
		if _, err := engine.LogCell(ctx, cell); err != nil {
			return nil, fmt.Errorf("replay cell %s: %w", cell.ID, err)
		}
	}
	return engine, nil
}

func engineConfig(cfg *config.Config) dataflow.Config {
	out := dataflow.DefaultConfig()
	out.RulesPath = config.Resolve(workspace, cfg.Engine.RulesPath)
	if cfg.Engine.FactLimit > 0 {
		out.FactLimit = cfg.Engine.FactLimit
	}
	if d, err := time.ParseDuration(cfg.Engine.QueryTimeout); err == nil && d > 0 {
		out.QueryTimeout = d
	}
	return out
}

func (a *app) Close() {
	a.host.Close()
	a.journal.Close()
	if err := a.tracker.Close(); err != nil {
		logger.Warn("telemetry flush failed", zap.Error(err))
	}
}
