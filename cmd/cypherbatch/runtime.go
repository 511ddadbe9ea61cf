package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/cypherbatch/pkg/audit"
	"github.com/orneryd/cypherbatch/pkg/batch"
	"github.com/orneryd/cypherbatch/pkg/config"
	"github.com/orneryd/cypherbatch/pkg/graph"
	"github.com/orneryd/cypherbatch/pkg/journal"
	"github.com/orneryd/cypherbatch/pkg/logging"
	"github.com/orneryd/cypherbatch/pkg/pool"
)

// runtime holds the long-lived components a command needs. Fields are nil
// when the command did not ask for them.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	pool    *pool.Pool
	journal *journal.Journal
	audit   *audit.Logger
}

type needs struct {
	pool    bool
	journal bool
	audit   bool
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openRuntime(ctx context.Context, cmd *cobra.Command, n needs) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger}
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	if n.journal && cfg.Journal.Enabled {
		if err := os.MkdirAll(cfg.Journal.DataDir, 0755); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		rt.journal, err = journal.Open(journal.Options{
			DataDir:   cfg.Journal.DataDir,
			Retention: cfg.Journal.Retention,
			Logger:    logger.Named("journal"),
		})
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
	}

	if n.audit && cfg.Audit.Enabled {
		ac := audit.DefaultConfig()
		ac.LogPath = cfg.Audit.LogPath
		ac.SyncWrites = cfg.Audit.SyncWrites
		ac.Actor = cfg.Audit.Actor
		ac.MaxBlockChars = cfg.Audit.MaxBlockChars
		rt.audit, err = audit.NewLogger(ac)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		rt.audit.SetAlertCallback(func(e audit.Event) {
			logger.Warn("destructive block rejected",
				zap.String("run_id", e.RunID),
				zap.String("keyword", e.Keyword),
				zap.String("actor", e.Actor))
		})
	}

	if n.pool {
		rt.pool, err = pool.New(ctx, graph.DialNeo4j(graph.Neo4jOptions{
			URI:            cfg.Neo4j.URI,
			Username:       cfg.Neo4j.Username,
			Password:       cfg.Neo4j.Password,
			Database:       cfg.Neo4j.Database,
			ConnectTimeout: cfg.Neo4j.ConnectTimeout,
		}), pool.PoolConfig{
			Size:           cfg.Pool.Size,
			AcquireTimeout: cfg.Pool.AcquireTimeout,
			Logger:         logger.Named("pool"),
		})
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
	}

	return rt, nil
}

// engine builds a batch engine wired to every open recorder.
func (rt *runtime) engine() (*batch.Engine, error) {
	gate, err := batch.NewGate(rt.cfg.Batch.Denylist)
	if err != nil {
		return nil, err
	}

	var recorders []batch.Recorder
	if rt.journal != nil {
		recorders = append(recorders, rt.journal)
	}
	if rt.audit != nil {
		recorders = append(recorders, rt.audit)
	}

	return batch.New(rt.pool,
		batch.WithLogger(rt.logger.Named("batch")),
		batch.WithGate(gate),
		batch.WithRecorders(recorders...),
		batch.WithMaxErrorDetail(rt.cfg.Batch.MaxErrorDetail),
		batch.WithStatementTimeout(rt.cfg.Batch.StatementTimeout),
	), nil
}

func (rt *runtime) Close(ctx context.Context) {
	if rt.pool != nil {
		if err := rt.pool.Close(ctx); err != nil {
			rt.logger.Warn("closing pool", zap.Error(err))
		}
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warn("closing journal", zap.Error(err))
		}
	}
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			rt.logger.Warn("closing audit log", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}
