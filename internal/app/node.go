package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-trigger-sync/internal/batch"
	"github.com/Guizzs26/go-trigger-sync/internal/config"
	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/dml"
	"github.com/Guizzs26/go-trigger-sync/internal/extract"
	"github.com/Guizzs26/go-trigger-sync/internal/history"
	"github.com/Guizzs26/go-trigger-sync/internal/node"
	"github.com/Guizzs26/go-trigger-sync/internal/platform"
	"github.com/Guizzs26/go-trigger-sync/internal/trigger"
)

// Node bundles the database side of one sync node
type Node struct {
	Config    *config.Config
	ID        string
	Password  string
	DB        *sql.DB
	Dialect   *dialect.Dialect
	Platform  *platform.Platform
	Repo      *db.Repository
	Histories *history.Store
	Cache     *history.Cache
	logger    *slog.Logger
}

// Open connects to the node database, prepares the runtime tables and
// resolves the node id
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	d, err := dialect.DefaultRegistry().Get(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if cfg.LegacyCharset != "" {
		d.LegacyCharset = cfg.LegacyCharset
	}

	conn, err := db.Open(ctx, d, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	p := platform.New(d, logger)
	if err := p.EnsureRuntimeTables(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	gen := node.DefaultIDGenerator{}
	id, err := node.Identity(ctx, conn, d, cfg.NodeID, gen)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to resolve node id: %w", err)
	}
	password, err := node.Password(ctx, conn, d, gen)
	if err != nil {
		conn.Close()
		return nil, err
	}

	store := history.NewStore(d)
	return &Node{
		Config:    cfg,
		ID:        id,
		Password:  password,
		DB:        conn,
		Dialect:   d,
		Platform:  p,
		Repo:      db.NewRepository(conn, d, logger),
		Histories: store,
		Cache:     history.NewCache(store, conn),
		logger:    logger.With("node_id", id),
	}, nil
}

func (n *Node) Logger() *slog.Logger {
	return n.logger
}

func (n *Node) Installer(listeners ...trigger.Listener) *trigger.Installer {
	all := append([]trigger.Listener{trigger.NewLogListener(n.logger), trigger.MetricsListener{}}, listeners...)
	return trigger.NewInstaller(n.DB, n.Platform, n.Histories, n.Cache, n.logger, all...)
}

func (n *Node) Extractor() *extract.Extractor {
	return extract.NewExtractor(n.Repo, n.Cache, n.ID, n.Config.TargetNodeID, n.logger)
}

func (n *Node) Loader() *batch.Loader {
	applier := dml.NewApplier(n.Dialect, dml.NewStatementCache(n.Dialect), n.logger)
	loader := batch.NewLoader(n.DB, n.Platform, n.Repo, applier, n.logger)
	loader.AddListener(batch.NewLogListener(n.logger))
	loader.AddListener(batch.MetricsListener{})
	return loader
}

func (n *Node) Close() error {
	return n.DB.Close()
}
