package trigger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/history"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/internal/platform"
)

var ErrTableNotFound = errors.New("source table not found")

// Installer keeps the capture triggers of every definition in line with the
// live table shape. Each table is installed under its own lock.
type Installer struct {
	db        *sql.DB
	platform  *platform.Platform
	store     *history.Store
	cache     *history.Cache
	generator *Generator
	listeners []Listener
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewInstaller wires an installer. cache may be nil; when set, rebuilt
// triggers invalidate its active entry.
func NewInstaller(conn *sql.DB, p *platform.Platform, store *history.Store, cache *history.Cache, logger *slog.Logger, listeners ...Listener) *Installer {
	return &Installer{
		db:        conn,
		platform:  p,
		store:     store,
		cache:     cache,
		generator: NewGenerator(p.Dialect(), platform.ChangeLogTable),
		listeners: listeners,
		logger:    logger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (i *Installer) lock(trigger *models.Trigger) func() {
	key := strings.ToLower(trigger.QualifiedTableName())
	i.mu.Lock()
	l, ok := i.locks[key]
	if !ok {
		l = &sync.Mutex{}
		i.locks[key] = l
	}
	i.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Install makes sure the triggers of one definition match the live table.
// Nothing is rebuilt when the fingerprint is unchanged and every trigger is
// present, unless reason is ReasonForced.
func (i *Installer) Install(ctx context.Context, trigger *models.Trigger, reason history.BuildReason) (*history.TriggerHistory, error) {
	h, _, err := i.install(ctx, trigger, reason)
	return h, err
}

func (i *Installer) install(ctx context.Context, trigger *models.Trigger, reason history.BuildReason) (*history.TriggerHistory, bool, error) {
	unlock := i.lock(trigger)
	defer unlock()

	logger := i.logger.With("trigger_id", trigger.ID, "table", trigger.QualifiedTableName())
	d := i.platform.Dialect()

	i.platform.Invalidate(trigger.SourceCatalog, trigger.SourceSchema, trigger.SourceTable)
	table, err := i.platform.ReadTable(ctx, i.db, trigger.SourceCatalog, trigger.SourceSchema, trigger.SourceTable)
	if err != nil {
		return nil, false, i.failed(trigger, err)
	}
	if table == nil {
		for _, l := range i.listeners {
			l.TableDoesNotExist(trigger)
		}
		return nil, false, fmt.Errorf("trigger %s: %w: %s", trigger.ID, ErrTableNotFound, trigger.QualifiedTableName())
	}

	active, err := i.store.FindActive(ctx, i.db, trigger.ID)
	if err != nil {
		return nil, false, i.failed(trigger, err)
	}

	if reason != history.ReasonForced {
		reason, err = i.buildReason(ctx, trigger, table, active)
		if err != nil {
			return nil, false, i.failed(trigger, err)
		}
		if reason == "" {
			if err := i.dropDisabled(ctx, i.db, trigger, active); err != nil {
				return nil, false, i.failed(trigger, err)
			}
			logger.Debug("Capture triggers up to date", "trigger_hist_id", active.ID)
			return active, false, nil
		}
	}

	h := history.New(trigger, table, Names(d, trigger.ID), reason, i.now())
	logger = logger.With("reason", reason)

	if d.TransactionalDDL {
		err = i.installTx(ctx, trigger, table, h, active)
	} else {
		err = i.installDirect(ctx, logger, trigger, table, h, active)
	}
	if err != nil {
		return nil, false, i.failed(trigger, err)
	}

	if i.cache != nil {
		i.cache.Invalidate(trigger.ID)
		if active != nil {
			i.cache.Inactivated(active.ID, h.CreateTime)
		}
		i.cache.Put(h)
	}
	for _, l := range i.listeners {
		if active != nil {
			l.TriggerInactivated(trigger, active)
		}
		l.TriggerCreated(trigger, h)
	}
	return h, true, nil
}

// buildReason returns why the triggers must be rebuilt, or "" when they are current
func (i *Installer) buildReason(ctx context.Context, trigger *models.Trigger, table *models.Table, active *history.TriggerHistory) (history.BuildReason, error) {
	if active == nil {
		return history.ReasonNew, nil
	}
	if active.TableHash != history.ComputeHash(table.WithoutColumns(trigger.ExcludedColumns)) {
		return history.ReasonSchemaChanged, nil
	}
	for _, e := range operations {
		if !trigger.SyncOn(e) {
			continue
		}
		ok, err := i.platform.TriggerExists(ctx, i.db, active.Names().For(e))
		if err != nil {
			return "", err
		}
		if !ok {
			return history.ReasonTriggersMissing, nil
		}
	}
	return "", nil
}

// installTx swaps the triggers and the history row in one transaction
func (i *Installer) installTx(ctx context.Context, trigger *models.Trigger, table *models.Table, h, active *history.TriggerHistory) error {
	tx, err := db.BeginTx(ctx, i.db, i.platform.Dialect())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := i.store.Insert(ctx, tx, h); err != nil {
		return err
	}
	rendered, err := i.generator.Render(trigger, h, table)
	if err != nil {
		return err
	}
	if err := i.dropExisting(ctx, tx, h, i.generator.RenderDrop(h)); err != nil {
		return err
	}
	if active != nil && active.Names() != h.Names() {
		if err := i.dropExisting(ctx, tx, active, i.generator.RenderDrop(active)); err != nil {
			return err
		}
	}
	if err := i.exec(ctx, tx, rendered.Create); err != nil {
		return err
	}
	if active != nil {
		if err := i.store.Inactivate(ctx, tx, active.ID, h.CreateTime); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trigger install: %w", err)
	}
	return nil
}

// installDirect is used where DDL commits implicitly. Dialects that replace
// triggers in place never leave the table uncaptured; the others drop first
// and restore the previous triggers if the new ones cannot be created.
func (i *Installer) installDirect(ctx context.Context, logger *slog.Logger, trigger *models.Trigger, table *models.Table, h, active *history.TriggerHistory) error {
	d := i.platform.Dialect()
	if err := i.store.Insert(ctx, i.db, h); err != nil {
		return err
	}
	rendered, err := i.generator.Render(trigger, h, table)
	if err != nil {
		i.abandon(ctx, logger, h)
		return err
	}

	if d.ReplacesTriggers {
		if err := i.exec(ctx, i.db, rendered.Create); err != nil {
			i.abandon(ctx, logger, h)
			return err
		}
		if err := i.dropDisabled(ctx, i.db, trigger, h); err != nil {
			logger.Warn("Failed to drop disabled trigger", "error", err)
		}
	} else {
		start := time.Now()
		if err := i.dropExisting(ctx, i.db, h, i.generator.RenderDrop(h)); err != nil {
			i.abandon(ctx, logger, h)
			return err
		}
		if err := i.exec(ctx, i.db, rendered.Create); err != nil {
			i.restore(ctx, logger, trigger, table, active)
			i.abandon(ctx, logger, h)
			return err
		}
		logger.Warn("Capture gap while triggers were rebuilt", "gap", time.Since(start))
	}

	if active != nil {
		if active.Names() != h.Names() {
			if err := i.dropExisting(ctx, i.db, active, i.generator.RenderDrop(active)); err != nil {
				logger.Warn("Failed to drop superseded triggers", "error", err)
			}
		}
		if err := i.store.Inactivate(ctx, i.db, active.ID, h.CreateTime); err != nil {
			return err
		}
	}
	return nil
}

// restore recreates the previous triggers after a failed rebuild
func (i *Installer) restore(ctx context.Context, logger *slog.Logger, trigger *models.Trigger, table *models.Table, active *history.TriggerHistory) {
	if active == nil {
		return
	}
	rendered, err := i.generator.Render(trigger, active, table)
	if err == nil {
		err = i.exec(ctx, i.db, rendered.Create)
	}
	if err != nil {
		logger.Error("❌ Could not restore previous triggers, table is not captured", "trigger_hist_id", active.ID, "error", err)
		return
	}
	logger.Warn("Previous triggers restored", "trigger_hist_id", active.ID)
}

// abandon inactivates a history whose triggers never made it
func (i *Installer) abandon(ctx context.Context, logger *slog.Logger, h *history.TriggerHistory) {
	if err := i.store.Inactivate(ctx, i.db, h.ID, i.now()); err != nil {
		logger.Error("Failed to inactivate abandoned history", "trigger_hist_id", h.ID, "error", err)
	}
}

// dropExisting runs the drop statements of every operation whose trigger exists
func (i *Installer) dropExisting(ctx context.Context, q db.Querier, h *history.TriggerHistory, drops map[models.EventType][]string) error {
	for _, e := range operations {
		ok, err := i.platform.TriggerExists(ctx, q, h.Names().For(e))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := i.exec(ctx, q, map[models.EventType][]string{e: drops[e]}); err != nil {
			return err
		}
	}
	return nil
}

// dropDisabled removes triggers of operations the definition no longer syncs
func (i *Installer) dropDisabled(ctx context.Context, q db.Querier, trigger *models.Trigger, h *history.TriggerHistory) error {
	drops := i.generator.RenderDrop(h)
	for _, e := range operations {
		if trigger.SyncOn(e) {
			delete(drops, e)
		}
	}
	if len(drops) == 0 {
		return nil
	}
	return i.dropExisting(ctx, q, h, drops)
}

func (i *Installer) exec(ctx context.Context, q db.Querier, stmts map[models.EventType][]string) error {
	for _, e := range operations {
		for _, s := range stmts[e] {
			if _, err := q.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("failed to execute %s trigger ddl: %w", e, err)
			}
		}
	}
	return nil
}

func (i *Installer) failed(trigger *models.Trigger, err error) error {
	for _, l := range i.listeners {
		l.TriggerFailed(trigger, err)
	}
	return fmt.Errorf("trigger %s: %w", trigger.ID, err)
}

// Drop removes the triggers of a definition and inactivates its history
func (i *Installer) Drop(ctx context.Context, trigger *models.Trigger) error {
	unlock := i.lock(trigger)
	defer unlock()

	active, err := i.store.FindActive(ctx, i.db, trigger.ID)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", trigger.ID, err)
	}
	return i.dropHistory(ctx, trigger, active)
}

func (i *Installer) dropHistory(ctx context.Context, trigger *models.Trigger, h *history.TriggerHistory) error {
	if h == nil {
		h = &history.TriggerHistory{
			TriggerID:         trigger.ID,
			SourceCatalogName: trigger.SourceCatalog,
			SourceSchemaName:  trigger.SourceSchema,
			SourceTableName:   trigger.SourceTable,
		}
		names := Names(i.platform.Dialect(), trigger.ID)
		h.NameForInsertTrigger, h.NameForUpdateTrigger, h.NameForDeleteTrigger = names.Insert, names.Update, names.Delete
	}
	if err := i.dropExisting(ctx, i.db, h, i.generator.RenderDrop(h)); err != nil {
		return fmt.Errorf("trigger %s: %w", trigger.ID, err)
	}
	if h.ID == 0 {
		return nil
	}
	at := i.now()
	if err := i.store.Inactivate(ctx, i.db, h.ID, at); err != nil {
		return err
	}
	if i.cache != nil {
		i.cache.Invalidate(trigger.ID)
		i.cache.Inactivated(h.ID, at)
	}
	for _, l := range i.listeners {
		l.TriggerInactivated(trigger, h)
	}
	return nil
}

// Result is the outcome of one definition in a SyncTriggers run
type Result struct {
	TriggerID string
	Table     string
	History   *history.TriggerHistory
	Rebuilt   bool
	Dropped   bool
	// Skipped is set when the source table does not exist yet
	Skipped bool
	Err     error
}

type Report struct {
	Results []Result
}

func (r *Report) Rebuilt() int {
	n := 0
	for _, res := range r.Results {
		if res.Rebuilt {
			n++
		}
	}
	return n
}

// Skipped lists the definitions whose table is missing
func (r *Report) Skipped() []Result {
	var skipped []Result
	for _, res := range r.Results {
		if res.Skipped {
			skipped = append(skipped, res)
		}
	}
	return skipped
}

func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

const installConcurrency = 4

// SyncTriggers installs every definition. A failing table is recorded in the
// report and never stops the others. Active histories whose definition is no
// longer listed get their triggers dropped.
func (i *Installer) SyncTriggers(ctx context.Context, triggers []*models.Trigger, force bool) (*Report, error) {
	reason := history.ReasonNew
	if force {
		reason = history.ReasonForced
	}

	results := make([]Result, len(triggers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for n, trigger := range triggers {
		n, trigger := n, trigger
		g.Go(func() error {
			h, rebuilt, err := i.install(gctx, trigger, reason)
			res := Result{
				TriggerID: trigger.ID,
				Table:     trigger.QualifiedTableName(),
				History:   h,
				Rebuilt:   rebuilt,
				Err:       err,
			}
			if errors.Is(err, ErrTableNotFound) {
				res.Skipped, res.Err = true, nil
			}
			results[n] = res
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return &Report{Results: results}, err
	}

	known := make(map[string]bool, len(triggers))
	for _, t := range triggers {
		known[t.ID] = true
	}
	stale, err := i.store.ListActive(ctx, i.db)
	if err != nil {
		return &Report{Results: results}, err
	}
	for _, h := range stale {
		if known[h.TriggerID] {
			continue
		}
		trigger := h.Trigger()
		unlock := i.lock(trigger)
		err := i.dropHistory(ctx, trigger, h)
		unlock()
		results = append(results, Result{
			TriggerID: h.TriggerID,
			Table:     h.QualifiedTableName(),
			History:   h,
			Dropped:   true,
			Err:       err,
		})
	}

	report := &Report{Results: results}
	i.logger.Info("Trigger sync finished",
		"definitions", len(triggers),
		"rebuilt", report.Rebuilt(),
		"skipped", len(report.Skipped()),
		"failed", len(report.Failed()),
	)
	return report, nil
}
