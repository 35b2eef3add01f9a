package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/dml"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/internal/platform"
	"github.com/Guizzs26/go-trigger-sync/internal/protocol"
)

type events struct {
	mu         sync.Mutex
	committed  []int64
	rolledBack []int64
}

func (e *events) BatchCommitted(b *models.Batch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committed = append(e.committed, b.BatchID)
}

func (e *events) BatchRolledBack(b *models.Batch, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rolledBack = append(e.rolledBack, b.BatchID)
}

type fixture struct {
	ctx    context.Context
	db     *sql.DB
	loader *Loader
	events *events
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dialect.SQLite()

	conn, err := db.Open(ctx, d, filepath.Join(t.TempDir(), "target.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	p := platform.New(d, logger)
	require.NoError(t, p.EnsureRuntimeTables(ctx, conn))

	for _, stmt := range []string{
		`create table items (id integer primary key, name varchar(50))`,
		`create table audit (item_id integer)`,
		`create trigger audit_items after insert on items
		 when (select count(*) from sync_context where name = 'sync_disabled') = 0
		 begin insert into audit values (new.id); end`,
	} {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}

	loader := NewLoader(conn, p, db.NewRepository(conn, d, logger), dml.NewApplier(d, dml.NewStatementCache(d), logger), logger)
	ev := &events{}
	loader.AddListener(ev)
	loader.AddListener(NewLogListener(logger))
	return &fixture{ctx: ctx, db: conn, loader: loader, events: ev}
}

func stream(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func header(batchID int) []string {
	return []string{
		`NODEID,"store-1"`,
		`BINARY,"HEX"`,
		`CHANNEL,"default"`,
		fmt.Sprintf(`BATCH,"%d"`, batchID),
		`TABLE,"items"`,
		`KEYS,"id"`,
		`COLUMNS,"id","name"`,
	}
}

func (f *fixture) names(t *testing.T) map[int]string {
	t.Helper()
	rows, err := f.db.Query("select id, name from items order by id")
	require.NoError(t, err)
	defer rows.Close()
	out := map[int]string{}
	for rows.Next() {
		var id int
		var name sql.NullString
		require.NoError(t, rows.Scan(&id, &name))
		out[id] = name.String
	}
	return out
}

func (f *fixture) count(t *testing.T, query string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(query).Scan(&n))
	return n
}

func TestLoadCommitsBatch(t *testing.T) {
	f := newFixture(t)
	input := stream(append(header(1),
		`INSERT,"1","a"`,
		`INSERT,"2","b"`,
		`OLD,"1","a"`,
		`UPDATE,"1","z","1"`,
		`DELETE,"2"`,
		`COMMIT,"1"`,
	)...)

	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, models.StatusCommitted, b.Status)
	assert.Equal(t, "store-1", b.SourceNodeID)
	assert.Equal(t, "default", b.ChannelID)
	assert.Equal(t, int64(4), b.Stats.RowCount)
	assert.Equal(t, int64(2), b.Stats.InsertCount)
	assert.Equal(t, int64(1), b.Stats.UpdateCount)
	assert.Equal(t, int64(1), b.Stats.DeleteCount)
	assert.Positive(t, b.Stats.ByteCount)

	assert.Equal(t, map[int]string{1: "z"}, f.names(t))
	assert.Equal(t, []int64{1}, f.events.committed)
	assert.Equal(t, 1, f.count(t, "select count(*) from sync_incoming_batch where batch_id = 1 and node_id = 'store-1' and status = 'OK'"))
}

func TestLoadDisablesCaptureInsideBatch(t *testing.T) {
	f := newFixture(t)
	input := stream(append(header(1), `INSERT,"1","a"`, `COMMIT,"1"`)...)

	_, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 0, f.count(t, "select count(*) from audit"))

	_, err = f.db.Exec("insert into items values (2, 'local')")
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "select count(*) from audit"))
}

func TestLoadRollsBackWholeBatch(t *testing.T) {
	f := newFixture(t)
	input := stream(append(header(7),
		`INSERT,"1","a"`,
		`INSERT,"1","duplicate"`,
		`INSERT,"3","c"`,
		`COMMIT,"7"`,
	)...)

	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.Error(t, err)
	var applyErr *dml.ApplyError
	assert.ErrorAs(t, err, &applyErr)

	require.Len(t, batches, 1)
	b := batches[0]
	assert.Equal(t, models.StatusRolledBack, b.Status)
	assert.Equal(t, int64(9), b.ErrorLine)
	assert.Equal(t, "items", b.ErrorTable)

	assert.Empty(t, f.names(t))
	assert.Equal(t, []int64{7}, f.events.rolledBack)

	var status string
	var line int64
	require.NoError(t, f.db.QueryRow(
		"select status, failed_line from sync_incoming_batch where batch_id = 7").Scan(&status, &line))
	assert.Equal(t, db.IncomingError, status)
	assert.Equal(t, int64(9), line)
}

func TestLoadSkipsAlreadyLoadedBatch(t *testing.T) {
	f := newFixture(t)
	input := stream(append(header(3), `INSERT,"1","a"`, `COMMIT,"3"`)...)

	_, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)

	_, err = f.db.Exec("update items set name = 'changed locally' where id = 1")
	require.NoError(t, err)

	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].AlreadyLoaded)
	assert.Equal(t, models.StatusCommitted, batches[0].Status)
	assert.Equal(t, map[int]string{1: "changed locally"}, f.names(t))
}

func TestLoadRetriesFailedBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.Exec("insert into items values (1, 'blocking')")
	require.NoError(t, err)

	input := stream(append(header(4), `INSERT,"1","a"`, `COMMIT,"4"`)...)
	_, err = f.loader.Load(f.ctx, strings.NewReader(input))
	require.Error(t, err)

	_, err = f.db.Exec("delete from items where id = 1")
	require.NoError(t, err)

	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.False(t, batches[0].AlreadyLoaded)
	assert.Equal(t, map[int]string{1: "a"}, f.names(t))
	assert.Equal(t, 1, f.count(t, "select count(*) from sync_incoming_batch where batch_id = 4 and status = 'OK'"))
}

func TestLoadSkipsMissingTargetTable(t *testing.T) {
	f := newFixture(t)
	input := stream(
		`NODEID,"store-1"`,
		`CHANNEL,"default"`,
		`BATCH,"1"`,
		`TABLE,"ghost"`,
		`KEYS,"id"`,
		`COLUMNS,"id"`,
		`INSERT,"1"`,
		`TABLE,"items"`,
		`KEYS,"id"`,
		`COLUMNS,"id","name"`,
		`INSERT,"5","kept"`,
		`COMMIT,"1"`,
	)

	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, int64(1), batches[0].Stats.SkippedCount)
	assert.Equal(t, int64(1), batches[0].Stats.InsertCount)
	assert.Equal(t, map[int]string{5: "kept"}, f.names(t))
}

func TestLoadAppliesRowFilters(t *testing.T) {
	f := newFixture(t)
	f.loader.AddFilter(RowFilterFunc(func(_ context.Context, _ db.Querier, _ *models.Batch, _ *models.Table, d *models.Data) (bool, error) {
		return d.RowData == nil || *d.RowData[1] != "secret", nil
	}))

	input := stream(append(header(1), `INSERT,"1","open"`, `INSERT,"2","secret"`, `COMMIT,"1"`)...)
	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, int64(1), batches[0].Stats.SkippedCount)
	assert.Equal(t, map[int]string{1: "open"}, f.names(t))
}

func TestLoadStopsAtFirstFailedBatch(t *testing.T) {
	f := newFixture(t)
	lines := append(header(1), `INSERT,"1","a"`, `COMMIT,"1"`)
	lines = append(lines, `BATCH,"2"`, `TABLE,"items"`, `INSERT,"x","bad id"`, `COMMIT,"2"`)
	lines = append(lines, `BATCH,"3"`, `TABLE,"items"`, `INSERT,"3","never"`, `COMMIT,"3"`)

	batches, err := f.loader.Load(f.ctx, strings.NewReader(stream(lines...)))
	require.Error(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, models.StatusCommitted, batches[0].Status)
	assert.Equal(t, models.StatusRolledBack, batches[1].Status)
	assert.Equal(t, map[int]string{1: "a"}, f.names(t))
}

func TestLoadParseErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	input := stream(append(header(1), `INSERT,"1","a"`, `INSERT,"2"`, `COMMIT,"1"`)...)

	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	var perr *protocol.ParseError
	require.ErrorAs(t, err, &perr)
	assert.True(t, IsFatal(err))
	assert.Equal(t, models.StatusRolledBack, batches[0].Status)
	assert.Equal(t, int64(9), batches[0].ErrorLine)
	assert.Empty(t, f.names(t))
}

func TestLoadSQLEvent(t *testing.T) {
	f := newFixture(t)
	input := stream(
		`NODEID,"store-1"`,
		`BATCH,"1"`,
		`SQL,"insert into items (id, name) values (8, 'from sql')"`,
		`COMMIT,"1"`,
	)
	batches, err := f.loader.Load(f.ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, int64(1), batches[0].Stats.SQLCount)
	assert.Equal(t, map[int]string{8: "from sql"}, f.names(t))
}

type ledger map[int64]bool

func (l ledger) IsBatchTerminal(_ context.Context, batchID int64, _ string) (bool, error) {
	return l[batchID], nil
}

func TestSequencerWaitsForPredecessor(t *testing.T) {
	s := NewSequencer(nil)
	ctx := context.Background()
	first := Job{SourceNodeID: "store-1", ChannelID: "a", BatchID: 1}
	second := Job{SourceNodeID: "store-1", ChannelID: "a", BatchID: 2, PrevBatchID: 1}
	other := Job{SourceNodeID: "store-2", ChannelID: "a", BatchID: 2, PrevBatchID: 1}

	ready, err := s.Ready(ctx, first)
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = s.Ready(ctx, second)
	require.NoError(t, err)
	assert.False(t, ready)

	changed := s.Changed(second)
	s.Finish(first)
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("finishing batch 1 did not wake its lane")
	}

	ready, err = s.Ready(ctx, second)
	require.NoError(t, err)
	assert.True(t, ready)

	// another source node has its own numbering
	ready, err = s.Ready(ctx, other)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestSequencerAsksLedgerForEarlierRuns(t *testing.T) {
	s := NewSequencer(ledger{4: true})
	ctx := context.Background()

	ready, err := s.Ready(ctx, Job{SourceNodeID: "store-1", ChannelID: "a", BatchID: 5, PrevBatchID: 4})
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = s.Ready(ctx, Job{SourceNodeID: "store-1", ChannelID: "a", BatchID: 7, PrevBatchID: 6})
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestJobQueuePopsLowestFirst(t *testing.T) {
	q := newJobQueue()
	for _, id := range []int64{3, 1, 2} {
		q.push(Job{BatchID: id})
	}
	q.close()

	var got []int64
	for {
		job, ok := q.pop(context.Background())
		if !ok {
			break
		}
		got = append(got, job.BatchID)
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

type scriptedHandler struct {
	mu       sync.Mutex
	failures map[int64][]error
	handled  []string
}

func (h *scriptedHandler) Handle(_ context.Context, job Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, fmt.Sprintf("%s/%d", job.ChannelID, job.BatchID))
	if errs := h.failures[job.BatchID]; len(errs) > 0 {
		h.failures[job.BatchID] = errs[1:]
		return errs[0]
	}
	return nil
}

func TestDispatcherRetriesTransientAndDropsFatal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := &scriptedHandler{failures: map[int64][]error{
		1: {errors.New("database is locked")},
		2: {errors.New("FATAL: table is not allowed")},
	}}
	d := NewDispatcher(handler, NewSequencer(nil), logger)
	d.minDelay, d.maxDelay = time.Millisecond, 5*time.Millisecond

	var mu sync.Mutex
	results := map[int64]error{}
	var wg sync.WaitGroup
	jobs := make(chan Job, 3)
	for _, j := range []Job{{ChannelID: "a", BatchID: 1}, {ChannelID: "a", BatchID: 2}, {ChannelID: "b", BatchID: 5}} {
		wg.Add(1)
		id := j.BatchID
		j.Done = func(err error) {
			mu.Lock()
			results[id] = err
			mu.Unlock()
			wg.Done()
		}
		jobs <- j
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		wg.Wait()
		close(jobs)
	}()
	require.NoError(t, d.Run(ctx, jobs))

	assert.NoError(t, results[1])
	assert.ErrorContains(t, results[2], "FATAL:")
	assert.NoError(t, results[5])

	var channelA []string
	for _, h := range handler.handled {
		if strings.HasPrefix(h, "a/") {
			channelA = append(channelA, h)
		}
	}
	assert.Equal(t, []string{"a/1", "a/1", "a/2"}, channelA)
}

func TestDispatcherHoldsBatchUntilPredecessorArrives(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := &scriptedHandler{}
	d := NewDispatcher(handler, NewSequencer(nil), logger)
	d.pollInterval = 5 * time.Millisecond

	var wg sync.WaitGroup
	job := func(id, prev int64) Job {
		wg.Add(1)
		return Job{SourceNodeID: "store-1", ChannelID: "a", BatchID: id, PrevBatchID: prev, Done: func(error) { wg.Done() }}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	jobs := make(chan Job)
	ran := make(chan error, 1)
	go func() { ran <- d.Run(ctx, jobs) }()

	jobs <- job(2, 1)
	time.Sleep(20 * time.Millisecond)
	handler.mu.Lock()
	assert.Empty(t, handler.handled, "batch 2 loaded before batch 1 arrived")
	handler.mu.Unlock()

	jobs <- job(1, 0)
	jobs <- job(3, 2)
	wg.Wait()
	close(jobs)
	require.NoError(t, <-ran)

	assert.Equal(t, []string{"a/1", "a/2", "a/3"}, handler.handled)
}

func TestDispatcherReleasesBatchLoadedInEarlierRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := &scriptedHandler{}
	d := NewDispatcher(handler, NewSequencer(ledger{8: true}), logger)

	done := make(chan error, 1)
	jobs := make(chan Job, 1)
	jobs <- Job{SourceNodeID: "store-1", ChannelID: "a", BatchID: 9, PrevBatchID: 8, Done: func(err error) { done <- err }}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go d.Run(ctx, jobs)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("batch 9 never loaded")
	}
	cancel()
}
