package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

type EventKind int

const (
	EventBatch EventKind = iota
	EventTable
	EventData
	EventCommit
)

func (k EventKind) String() string {
	switch k {
	case EventBatch:
		return "batch"
	case EventTable:
		return "table"
	case EventData:
		return "data"
	case EventCommit:
		return "commit"
	}
	return "unknown"
}

// Event is one item of the decoded stream. Batch is set on every event inside
// a batch; Table on table and data events; Data on data events.
type Event struct {
	Kind  EventKind
	Line  int64
	Batch *models.Batch
	Table *models.Table
	Data  *models.Data
}

// ParseError is a protocol violation at a given line of the stream
type ParseError struct {
	Line    int64
	Keyword string
	Msg     string
}

func (e *ParseError) Error() string {
	if e.Keyword == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Keyword, e.Msg)
}

type pendingTable struct {
	catalog string
	schema  string
	name    string
	keys    []string
	columns []string
}

// Reader decodes a row protocol stream lazily. Tables seen before are reused
// by pointer; a table event is only produced when the current table changes.
type Reader struct {
	r          *bufio.Reader
	line       int64
	recordLine int64

	nodeID   string
	encoding models.BinaryEncoding
	channel  string
	catalog  string
	schema   string

	batch   *models.Batch
	tables  map[string]*models.Table
	table   *models.Table
	pending *pendingTable
	old     models.Values

	queue []Event
	done  bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:        bufio.NewReaderSize(r, 64*1024),
		encoding: models.EncodingNone,
		tables:   make(map[string]*models.Table),
	}
}

func (r *Reader) NodeID() string {
	return r.nodeID
}

func (r *Reader) BinaryEncoding() models.BinaryEncoding {
	return r.encoding
}

func (r *Reader) errorf(keyword, format string, args ...any) error {
	return &ParseError{Line: r.recordLine, Keyword: keyword, Msg: fmt.Sprintf(format, args...)}
}

// readRecord returns the next record without its line terminator. A record
// continues over newlines while a quoted field is open.
func (r *Reader) readRecord() (string, int, error) {
	var b strings.Builder
	quotes := 0
	size := 0
	for {
		part, err := r.r.ReadString('\n')
		size += len(part)
		if len(part) > 0 {
			r.line++
			if b.Len() == 0 {
				r.recordLine = r.line
			}
			b.WriteString(part)
			quotes += strings.Count(part, `"`)
		}
		if err == io.EOF {
			if b.Len() == 0 {
				return "", 0, io.EOF
			}
			if quotes%2 != 0 {
				return "", size, r.errorf("", "unexpected end of stream inside quoted field")
			}
			return strings.TrimRight(b.String(), "\r\n"), size, nil
		}
		if err != nil {
			return "", size, err
		}
		if quotes%2 == 0 {
			return strings.TrimRight(b.String(), "\r\n"), size, nil
		}
		// the newline belonged to a quoted value; it does not start a new record
	}
}

// Next returns the next event, or io.EOF when the stream is exhausted. An open
// batch is closed by an implicit commit at end of stream.
func (r *Reader) Next() (Event, error) {
	for len(r.queue) == 0 {
		if r.done {
			return Event{}, io.EOF
		}
		if err := r.step(); err != nil {
			if errors.Is(err, io.EOF) {
				r.done = true
				if r.batch != nil {
					r.queue = append(r.queue, Event{Kind: EventCommit, Line: r.recordLine, Batch: r.batch})
					r.batch = nil
				}
				continue
			}
			return Event{}, err
		}
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

func (r *Reader) step() error {
	rec, size, err := r.readRecord()
	if err != nil {
		return err
	}
	if strings.TrimSpace(rec) == "" {
		return nil
	}
	if r.batch != nil {
		r.batch.Stats.ByteCount += int64(size)
	}

	keyword, payload, _ := strings.Cut(rec, ",")
	keyword = strings.TrimSpace(keyword)
	values, err := ParseValues(payload)
	if err != nil {
		return r.errorf(keyword, "%v", err)
	}
	if payload == "" && !strings.Contains(rec, ",") {
		values = nil
	}

	switch keyword {
	case KeyNodeID:
		r.nodeID = first(values)
	case KeyBinary:
		enc, ok := models.ParseBinaryEncoding(first(values))
		if !ok {
			return r.errorf(keyword, "unknown binary encoding %q", first(values))
		}
		r.encoding = enc
	case KeyChannel:
		r.channel = first(values)
	case KeyCatalog:
		r.catalog = first(values)
	case KeySchema:
		r.schema = first(values)
	case KeyBatch:
		return r.startBatch(keyword, values)
	case KeyTable:
		if err := r.requireBatch(keyword); err != nil {
			return err
		}
		name := first(values)
		if name == "" {
			return r.errorf(keyword, "missing table name")
		}
		r.pending = &pendingTable{catalog: r.catalog, schema: r.schema, name: name}
		r.old = nil
	case KeyKeys:
		if r.pending == nil {
			return r.errorf(keyword, "no table declared")
		}
		r.pending.keys = values.Strings()
	case KeyColumns:
		if r.pending == nil {
			return r.errorf(keyword, "no table declared")
		}
		r.pending.columns = values.Strings()
	case KeyCommit:
		if err := r.requireBatch(keyword); err != nil {
			return err
		}
		if err := r.resolveTable(); err != nil {
			return err
		}
		r.queue = append(r.queue, Event{Kind: EventCommit, Line: r.recordLine, Batch: r.batch})
		r.batch = nil
		r.table = nil
		r.old = nil
	case KeyInsert, KeyUpdate, KeyDelete, KeyOld, KeySQL:
		if err := r.requireBatch(keyword); err != nil {
			return err
		}
		if err := r.resolveTable(); err != nil {
			return err
		}
		return r.data(keyword, values)
	default:
		return r.errorf(keyword, "unknown record")
	}
	return nil
}

func first(values models.Values) string {
	if len(values) == 0 || values[0] == nil {
		return ""
	}
	return *values[0]
}

func (r *Reader) requireBatch(keyword string) error {
	if r.batch == nil {
		return r.errorf(keyword, "record outside of a batch")
	}
	return nil
}

func (r *Reader) startBatch(keyword string, values models.Values) error {
	if r.batch != nil {
		return r.errorf(keyword, "batch %d was not committed", r.batch.BatchID)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(first(values)), 10, 64)
	if err != nil {
		return r.errorf(keyword, "invalid batch id %q", first(values))
	}
	r.batch = models.NewBatch(id, r.channel, r.nodeID, r.encoding)
	r.table = nil
	r.pending = nil
	r.old = nil
	r.catalog, r.schema = "", ""
	r.queue = append(r.queue, Event{Kind: EventBatch, Line: r.recordLine, Batch: r.batch})
	return nil
}

// resolveTable turns a declared table into the current table, reusing a cached
// instance when its shape is unchanged
func (r *Reader) resolveTable() error {
	p := r.pending
	if p == nil {
		return nil
	}
	r.pending = nil

	key := strings.ToLower(models.QualifiedName(p.catalog, p.schema, p.name))
	cached := r.tables[key]

	resolved := cached
	if p.columns != nil || p.keys != nil {
		columns := p.columns
		keys := p.keys
		if columns == nil && cached != nil {
			columns = cached.ColumnNames()
		}
		if keys == nil && cached != nil {
			keys = cached.PrimaryKeyColumnNames()
		}
		if len(columns) == 0 {
			return r.errorf(KeyTable, "table %s declared without columns", p.name)
		}
		if cached == nil || !sameNames(cached.ColumnNames(), columns) || !sameNames(cached.PrimaryKeyColumnNames(), keys) {
			t, err := buildTable(p, columns, keys)
			if err != nil {
				return r.errorf(KeyKeys, "%v", err)
			}
			r.tables[key] = t
			resolved = t
		}
	}
	if resolved == nil {
		return r.errorf(KeyTable, "table %s has no column definition", p.name)
	}

	if resolved != r.table {
		r.table = resolved
		r.queue = append(r.queue, Event{Kind: EventTable, Line: r.recordLine, Batch: r.batch, Table: resolved})
	}
	return nil
}

func buildTable(p *pendingTable, columns, keys []string) (*models.Table, error) {
	cols := make([]models.Column, len(columns))
	for i, n := range columns {
		cols[i] = models.Column{Name: n, Type: models.Varchar}
	}
	t := models.NewTable(p.catalog, p.schema, p.name, cols...)
	for _, k := range keys {
		i := t.ColumnIndex(k)
		if i < 0 {
			return nil, fmt.Errorf("key %s is not a column of %s", k, p.name)
		}
		t.Columns[i].PrimaryKey = true
	}
	return t, nil
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (r *Reader) data(keyword string, values models.Values) error {
	if keyword == KeySQL {
		if len(values) != 1 || values[0] == nil {
			return r.errorf(keyword, "expected one statement, got %d fields", len(values))
		}
		r.emit(&models.Data{EventType: models.EventSQL, RowData: values})
		return nil
	}

	if r.table == nil {
		return r.errorf(keyword, "no table declared")
	}
	cols := len(r.table.Columns)
	keys := len(r.table.PrimaryKeyColumns())

	switch keyword {
	case KeyOld:
		if len(values) != cols {
			return r.errorf(keyword, "%s: expected %d values, got %d", r.table.Name, cols, len(values))
		}
		r.old = values
	case KeyInsert:
		if len(values) != cols {
			return r.errorf(keyword, "%s: expected %d values, got %d", r.table.Name, cols, len(values))
		}
		r.old = nil
		r.emit(&models.Data{EventType: models.EventInsert, RowData: values})
	case KeyUpdate:
		if len(values) != cols+keys {
			return r.errorf(keyword, "%s: expected %d values and %d keys, got %d fields", r.table.Name, cols, keys, len(values))
		}
		r.emit(&models.Data{
			EventType: models.EventUpdate,
			RowData:   values[:cols:cols],
			PKData:    values[cols:],
			OldData:   r.takeOld(),
		})
	case KeyDelete:
		if len(values) != keys {
			return r.errorf(keyword, "%s: expected %d keys, got %d", r.table.Name, keys, len(values))
		}
		r.emit(&models.Data{EventType: models.EventDelete, PKData: values, OldData: r.takeOld()})
	}
	return nil
}

func (r *Reader) takeOld() models.Values {
	old := r.old
	r.old = nil
	return old
}

func (r *Reader) emit(d *models.Data) {
	d.ChannelID = r.batch.ChannelID
	d.SourceNodeID = r.batch.SourceNodeID
	if r.table != nil {
		d.TableName = r.table.Name
	}
	r.queue = append(r.queue, Event{Kind: EventData, Line: r.recordLine, Batch: r.batch, Table: r.table, Data: d})
}
