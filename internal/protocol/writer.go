package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// Writer encodes batches into the row protocol. Table shapes are written once
// per batch so every batch can be read on its own.
type Writer struct {
	w        *bufio.Writer
	nodeID   string
	encoding models.BinaryEncoding

	headerDone bool
	channel    string
	batch      *models.Batch

	catalog string
	schema  string
	table   *models.Table
	shapes  map[string]string

	written int64
}

func NewWriter(w io.Writer, nodeID string, enc models.BinaryEncoding) *Writer {
	return &Writer{
		w:        bufio.NewWriter(w),
		nodeID:   nodeID,
		encoding: enc,
		shapes:   make(map[string]string),
	}
}

// BytesWritten reports the size of the encoded stream so far
func (w *Writer) BytesWritten() int64 {
	return w.written
}

func (w *Writer) record(keyword string, values ...*string) error {
	line := keyword
	if len(values) > 0 {
		line += "," + EncodeValues(values)
	}
	n, err := w.w.WriteString(line + "\n")
	w.written += int64(n)
	if w.batch != nil {
		w.batch.Stats.ByteCount += int64(n)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StartBatch opens a batch. Stream headers are written before the first batch
// and CHANNEL whenever the channel changes.
func (w *Writer) StartBatch(b *models.Batch) error {
	if w.batch != nil {
		return fmt.Errorf("batch %d is still open", w.batch.BatchID)
	}
	if !w.headerDone {
		if err := w.record(KeyNodeID, models.Str(w.nodeID)); err != nil {
			return err
		}
		if err := w.record(KeyBinary, models.Str(string(w.encoding))); err != nil {
			return err
		}
		w.headerDone = true
	}
	if b.ChannelID != w.channel {
		if err := w.record(KeyChannel, models.Str(b.ChannelID)); err != nil {
			return err
		}
		w.channel = b.ChannelID
	}

	w.catalog, w.schema, w.table = "", "", nil
	w.shapes = make(map[string]string)
	w.batch = b
	return w.record(KeyBatch, models.Str(strconv.FormatInt(b.BatchID, 10)))
}

func shapeOf(t *models.Table) string {
	return strings.Join(t.PrimaryKeyColumnNames(), ",") + "|" + strings.Join(t.ColumnNames(), ",")
}

// WriteTable switches the current table. KEYS and COLUMNS follow only when the
// shape was not yet written in this batch.
func (w *Writer) WriteTable(t *models.Table) error {
	if w.batch == nil {
		return fmt.Errorf("no open batch")
	}
	key := strings.ToLower(t.FullyQualifiedName())
	shape := shapeOf(t)
	if w.table != nil && strings.ToLower(w.table.FullyQualifiedName()) == key && w.shapes[key] == shape {
		return nil
	}

	if t.Catalog != w.catalog {
		if err := w.record(KeyCatalog, nullable(t.Catalog)); err != nil {
			return err
		}
		w.catalog = t.Catalog
	}
	if t.Schema != w.schema {
		if err := w.record(KeySchema, nullable(t.Schema)); err != nil {
			return err
		}
		w.schema = t.Schema
	}
	if err := w.record(KeyTable, models.Str(t.Name)); err != nil {
		return err
	}
	if w.shapes[key] != shape {
		if err := w.record(KeyKeys, strPtrs(t.PrimaryKeyColumnNames())...); err != nil {
			return err
		}
		if err := w.record(KeyColumns, strPtrs(t.ColumnNames())...); err != nil {
			return err
		}
		w.shapes[key] = shape
	}
	w.table = t
	return nil
}

func strPtrs(names []string) []*string {
	out := make([]*string, len(names))
	for i := range names {
		out[i] = &names[i]
	}
	return out
}

// WriteData writes one captured change against the current table. Old values
// precede UPDATE and DELETE records as an OLD record when present.
func (w *Writer) WriteData(d *models.Data) error {
	if d.EventType == models.EventSQL {
		if len(d.RowData) != 1 || d.RowData[0] == nil {
			return fmt.Errorf("sql event %d carries no statement", d.DataID)
		}
		return w.record(KeySQL, d.RowData[0])
	}
	if w.table == nil {
		return fmt.Errorf("data %d written before any table", d.DataID)
	}
	cols := len(w.table.Columns)
	keys := len(w.table.PrimaryKeyColumns())

	switch d.EventType {
	case models.EventInsert:
		if len(d.RowData) != cols {
			return fmt.Errorf("insert %d on %s has %d values, table has %d columns", d.DataID, w.table.Name, len(d.RowData), cols)
		}
		return w.record(KeyInsert, d.RowData...)

	case models.EventUpdate:
		if len(d.RowData) != cols || len(d.PKData) != keys {
			return fmt.Errorf("update %d on %s has %d values and %d keys, table has %d columns and %d keys",
				d.DataID, w.table.Name, len(d.RowData), len(d.PKData), cols, keys)
		}
		if err := w.writeOld(d, cols); err != nil {
			return err
		}
		values := make([]*string, 0, cols+keys)
		values = append(values, d.RowData...)
		values = append(values, d.PKData...)
		return w.record(KeyUpdate, values...)

	case models.EventDelete:
		if len(d.PKData) != keys {
			return fmt.Errorf("delete %d on %s has %d keys, table has %d", d.DataID, w.table.Name, len(d.PKData), keys)
		}
		if err := w.writeOld(d, cols); err != nil {
			return err
		}
		return w.record(KeyDelete, d.PKData...)
	}
	return fmt.Errorf("unknown event type %q for data %d", d.EventType, d.DataID)
}

func (w *Writer) writeOld(d *models.Data, cols int) error {
	if len(d.OldData) == 0 {
		return nil
	}
	if len(d.OldData) != cols {
		return fmt.Errorf("old data of %d on %s has %d values, table has %d columns", d.DataID, w.table.Name, len(d.OldData), cols)
	}
	return w.record(KeyOld, d.OldData...)
}

// EndBatch writes COMMIT and flushes
func (w *Writer) EndBatch() error {
	if w.batch == nil {
		return fmt.Errorf("no open batch")
	}
	if err := w.record(KeyCommit, models.Str(strconv.FormatInt(w.batch.BatchID, 10))); err != nil {
		return err
	}
	w.batch = nil
	return w.Flush()
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}
