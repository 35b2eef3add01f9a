package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

func s(v string) *string { return &v }

func TestEncodeValues(t *testing.T) {
	got := EncodeValues(models.Values{s("1"), s(`say "hi"`), nil, s(""), s("a,b")})
	assert.Equal(t, `"1","say ""hi""",,"","a,b"`, got)
}

func TestParseValuesRoundTrip(t *testing.T) {
	cases := []models.Values{
		{s("1"), s("a")},
		{s("comma, inside"), s(`quote " inside`), s("new\nline"), nil, s("")},
		{nil},
		{nil, nil, s("x")},
		{s(`""`), s("\r\n"), s("trailing,")},
	}
	for _, want := range cases {
		got, err := ParseValues(EncodeValues(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseValuesNullVersusEmpty(t *testing.T) {
	got, err := ParseValues(`,"",`)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Nil(t, got[0])
	assert.Equal(t, "", *got[1])
	assert.Nil(t, got[2])
}

func TestParseValuesErrors(t *testing.T) {
	_, err := ParseValues(`"open`)
	assert.Error(t, err)

	_, err = ParseValues(`"a"b`)
	assert.Error(t, err)

	_, err = ParseValues(`a"b`)
	assert.Error(t, err)
}

func TestBinaryRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0xff, 0x10, 'a', ',', '"'}
	for _, enc := range []models.BinaryEncoding{models.EncodingHex, models.EncodingBase64, models.EncodingNone} {
		encoded := EncodeBinary(enc, raw)
		values, err := ParseValues(EncodeValues(models.Values{&encoded}))
		require.NoError(t, err)
		decoded, err := DecodeBinary(enc, *values[0])
		require.NoError(t, err, enc)
		assert.Equal(t, raw, decoded, enc)
	}

	assert.Equal(t, "00FF10612C22", EncodeBinary(models.EncodingHex, raw))

	wrapped, err := DecodeBinary(models.EncodingBase64, "AP8Q\nYSwi")
	require.NoError(t, err)
	assert.Equal(t, raw, wrapped)

	_, err = DecodeBinary(models.EncodingHex, "zz")
	assert.Error(t, err)
}

func itemsTable() *models.Table {
	return models.NewTable("", "", "items",
		models.Column{Name: "id", Type: models.Integer, PrimaryKey: true},
		models.Column{Name: "name", Type: models.Varchar},
	)
}

func TestWriterOutput(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "node-1", models.EncodingHex)

	b := models.NewBatch(7, "default", "node-1", models.EncodingHex)
	require.NoError(t, w.StartBatch(b))
	require.NoError(t, w.WriteTable(itemsTable()))
	require.NoError(t, w.WriteData(&models.Data{EventType: models.EventInsert, RowData: models.Values{s("1"), s("a")}}))
	require.NoError(t, w.WriteTable(itemsTable()))
	require.NoError(t, w.WriteData(&models.Data{
		EventType: models.EventUpdate,
		RowData:   models.Values{s("1"), s("b")},
		PKData:    models.Values{s("1")},
		OldData:   models.Values{s("1"), s("a")},
	}))
	require.NoError(t, w.WriteData(&models.Data{EventType: models.EventDelete, PKData: models.Values{s("1")}}))
	require.NoError(t, w.EndBatch())

	want := strings.Join([]string{
		`NODEID,"node-1"`,
		`BINARY,"HEX"`,
		`CHANNEL,"default"`,
		`BATCH,"7"`,
		`TABLE,"items"`,
		`KEYS,"id"`,
		`COLUMNS,"id","name"`,
		`INSERT,"1","a"`,
		`OLD,"1","a"`,
		`UPDATE,"1","b","1"`,
		`DELETE,"1"`,
		`COMMIT,"7"`,
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, int64(buf.Len()), w.BytesWritten())
}

func TestWriterRejectsShapeMismatch(t *testing.T) {
	w := NewWriter(io.Discard, "n", models.EncodingNone)
	require.NoError(t, w.StartBatch(models.NewBatch(1, "c", "n", models.EncodingNone)))
	require.NoError(t, w.WriteTable(itemsTable()))

	err := w.WriteData(&models.Data{EventType: models.EventInsert, RowData: models.Values{s("1")}})
	assert.Error(t, err)

	assert.Error(t, w.StartBatch(models.NewBatch(2, "c", "n", models.EncodingNone)))
}

func readAll(t *testing.T, input string) ([]Event, error) {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var events []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestReaderDecodesStream(t *testing.T) {
	input := `NODEID,"store-1"
BINARY,"BASE64"
CHANNEL,"sales"
BATCH,"3"
TABLE,"items"
KEYS,"id"
COLUMNS,"id","name"
INSERT,"1","multi
line, with comma"
OLD,"1","a"
UPDATE,"1","b","1"
DELETE,"1"
SQL,"delete from items"
COMMIT,"3"
`
	events, err := readAll(t, input)
	require.NoError(t, err)
	require.Equal(t, []EventKind{EventBatch, EventTable, EventData, EventData, EventData, EventData, EventCommit}, kinds(events))

	batch := events[0].Batch
	assert.Equal(t, int64(3), batch.BatchID)
	assert.Equal(t, "sales", batch.ChannelID)
	assert.Equal(t, "store-1", batch.SourceNodeID)
	assert.Equal(t, models.EncodingBase64, batch.BinaryEncoding)
	assert.Positive(t, batch.Stats.ByteCount)

	table := events[1].Table
	assert.Equal(t, []string{"id", "name"}, table.ColumnNames())
	assert.Equal(t, []string{"id"}, table.PrimaryKeyColumnNames())

	insert := events[2].Data
	assert.Equal(t, models.EventInsert, insert.EventType)
	assert.Equal(t, "multi\nline, with comma", *insert.RowData[1])
	assert.Equal(t, "items", insert.TableName)
	assert.Equal(t, "sales", insert.ChannelID)
	assert.Equal(t, int64(8), events[2].Line)

	update := events[3].Data
	assert.Equal(t, []string{"1", "b"}, update.RowData.Strings())
	assert.Equal(t, []string{"1"}, update.PKData.Strings())
	assert.Equal(t, []string{"1", "a"}, update.OldData.Strings())
	assert.Equal(t, int64(11), events[3].Line)

	del := events[4].Data
	assert.Equal(t, models.EventDelete, del.EventType)
	assert.Nil(t, del.OldData, "OLD is consumed by the update")

	assert.Equal(t, models.EventSQL, events[5].Data.EventType)
	assert.Equal(t, "delete from items", *events[5].Data.RowData[0])
}

func TestReaderCarriesOldIntoDelete(t *testing.T) {
	input := "BATCH,\"1\"\nTABLE,\"t\"\nKEYS,\"id\"\nCOLUMNS,\"id\",\"v\"\nOLD,\"5\",\nDELETE,\"5\"\n"
	events, err := readAll(t, input)
	require.NoError(t, err)
	require.Len(t, events, 4)

	del := events[2].Data
	require.Len(t, del.OldData, 2)
	assert.Equal(t, "5", *del.OldData[0])
	assert.Nil(t, del.OldData[1])
	assert.Equal(t, EventCommit, events[3].Kind, "end of stream commits the open batch")
}

func TestReaderReusesTables(t *testing.T) {
	input := `BATCH,"1"
TABLE,"a"
KEYS,"id"
COLUMNS,"id","x"
INSERT,"1","x"
TABLE,"a"
INSERT,"2","y"
TABLE,"b"
KEYS,"k"
COLUMNS,"k"
INSERT,"9"
TABLE,"a"
INSERT,"3","z"
COMMIT
BATCH,"2"
TABLE,"a"
KEYS,"id"
COLUMNS,"id","x"
INSERT,"4","w"
TABLE,"a"
KEYS,"id"
COLUMNS,"id","x","added"
INSERT,"5","v",""
`
	events, err := readAll(t, input)
	require.NoError(t, err)

	var tables []*models.Table
	for _, ev := range events {
		if ev.Kind == EventTable {
			tables = append(tables, ev.Table)
		}
	}
	require.Len(t, tables, 5)
	assert.Equal(t, "a", tables[0].Name)
	assert.Equal(t, "b", tables[1].Name)
	assert.Same(t, tables[0], tables[2], "a is reused after b")
	assert.Same(t, tables[0], tables[3], "identical shape in the next batch reuses the instance")
	assert.NotSame(t, tables[0], tables[4])
	assert.Equal(t, []string{"id", "x", "added"}, tables[4].ColumnNames())
}

func TestReaderErrors(t *testing.T) {
	cases := map[string]struct {
		input string
		line  int64
	}{
		"update count mismatch": {"BATCH,\"1\"\nTABLE,\"t\"\nKEYS,\"id\"\nCOLUMNS,\"id\",\"v\"\nUPDATE,\"1\",\"a\"\n", 5},
		"insert count mismatch": {"BATCH,\"1\"\nTABLE,\"t\"\nKEYS,\"id\"\nCOLUMNS,\"id\",\"v\"\nINSERT,\"1\"\n", 5},
		"delete count mismatch": {"BATCH,\"1\"\nTABLE,\"t\"\nKEYS,\"id\"\nCOLUMNS,\"id\",\"v\"\nDELETE,\"1\",\"2\"\n", 5},
		"nested batch":          {"BATCH,\"1\"\nBATCH,\"2\"\n", 2},
		"data outside batch":    {"INSERT,\"1\"\n", 1},
		"data without table":    {"BATCH,\"1\"\nINSERT,\"1\"\n", 2},
		"unknown table":         {"BATCH,\"1\"\nTABLE,\"t\"\nINSERT,\"1\"\n", 3},
		"unknown keyword":       {"BATCH,\"1\"\nUPSERT,\"1\"\n", 2},
		"bad batch id":          {"BATCH,\"x\"\n", 1},
		"unterminated quote":    {"BATCH,\"1\"\nTABLE,\"t\n", 2},
		"unknown key column":    {"BATCH,\"1\"\nTABLE,\"t\"\nKEYS,\"k\"\nCOLUMNS,\"id\"\nINSERT,\"1\"\n", 5},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readAll(t, tc.input)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.line, perr.Line)
		})
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "n1", models.EncodingBase64)

	rows := []models.Values{
		{s("1"), s("plain")},
		{s("2"), s("comma, quote \" and\nnewline")},
		{s("3"), nil},
		{s("4"), s("")},
	}
	for id := int64(1); id <= 2; id++ {
		require.NoError(t, w.StartBatch(models.NewBatch(id, "c1", "n1", models.EncodingBase64)))
		require.NoError(t, w.WriteTable(itemsTable()))
		for _, r := range rows {
			require.NoError(t, w.WriteData(&models.Data{EventType: models.EventInsert, RowData: r}))
		}
		require.NoError(t, w.EndBatch())
	}

	events, err := readAll(t, buf.String())
	require.NoError(t, err)

	var got []models.Values
	batches := 0
	for _, ev := range events {
		switch ev.Kind {
		case EventBatch:
			batches++
			assert.Equal(t, models.EncodingBase64, ev.Batch.BinaryEncoding)
		case EventData:
			got = append(got, ev.Data.RowData)
		}
	}
	assert.Equal(t, 2, batches)
	assert.Equal(t, append(append([]models.Values{}, rows...), rows...), got)
}
