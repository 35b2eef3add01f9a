package models

import "time"

// EventType is the single-letter code stored in the change log
type EventType string

const (
	EventInsert EventType = "I"
	EventUpdate EventType = "U"
	EventDelete EventType = "D"
	EventSQL    EventType = "S"
)

func (e EventType) String() string {
	switch e {
	case EventInsert:
		return "INSERT"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	case EventSQL:
		return "SQL"
	}
	return string(e)
}

func (e EventType) Valid() bool {
	return e == EventInsert || e == EventUpdate || e == EventDelete || e == EventSQL
}

// Values is an ordered row of textual column values. A nil entry is SQL NULL.
type Values []*string

// Str returns a pointer to s, for building Values literals
func Str(s string) *string {
	return &s
}

// Strings flattens the row for logging, rendering NULL as <null>
func (v Values) Strings() []string {
	out := make([]string, len(v))
	for i, s := range v {
		if s == nil {
			out[i] = "<null>"
		} else {
			out[i] = *s
		}
	}
	return out
}

// Data is one captured row change
type Data struct {
	DataID        int64
	EventType     EventType
	TableName     string
	TriggerHistID int
	ChannelID     string
	RowData       Values
	PKData        Values
	OldData       Values
	TransactionID string
	SourceNodeID  string
	CreateTime    time.Time
}

// BinaryEncoding names how binary column values are rendered as text
type BinaryEncoding string

const (
	EncodingNone   BinaryEncoding = "NONE"
	EncodingHex    BinaryEncoding = "HEX"
	EncodingBase64 BinaryEncoding = "BASE64"
)

func ParseBinaryEncoding(s string) (BinaryEncoding, bool) {
	switch BinaryEncoding(s) {
	case EncodingNone, EncodingHex, EncodingBase64:
		return BinaryEncoding(s), true
	}
	return EncodingNone, false
}
