package models

import "strings"

// TypeCode mirrors the JDBC type codes so that captured metadata stays comparable
// across heterogeneous databases
type TypeCode int

const (
	Bit           TypeCode = -7
	TinyInt       TypeCode = -6
	SmallInt      TypeCode = 5
	Integer       TypeCode = 4
	BigInt        TypeCode = -5
	Float         TypeCode = 6
	Real          TypeCode = 7
	Double        TypeCode = 8
	Numeric       TypeCode = 2
	Decimal       TypeCode = 3
	Char          TypeCode = 1
	Varchar       TypeCode = 12
	LongVarchar   TypeCode = -1
	NChar         TypeCode = -15
	NVarchar      TypeCode = -9
	LongNVarchar  TypeCode = -16
	Date          TypeCode = 91
	Time          TypeCode = 92
	Timestamp     TypeCode = 93
	Binary        TypeCode = -2
	VarBinary     TypeCode = -3
	LongVarBinary TypeCode = -4
	Blob          TypeCode = 2004
	Clob          TypeCode = 2005
	NClob         TypeCode = 2011
	Boolean       TypeCode = 16
	Other         TypeCode = 1111
)

var typeNames = map[TypeCode]string{
	Bit:           "BIT",
	TinyInt:       "TINYINT",
	SmallInt:      "SMALLINT",
	Integer:       "INTEGER",
	BigInt:        "BIGINT",
	Float:         "FLOAT",
	Real:          "REAL",
	Double:        "DOUBLE",
	Numeric:       "NUMERIC",
	Decimal:       "DECIMAL",
	Char:          "CHAR",
	Varchar:       "VARCHAR",
	LongVarchar:   "LONGVARCHAR",
	NChar:         "NCHAR",
	NVarchar:      "NVARCHAR",
	LongNVarchar:  "LONGNVARCHAR",
	Date:          "DATE",
	Time:          "TIME",
	Timestamp:     "TIMESTAMP",
	Binary:        "BINARY",
	VarBinary:     "VARBINARY",
	LongVarBinary: "LONGVARBINARY",
	Blob:          "BLOB",
	Clob:          "CLOB",
	NClob:         "NCLOB",
	Boolean:       "BOOLEAN",
	Other:         "OTHER",
}

func (t TypeCode) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "OTHER"
}

// ParseTypeCode resolves a JDBC type name such as "VARCHAR" back to its code
func ParseTypeCode(name string) (TypeCode, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for code, n := range typeNames {
		if n == upper {
			return code, true
		}
	}
	return Other, false
}

func (t TypeCode) IsText() bool {
	switch t {
	case Char, Varchar, LongVarchar, NChar, NVarchar, LongNVarchar, Clob, NClob:
		return true
	}
	return false
}

func (t TypeCode) IsBinary() bool {
	switch t {
	case Binary, VarBinary, LongVarBinary, Blob:
		return true
	}
	return false
}

func (t TypeCode) IsInteger() bool {
	switch t {
	case TinyInt, SmallInt, Integer, BigInt:
		return true
	}
	return false
}

func (t TypeCode) IsNumeric() bool {
	switch t {
	case TinyInt, SmallInt, Integer, BigInt, Float, Real, Double, Numeric, Decimal:
		return true
	}
	return false
}

func (t TypeCode) IsFloating() bool {
	return t == Float || t == Real || t == Double
}

func (t TypeCode) IsTemporal() bool {
	return t == Date || t == Time || t == Timestamp
}

func (t TypeCode) IsBoolean() bool {
	return t == Boolean || t == Bit
}
