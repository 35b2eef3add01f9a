package history

import (
	"unicode/utf16"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

const prime int32 = 31

// ComputeHash fingerprints the structural shape of a table: its name, then each
// column's name, type code and size in order, then the same for the key columns.
// A keyless table folds its full column list in as the key list. Comments,
// defaults and nullability do not participate.
func ComputeHash(t *models.Table) int32 {
	result := int32(1)
	result = prime*result + stringHash(t.Name)
	result = prime*result + columnsHash(t.Columns)
	result = prime*result + columnsHash(t.PrimaryKeyColumns())
	return result
}

func columnsHash(cols []models.Column) int32 {
	result := int32(1)
	for _, c := range cols {
		result = prime*result + stringHash(c.Name)
		result = prime*result + int32(c.Type)
		result = prime*result + int32(c.Size)
	}
	return result
}

// stringHash is the classic s[0]*31^(n-1) + ... + s[n-1] over UTF-16 code
// units with int32 wrap-around, so fingerprints match across implementations
func stringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = prime*h + int32(u)
	}
	return h
}
