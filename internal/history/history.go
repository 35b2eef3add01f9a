package history

import (
	"strings"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// BuildReason records why a capture trigger was (re)built
type BuildReason string

const (
	ReasonNew             BuildReason = "N"
	ReasonSchemaChanged   BuildReason = "S"
	ReasonTriggersMissing BuildReason = "M"
	ReasonForced          BuildReason = "F"
)

// TriggerNames are the generated trigger names for the three operations
type TriggerNames struct {
	Insert string
	Update string
	Delete string
}

func (n TriggerNames) For(e models.EventType) string {
	switch e {
	case models.EventInsert:
		return n.Insert
	case models.EventUpdate:
		return n.Update
	case models.EventDelete:
		return n.Delete
	}
	return ""
}

// TriggerHistory is the immutable record of a table's captured shape. Schema
// changes create a new row; old rows are only ever marked inactive so change
// records that reference them stay decodable.
type TriggerHistory struct {
	ID                     int
	TriggerID              string
	SourceCatalogName      string
	SourceSchemaName       string
	SourceTableName        string
	ColumnNames            string
	PKColumnNames          string
	NameForInsertTrigger   string
	NameForUpdateTrigger   string
	NameForDeleteTrigger   string
	TableHash              int32
	LastTriggerBuildReason BuildReason
	CreateTime             time.Time
	InactiveTime           *time.Time
}

// New captures the shape of table for trigger. Excluded columns are left out of
// the column list and the fingerprint.
func New(trigger *models.Trigger, table *models.Table, names TriggerNames, reason BuildReason, now time.Time) *TriggerHistory {
	captured := table.WithoutColumns(trigger.ExcludedColumns)
	return &TriggerHistory{
		TriggerID:              trigger.ID,
		SourceCatalogName:      table.Catalog,
		SourceSchemaName:       table.Schema,
		SourceTableName:        table.Name,
		ColumnNames:            strings.Join(captured.ColumnNames(), ","),
		PKColumnNames:          strings.Join(captured.PrimaryKeyColumnNames(), ","),
		NameForInsertTrigger:   names.Insert,
		NameForUpdateTrigger:   names.Update,
		NameForDeleteTrigger:   names.Delete,
		TableHash:              ComputeHash(captured),
		LastTriggerBuildReason: reason,
		CreateTime:             now,
	}
}

func (h *TriggerHistory) Columns() []string {
	return splitNames(h.ColumnNames)
}

func (h *TriggerHistory) PKColumns() []string {
	return splitNames(h.PKColumnNames)
}

func (h *TriggerHistory) Names() TriggerNames {
	return TriggerNames{
		Insert: h.NameForInsertTrigger,
		Update: h.NameForUpdateTrigger,
		Delete: h.NameForDeleteTrigger,
	}
}

// Trigger rebuilds the minimal definition needed to drop the triggers of h
func (h *TriggerHistory) Trigger() *models.Trigger {
	return &models.Trigger{
		ID:            h.TriggerID,
		SourceCatalog: h.SourceCatalogName,
		SourceSchema:  h.SourceSchemaName,
		SourceTable:   h.SourceTableName,
	}
}

func (h *TriggerHistory) IsActive() bool {
	return h.InactiveTime == nil
}

func (h *TriggerHistory) QualifiedTableName() string {
	return models.QualifiedName(h.SourceCatalogName, h.SourceSchemaName, h.SourceTableName)
}

// Table rebuilds the captured table shape from the recorded name lists. Types
// are unknown at this level; callers resolve them against a live table when needed.
func (h *TriggerHistory) Table() *models.Table {
	pk := make(map[string]bool)
	for _, n := range h.PKColumns() {
		pk[strings.ToLower(n)] = true
	}
	names := h.Columns()
	cols := make([]models.Column, len(names))
	for i, n := range names {
		cols[i] = models.Column{Name: n, Type: models.Varchar, PrimaryKey: pk[strings.ToLower(n)]}
	}
	// a keyless table records every column as key; keep the flags off so the
	// fallback in PrimaryKeyColumns applies
	if len(pk) == len(names) {
		for i := range cols {
			cols[i].PrimaryKey = false
		}
	}
	return models.NewTable(h.SourceCatalogName, h.SourceSchemaName, h.SourceTableName, cols...)
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
