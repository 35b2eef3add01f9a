package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/history"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

var operations = []models.EventType{models.EventInsert, models.EventUpdate, models.EventDelete}

var triggerEvents = map[models.EventType]string{
	models.EventInsert: "insert",
	models.EventUpdate: "update",
	models.EventDelete: "delete",
}

var namePrefixes = map[models.EventType]string{
	models.EventInsert: "sync_on_i_",
	models.EventUpdate: "sync_on_u_",
	models.EventDelete: "sync_on_d_",
}

// Names derives the trigger names of a capture definition. Characters that
// are not valid in an unquoted identifier become underscores and the result
// is cut to the dialect's identifier limit.
func Names(d *dialect.Dialect, triggerID string) history.TriggerNames {
	id := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return '_'
	}, triggerID)

	name := func(e models.EventType) string {
		n := namePrefixes[e] + id
		if d.MaxIdentifierLength > 0 && len(n) > d.MaxIdentifierLength {
			n = n[:d.MaxIdentifierLength]
		}
		return n
	}
	return history.TriggerNames{
		Insert: name(models.EventInsert),
		Update: name(models.EventUpdate),
		Delete: name(models.EventDelete),
	}
}

// Rendered holds the statements that install or remove each operation's trigger
type Rendered struct {
	Create map[models.EventType][]string
	Drop   map[models.EventType][]string
}

// Generator renders capture triggers from a dialect's templates
type Generator struct {
	dialect   *dialect.Dialect
	changeLog string
}

func NewGenerator(d *dialect.Dialect, changeLogTable string) *Generator {
	return &Generator{dialect: d, changeLog: changeLogTable}
}

// Render builds the create and drop statements of every operation for h. The
// serialized columns are the ones recorded in h, typed from the live table.
// Operations the trigger does not sync get no create statements.
func (g *Generator) Render(trigger *models.Trigger, h *history.TriggerHistory, table *models.Table) (*Rendered, error) {
	columns, err := g.resolve(table, h.Columns())
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", trigger.ID, err)
	}
	keys, err := g.resolve(table, h.PKColumns())
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", trigger.ID, err)
	}

	tmpl := g.dialect.Triggers
	newRow := g.concat(tmpl.NewAlias, columns)
	oldRow := g.concat(tmpl.OldAlias, columns)
	oldKeys := g.concat(tmpl.OldAlias, keys)

	payloads := map[models.EventType][3]string{
		models.EventInsert: {newRow, "null", "null"},
		models.EventUpdate: {newRow, oldKeys, oldRow},
		models.EventDelete: {"null", oldKeys, oldRow},
	}

	out := &Rendered{
		Create: make(map[models.EventType][]string, len(operations)),
		Drop:   g.RenderDrop(h),
	}
	for _, e := range operations {
		if !trigger.SyncOn(e) {
			continue
		}
		p := payloads[e]
		insert := dialect.Render(tmpl.ChangeLogInsert, map[string]string{
			"changeLog": g.dialect.Quote(g.changeLog),
			"tableName": dialect.Literal(h.SourceTableName),
			"eventType": string(e),
			"historyId": strconv.Itoa(h.ID),
			"channelId": dialect.Literal(trigger.ChannelID),
			"txId":      g.dialect.TransactionIDExpression,
			"rowData":   p[0],
			"pkData":    p[1],
			"oldData":   p[2],
			"now":       g.dialect.CurrentTimestamp,
		})
		vars := map[string]string{
			"triggerName":     g.dialect.Quote(h.Names().For(e)),
			"triggerEvent":    triggerEvents[e],
			"table":           g.dialect.QualifiedName(h.SourceCatalogName, h.SourceSchemaName, h.SourceTableName),
			"syncCondition":   g.dialect.SyncTriggersCondition,
			"condition":       trigger.Condition(e),
			"changeLogInsert": insert,
		}
		stmts := make([]string, len(tmpl.Create[e]))
		for i, s := range tmpl.Create[e] {
			stmts[i] = dialect.Render(s, vars)
		}
		out.Create[e] = stmts
	}
	return out, nil
}

// RenderDrop builds the drop statements of every operation for h. It needs no
// live table, so triggers of a dropped table can still be removed.
func (g *Generator) RenderDrop(h *history.TriggerHistory) map[models.EventType][]string {
	table := g.dialect.QualifiedName(h.SourceCatalogName, h.SourceSchemaName, h.SourceTableName)
	out := make(map[models.EventType][]string, len(operations))
	for _, e := range operations {
		vars := map[string]string{
			"triggerName": g.dialect.Quote(h.Names().For(e)),
			"table":       table,
		}
		stmts := make([]string, len(g.dialect.Triggers.Drop))
		for i, s := range g.dialect.Triggers.Drop {
			stmts[i] = dialect.Render(s, vars)
		}
		out[e] = stmts
	}
	return out
}

func (g *Generator) resolve(table *models.Table, names []string) ([]models.Column, error) {
	cols := make([]models.Column, len(names))
	for i, n := range names {
		c := table.Column(n)
		if c == nil {
			return nil, fmt.Errorf("column %s no longer exists on %s", n, table.FullyQualifiedName())
		}
		cols[i] = *c
	}
	return cols, nil
}

// concat serializes columns as one protocol line, or null when there are none
func (g *Generator) concat(alias string, columns []models.Column) string {
	if len(columns) == 0 {
		return "null"
	}
	tmpl := g.dialect.Triggers
	exprs := make([]string, len(columns))
	for i, c := range columns {
		exprs[i] = dialect.Render(tmpl.Columns[dialect.CategoryOf(c.Type)], map[string]string{
			"value": alias + "." + g.dialect.Quote(c.Name),
		})
	}
	return tmpl.ConcatOpen + strings.Join(exprs, tmpl.ConcatSeparator) + tmpl.ConcatClose
}
