package dml

import (
	"strings"
	"sync"

	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

type cacheKey struct {
	typ   DmlType
	table string
	shape string
}

// StatementCache keeps built statements per table and column shape. The shape
// is stable for the life of a trigger history, so entries only go away through
// Invalidate when the target table changes.
type StatementCache struct {
	dialect *dialect.Dialect

	mu         sync.RWMutex
	statements map[cacheKey]*Statement
}

func NewStatementCache(d *dialect.Dialect) *StatementCache {
	return &StatementCache{
		dialect:    d,
		statements: make(map[cacheKey]*Statement),
	}
}

func shapeKey(keys, values []*models.Column, nullKeys []bool) string {
	var b strings.Builder
	for _, c := range values {
		if c != nil {
			b.WriteString(c.Name)
		}
		b.WriteByte(',')
	}
	b.WriteByte('|')
	for i, c := range keys {
		if c != nil {
			b.WriteString(c.Name)
			if i < len(nullKeys) && nullKeys[i] {
				b.WriteString(" null")
			}
		}
		b.WriteByte(',')
	}
	return b.String()
}

// Get returns the cached statement for the shape, building it on first use
func (c *StatementCache) Get(typ DmlType, table string, keys, values []*models.Column, nullKeys []bool) *Statement {
	k := cacheKey{typ: typ, table: table, shape: shapeKey(keys, values, nullKeys)}

	c.mu.RLock()
	st, ok := c.statements[k]
	c.mu.RUnlock()
	if ok {
		return st
	}

	st = Build(c.dialect, typ, table, keys, values, nullKeys)
	c.mu.Lock()
	c.statements[k] = st
	c.mu.Unlock()
	return st
}

// Invalidate drops every statement built for table
func (c *StatementCache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.statements {
		if k.table == table {
			delete(c.statements, k)
		}
	}
}

func (c *StatementCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statements)
}
