package dialect

import (
	"fmt"
	"sort"
	"strings"
)

// Registry selects a dialect by product name at startup
type Registry struct {
	dialects map[string]*Dialect
	aliases  map[string]string
}

func NewRegistry(dialects ...*Dialect) *Registry {
	r := &Registry{
		dialects: make(map[string]*Dialect, len(dialects)),
		aliases: map[string]string{
			"postgresql":  "postgres",
			"pg":          "postgres",
			"pgx":         "postgres",
			"mariadb":     "mysql",
			"sqlite3":     "sqlite",
			"firebirdsql": "firebird",
			"ora":         "oracle",
		},
	}
	for _, d := range dialects {
		r.dialects[d.Name] = d
	}
	return r
}

// DefaultRegistry holds every supported product
func DefaultRegistry() *Registry {
	return NewRegistry(SQLite(), Postgres(), MySQL(), Oracle(), Firebird())
}

// Get returns a copy of the named dialect so callers may adjust flags freely
func (r *Registry) Get(name string) (*Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := r.aliases[key]; ok {
		key = alias
	}
	d, ok := r.dialects[key]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	c := *d
	return &c, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.dialects))
	for n := range r.dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
