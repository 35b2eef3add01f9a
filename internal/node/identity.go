package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
)

const (
	contextKey  = "node_id"
	passwordKey = "node_password"
	maxIDLength = 50
)

// IDGenerator picks the id of a node that has none configured
type IDGenerator interface {
	// SelectID returns the id to use for externalID given the ids already
	// taken, or "" when a fresh one must be generated
	SelectID(externalID string, taken []string) string
	GenerateID(externalID string) string
	GeneratePassword() string
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// DefaultIDGenerator derives ids from the external id (the host name by
// default) and falls back to a uuid suffix on collisions
type DefaultIDGenerator struct{}

func (DefaultIDGenerator) SelectID(externalID string, taken []string) string {
	id := sanitize(externalID)
	if id == "" {
		return ""
	}
	for _, t := range taken {
		if strings.EqualFold(t, id) {
			return ""
		}
	}
	return id
}

func (DefaultIDGenerator) GenerateID(externalID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	base := sanitize(externalID)
	if base == "" {
		return "node-" + suffix
	}
	if len(base) > maxIDLength-len(suffix)-1 {
		base = base[:maxIDLength-len(suffix)-1]
	}
	return base + "-" + suffix
}

func (DefaultIDGenerator) GeneratePassword() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxIDLength {
		s = s[:maxIDLength]
	}
	return s
}

// Identity resolves the id this node writes into NODEID headers. A configured
// id wins and is remembered; otherwise the stored id is reused, and a new one
// is chosen and stored on first start.
func Identity(ctx context.Context, q db.Querier, d *dialect.Dialect, configured string, gen IDGenerator) (string, error) {
	stored, err := storedValue(ctx, q, d, contextKey)
	if err != nil {
		return "", err
	}

	if configured != "" {
		if stored != configured {
			if err := storeValue(ctx, q, d, stored != "", contextKey, configured); err != nil {
				return "", err
			}
		}
		return configured, nil
	}
	if stored != "" {
		return stored, nil
	}

	host, _ := os.Hostname()
	id := gen.SelectID(host, nil)
	if id == "" {
		id = gen.GenerateID(host)
	}
	if err := storeValue(ctx, q, d, false, contextKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// Password returns the secret a node presents to its peers, generating and
// storing it on first use
func Password(ctx context.Context, q db.Querier, d *dialect.Dialect, gen IDGenerator) (string, error) {
	stored, err := storedValue(ctx, q, d, passwordKey)
	if err != nil || stored != "" {
		return stored, err
	}
	pw := gen.GeneratePassword()
	if err := storeValue(ctx, q, d, false, passwordKey, pw); err != nil {
		return "", err
	}
	return pw, nil
}

func storedValue(ctx context.Context, q db.Querier, d *dialect.Dialect, key string) (string, error) {
	var v sql.NullString
	err := q.QueryRowContext(ctx, d.Rebind(
		"select context_value from sync_context where name = ?"), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v.String, nil
}

func storeValue(ctx context.Context, q db.Querier, d *dialect.Dialect, exists bool, key, value string) error {
	query := "insert into sync_context (context_value, name) values (?, ?)"
	if exists {
		query = "update sync_context set context_value = ? where name = ?"
	}
	if _, err := q.ExecContext(ctx, d.Rebind(query), value, key); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}
