// Package pg implements the auth persistence contract on PostgreSQL.
//
// Every table name carries a configurable prefix and an optional schema
// namespace so several deployments can share one database instance without
// collision.
package pg

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"secma.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config controls table naming.
type Config struct {
	// TablePrefix is prepended to every table name, e.g. "secma_".
	TablePrefix string
	// Schema optionally qualifies every table, e.g. "authz".
	Schema string
}

func (c Config) validate() error {
	if c.TablePrefix != "" && !identPattern.MatchString(strings.TrimSuffix(c.TablePrefix, "_")) {
		return fmt.Errorf("invalid table prefix %q", c.TablePrefix)
	}
	if c.Schema != "" && !identPattern.MatchString(c.Schema) {
		return fmt.Errorf("invalid schema %q", c.Schema)
	}
	return nil
}

// tableSet holds the fully qualified table names, computed once.
type tableSet struct {
	apps      string
	users     string
	roles     string
	rolePerms string
	grants    string
	revoked   string
}

func newTableSet(cfg Config) tableSet {
	q := func(name string) string {
		name = cfg.TablePrefix + name
		if cfg.Schema != "" {
			return cfg.Schema + "." + name
		}
		return name
	}
	return tableSet{
		apps:      q("applications"),
		users:     q("users"),
		roles:     q("roles"),
		rolePerms: q("role_permissions"),
		grants:    q("grants"),
		revoked:   q("revoked_tokens"),
	}
}

// Store implements auth.Store over database/sql with the pgx driver.
type Store struct {
	db *sql.DB
	t  tableSet
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL and returns a Store.
func Open(dsn string, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, t: newTableSet(cfg)}, nil
}

// New wraps an existing connection pool (used by tests).
func New(db *sql.DB, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Store{db: db, t: newTableSet(cfg)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for readiness probes and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// mapErr translates driver failures into the auth error taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErr.Code == pgErrForeignKeyViolation:
			return auth.ErrNotFound
		// Class 08: connection exceptions are transient.
		case strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%w: %v", auth.ErrStoreUnavailable, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", auth.ErrStoreUnavailable, err)
	}
	return err
}
