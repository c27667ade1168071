// Package store opens a normalized qualitative-research file (a SQLite
// database holding Source, SourceCategory, Node, NodeCategory and Tagging
// relations) and answers read-only tagging selections against it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"tagquery/internal/logging"

	"go.uber.org/zap"
)

// ErrStorage marks failures to open or query the normalized file.
var ErrStorage = errors.New("storage access failed")

// Driver names registered with database/sql.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// Relation is one of the five tables of the normalized file.
type Relation string

const (
	RelSource         Relation = "Source"
	RelSourceCategory Relation = "SourceCategory"
	RelNode           Relation = "Node"
	RelNodeCategory   Relation = "NodeCategory"
	RelTagging        Relation = "Tagging"
)

// Relations lists every relation a normalized file must expose.
var Relations = []Relation{RelSource, RelSourceCategory, RelNode, RelNodeCategory, RelTagging}

type config struct {
	driver string
	log    *zap.Logger
}

// Option customises Open.
type Option func(*config)

// WithDriver selects the database/sql driver. Default: DriverSQLite.
func WithDriver(name string) Option { return func(c *config) { c.driver = name } }

// WithLogger attaches a logger. Default: no-op.
func WithLogger(l *zap.Logger) Option { return func(c *config) { c.log = l } }

// Store is one read-only session over a normalized file.
type Store struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// Open starts a session on the normalized file at path. The file must exist
// and expose every relation in Relations; it is never created or modified.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	cfg := config{driver: DriverSQLite}
	for _, o := range opts {
		o(&cfg)
	}
	log := logging.Named(cfg.log, logging.CategoryStore)

	timer := logging.StartTimer(log, "store.Open")
	defer timer.Stop()

	if path == "" {
		return nil, fmt.Errorf("%w: no input file given", ErrStorage)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrStorage, path)
	}

	db, err := sql.Open(cfg.driver, readOnlyDSN(path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", ErrStorage, path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to open %s: %w", ErrStorage, path, err)
	}

	s := &Store{db: db, path: path, log: log}
	if err := s.checkRelations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("opened normalized file", zap.String("path", path), zap.String("driver", cfg.driver))
	return s, nil
}

// Close ends the session.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the file the session was opened on.
func (s *Store) Path() string {
	return s.path
}

// Count returns the number of records in a relation.
func (s *Store) Count(ctx context.Context, rel Relation) (int, error) {
	if !knownRelation(rel) {
		return 0, fmt.Errorf("unknown relation %q", rel)
	}
	var n int
	q := "SELECT COUNT(*) FROM " + quoteIdent(string(rel))
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrStorage, rel, err)
	}
	return n, nil
}

// checkRelations fails when the file is not a normalized file. SQLite
// happily opens arbitrary databases, so a missing table is the first
// reliable sign of the wrong input.
func (s *Store) checkRelations(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type IN ('table', 'view')`)
	if err != nil {
		return fmt.Errorf("%w: failed to read schema of %s: %w", ErrStorage, s.path, err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("%w: failed to read schema of %s: %w", ErrStorage, s.path, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: failed to read schema of %s: %w", ErrStorage, s.path, err)
	}

	var missing []string
	for _, rel := range Relations {
		if !present[string(rel)] {
			missing = append(missing, string(rel))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is not a normalized file (missing %s)", ErrStorage, s.path, strings.Join(missing, ", "))
	}
	return nil
}

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func readOnlyDSN(path string) string {
	return "file:" + uriEscaper.Replace(path) + "?mode=ro"
}

func knownRelation(rel Relation) bool {
	for _, r := range Relations {
		if r == rel {
			return true
		}
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
