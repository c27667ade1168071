// Package storetest builds normalized files on disk for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Schema is the subset of the normalized file layout that tagquery reads,
// plus a few of the bookkeeping columns real files carry.
const Schema = `
CREATE TABLE "SourceCategory" (
	"Id" TEXT PRIMARY KEY,
	"Name" TEXT NOT NULL,
	"Description" TEXT
);
CREATE TABLE "Source" (
	"Id" TEXT PRIMARY KEY,
	"Category" TEXT REFERENCES "SourceCategory"("Id"),
	"Name" TEXT NOT NULL,
	"Description" TEXT,
	"Content" TEXT,
	"ObjectType" TEXT
);
CREATE TABLE "NodeCategory" (
	"Id" TEXT PRIMARY KEY,
	"Name" TEXT NOT NULL,
	"Description" TEXT
);
CREATE TABLE "Node" (
	"Id" TEXT PRIMARY KEY,
	"Parent" TEXT REFERENCES "Node"("Id"),
	"Category" TEXT REFERENCES "NodeCategory"("Id"),
	"Name" TEXT NOT NULL,
	"Description" TEXT
);
CREATE TABLE "Tagging" (
	"Id" TEXT PRIMARY KEY,
	"Source" TEXT NOT NULL REFERENCES "Source"("Id"),
	"Node" TEXT NOT NULL REFERENCES "Node"("Id"),
	"Fragment" TEXT,
	"Memo" TEXT
);
`

// Norm is a normalized file under construction.
type Norm struct {
	t    testing.TB
	db   *sql.DB
	path string
}

// New creates an empty normalized file in a temp directory. The handle is
// closed automatically when the test ends; call Path to hand it to code
// under test.
func New(t testing.TB) *Norm {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.norm")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("storetest: open: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("storetest: schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Norm{t: t, db: db, path: path}
}

// Path returns the location of the normalized file.
func (n *Norm) Path() string { return n.path }

// Exec runs raw SQL against the fixture.
func (n *Norm) Exec(query string, args ...any) {
	n.t.Helper()
	if _, err := n.db.Exec(query, args...); err != nil {
		n.t.Fatalf("storetest: %v", err)
	}
}

// SourceCategory inserts a source category and returns its id.
func (n *Norm) SourceCategory(name string) string {
	n.t.Helper()
	id := uuid.NewString()
	n.Exec(`INSERT INTO "SourceCategory" ("Id", "Name") VALUES (?, ?)`, id, name)
	return id
}

// NodeCategory inserts a node category and returns its id.
func (n *Norm) NodeCategory(name string) string {
	n.t.Helper()
	id := uuid.NewString()
	n.Exec(`INSERT INTO "NodeCategory" ("Id", "Name") VALUES (?, ?)`, id, name)
	return id
}

// Source inserts a source. An empty category leaves Source.Category NULL.
func (n *Norm) Source(name, content, category string) string {
	n.t.Helper()
	id := uuid.NewString()
	n.Exec(`INSERT INTO "Source" ("Id", "Category", "Name", "Content") VALUES (?, ?, ?, ?)`,
		id, nullable(category), name, content)
	return id
}

// Node inserts a node. An empty category leaves Node.Category NULL.
func (n *Norm) Node(name, category string) string {
	n.t.Helper()
	id := uuid.NewString()
	n.Exec(`INSERT INTO "Node" ("Id", "Category", "Name") VALUES (?, ?, ?)`, id, nullable(category), name)
	return id
}

// Tagging links a source and node through a fragment.
func (n *Norm) Tagging(source, node, fragment string) string {
	n.t.Helper()
	id := uuid.NewString()
	n.Exec(`INSERT INTO "Tagging" ("Id", "Source", "Node", "Fragment") VALUES (?, ?, ?, ?)`, id, source, node, fragment)
	return id
}

// TaggingNoFragment inserts a tagging whose Fragment is NULL.
func (n *Norm) TaggingNoFragment(source, node string) string {
	n.t.Helper()
	id := uuid.NewString()
	n.Exec(`INSERT INTO "Tagging" ("Id", "Source", "Node") VALUES (?, ?, ?)`, id, source, node)
	return id
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
