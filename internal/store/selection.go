package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tagquery/internal/logging"

	"go.uber.org/zap"
)

// ErrUnsupportedPredicate is returned for predicates naming a relation or
// column that cannot be filtered on.
var ErrUnsupportedPredicate = errors.New("unsupported predicate")

// Predicate is one exact-match equality constraint: Relation.Column = Value.
type Predicate struct {
	Relation Relation
	Column   string
	Value    string
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s.%s = %q", p.Relation, p.Column, p.Value)
}

// Row is one tagging joined with its source and node.
type Row struct {
	Source   string
	Content  string // empty when the source has no text content
	Node     string
	Fragment string
	// NoFragment is set when Tagging.Fragment is NULL.
	NoFragment bool
}

// filterable lists the columns a predicate may constrain per relation.
var filterable = map[Relation][]string{
	RelSource:         {"Name"},
	RelSourceCategory: {"Name"},
	RelNode:           {"Name"},
	RelNodeCategory:   {"Name"},
}

// categoryJoins are added only when a predicate touches the category relation.
var categoryJoins = map[Relation]string{
	RelSourceCategory: `JOIN "SourceCategory" ON "SourceCategory"."Id" = "Source"."Category"`,
	RelNodeCategory:   `JOIN "NodeCategory" ON "NodeCategory"."Id" = "Node"."Category"`,
}

const baseSelect = `SELECT "Source"."Name", "Source"."Content", "Node"."Name", "Tagging"."Fragment"
FROM "Tagging"
JOIN "Source" ON "Source"."Id" = "Tagging"."Source"
JOIN "Node" ON "Node"."Id" = "Tagging"."Node"`

// compose turns a predicate list into SQL text and bound arguments.
// Values are always bound; identifiers come only from the filterable table.
func compose(preds []Predicate) (string, []any, error) {
	var b strings.Builder
	b.WriteString(baseSelect)

	joined := make(map[Relation]bool)
	for _, rel := range []Relation{RelSourceCategory, RelNodeCategory} {
		for _, p := range preds {
			if p.Relation == rel && !joined[rel] {
				b.WriteString("\n")
				b.WriteString(categoryJoins[rel])
				joined[rel] = true
			}
		}
	}

	args := make([]any, 0, len(preds))
	for i, p := range preds {
		if !isFilterable(p) {
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedPredicate, p)
		}
		if i == 0 {
			b.WriteString("\nWHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(quoteIdent(string(p.Relation)) + "." + quoteIdent(p.Column) + " = ?")
		args = append(args, p.Value)
	}
	return b.String(), args, nil
}

func isFilterable(p Predicate) bool {
	for _, col := range filterable[p.Relation] {
		if col == p.Column {
			return true
		}
	}
	return false
}

// Select returns every tagging whose source and node satisfy all predicates.
// Row order is whatever SQLite yields.
func (s *Store) Select(ctx context.Context, preds []Predicate) ([]Row, error) {
	timer := logging.StartTimer(s.log, "store.Select")
	defer timer.Stop()

	q, args, err := compose(preds)
	if err != nil {
		return nil, err
	}
	s.log.Debug("selecting taggings", zap.String("sql", q), zap.Int("predicates", len(preds)))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query taggings: %w", ErrStorage, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var content, frag sql.NullString
		if err := rows.Scan(&r.Source, &content, &r.Node, &frag); err != nil {
			return nil, fmt.Errorf("%w: failed to read tagging: %w", ErrStorage, err)
		}
		r.Content = content.String
		r.Fragment = frag.String
		r.NoFragment = !frag.Valid
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read taggings: %w", ErrStorage, err)
	}

	s.log.Debug("selected taggings", zap.Int("rows", len(out)))
	return out, nil
}
