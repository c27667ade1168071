// Package query composes tagging filters into a predicate list and runs it
// against the storage collaborator.
package query

import (
	"context"

	"tagquery/internal/logging"
	"tagquery/internal/store"

	"go.uber.org/zap"
)

// Filters holds the optional equality filters. An empty field imposes no
// constraint; all supplied fields must hold at once.
type Filters struct {
	Source         string `yaml:"source"`
	SourceCategory string `yaml:"source_category"`
	Node           string `yaml:"node"`
	NodeCategory   string `yaml:"node_category"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f == Filters{}
}

// Predicates turns filters into a fresh predicate list in a fixed order:
// source, source category, node, node category.
func Predicates(f Filters) []store.Predicate {
	preds := make([]store.Predicate, 0, 4)
	add := func(rel store.Relation, value string) {
		if value != "" {
			preds = append(preds, store.Predicate{Relation: rel, Column: "Name", Value: value})
		}
	}
	add(store.RelSource, f.Source)
	add(store.RelSourceCategory, f.SourceCategory)
	add(store.RelNode, f.Node)
	add(store.RelNodeCategory, f.NodeCategory)
	return preds
}

// Selector is the part of the storage collaborator the engine needs.
type Selector interface {
	Select(ctx context.Context, preds []store.Predicate) ([]store.Row, error)
}

// Engine runs filtered tagging queries.
type Engine struct {
	sel Selector
	log *zap.Logger
}

// NewEngine wraps a selector. A nil logger is allowed.
func NewEngine(sel Selector, log *zap.Logger) *Engine {
	return &Engine{sel: sel, log: logging.Named(log, logging.CategoryQuery)}
}

// Taggings returns every tagging matching f. Order is unspecified.
func (e *Engine) Taggings(ctx context.Context, f Filters) ([]store.Row, error) {
	if f.Empty() {
		e.log.Debug("no filters; selecting all taggings")
	}
	preds := Predicates(f)
	for _, p := range preds {
		e.log.Debug("filter", zap.Stringer("predicate", p))
	}

	rows, err := e.sel.Select(ctx, preds)
	if err != nil {
		return nil, err
	}
	e.log.Info("taggings matched", zap.Int("rows", len(rows)))
	return rows, nil
}
