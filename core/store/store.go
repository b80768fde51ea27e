// Package store defines the contracts of the scenario data store the batch
// reads parameter tables from and writes replacement rows back to.
package store

import (
	"context"
	"errors"

	"github.com/kilianp07/lifespan/core/model"
)

// ErrUnknownParameter is returned for a parameter name with no schema.
var ErrUnknownParameter = errors.New("unknown parameter")

// Filter narrows a parameter read. Empty slices match everything.
type Filter struct {
	Nodes        []string
	Technologies []string
}

// Match reports whether node and tech pass the filter.
func (f Filter) Match(node, tech string) bool {
	return matches(f.Nodes, node) && matches(f.Technologies, tech)
}

func matches(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Reader exposes the model structure and parameter data.
type Reader interface {
	YearSet(ctx context.Context) ([]int, error)
	DurationPeriod(ctx context.Context) (map[int]int, error)
	ParameterTable(ctx context.Context, name string, f Filter) (model.Param, error)
	// ValidPairs is the reference oracle used by the validator.
	ValidPairs(ctx context.Context, node, tech string) ([]model.Pair, error)
	// Technologies lists the (node, technology) pairs with rows in the given
	// lifetime parameter.
	Technologies(ctx context.Context, lifetimeParam string) ([]model.Dims, error)
}

// Writer stages row changes and applies them atomically on Commit.
type Writer interface {
	RemoveRows(ctx context.Context, name string, rows []model.Row) error
	AddRows(ctx context.Context, name string, rows []model.Row) error
	// Commit applies staged changes and returns the commit identifier.
	Commit(ctx context.Context, message string) (string, error)
	// Discard drops staged changes.
	Discard(ctx context.Context) error
}

// Store is a complete backend.
type Store interface {
	Reader
	Writer
	Close() error
}
