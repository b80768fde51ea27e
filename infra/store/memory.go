package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/lifespan/core/model"
	corestore "github.com/kilianp07/lifespan/core/store"
)

type opKind int

const (
	opRemove opKind = iota
	opAdd
)

type stagedOp struct {
	kind  opKind
	param string
	rows  []model.Row
}

// CommitRecord describes an applied commit.
type CommitRecord struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// MemoryStore keeps a scenario in memory for tests or lightweight usage.
// Writes are staged and only become visible on Commit.
type MemoryStore struct {
	mu        sync.Mutex
	years     []int
	durations map[int]int
	schemas   map[string]model.Schema
	rows      map[string]map[string]model.Row
	pairs     map[model.Dims][]model.Pair
	staged    []stagedOp
	commits   []CommitRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		durations: map[int]int{},
		schemas:   map[string]model.Schema{},
		rows:      map[string]map[string]model.Row{},
		pairs:     map[model.Dims][]model.Pair{},
	}
}

// SetHorizon replaces the year set and period durations.
func (s *MemoryStore) SetHorizon(_ context.Context, years []int, durations map[int]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.years = append([]int(nil), years...)
	s.durations = map[int]int{}
	for y, d := range durations {
		s.durations[y] = d
	}
	return nil
}

// DefineParameter registers or replaces a parameter schema.
func (s *MemoryStore) DefineParameter(_ context.Context, schema model.Schema) error {
	if _, err := model.Empty(schema); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[schema.Name] = schema
	if s.rows[schema.Name] == nil {
		s.rows[schema.Name] = map[string]model.Row{}
	}
	return nil
}

// SetValidPairs stores the oracle pairs of a node and technology.
func (s *MemoryStore) SetValidPairs(_ context.Context, node, tech string, pairs []model.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[model.NewDims(node, tech)] = append([]model.Pair(nil), pairs...)
	return nil
}

// Seed inserts committed rows directly, bypassing staging.
func (s *MemoryStore) Seed(_ context.Context, name string, rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.rows[name]
	if !ok {
		return fmt.Errorf("%w: %s", corestore.ErrUnknownParameter, name)
	}
	for _, r := range rows {
		tbl[rowID(r)] = r
	}
	return nil
}

// YearSet returns the ordered model years.
func (s *MemoryStore) YearSet(context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.years...), nil
}

// DurationPeriod returns the period length of each year.
func (s *MemoryStore) DurationPeriod(context.Context) (map[int]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.durations))
	for y, d := range s.durations {
		out[y] = d
	}
	return out, nil
}

// ParameterTable returns the committed rows of name matching f.
func (s *MemoryStore) ParameterTable(_ context.Context, name string, f corestore.Filter) (model.Param, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", corestore.ErrUnknownParameter, name)
	}
	var rows []model.Row
	for _, r := range s.rows[name] {
		if f.Match(r.Node, r.Technology) {
			rows = append(rows, r)
		}
	}
	return model.FromRows(schema, rows)
}

// ValidPairs returns the oracle pairs of a node and technology.
func (s *MemoryStore) ValidPairs(_ context.Context, node, tech string) ([]model.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Pair(nil), s.pairs[model.NewDims(node, tech)]...), nil
}

// Technologies lists the (node, technology) pairs present in lifetimeParam.
func (s *MemoryStore) Technologies(_ context.Context, lifetimeParam string) ([]model.Dims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[lifetimeParam]; !ok {
		return nil, fmt.Errorf("%w: %s", corestore.ErrUnknownParameter, lifetimeParam)
	}
	seen := map[model.Dims]bool{}
	var out []model.Dims
	for _, r := range s.rows[lifetimeParam] {
		d := model.NewDims(r.Node, r.Technology)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sortDims(out)
	return out, nil
}

// RemoveRows stages the removal of rows.
func (s *MemoryStore) RemoveRows(ctx context.Context, name string, rows []model.Row) error {
	return s.stage(opRemove, name, rows)
}

// AddRows stages the insertion of rows, replacing rows with the same key.
func (s *MemoryStore) AddRows(ctx context.Context, name string, rows []model.Row) error {
	return s.stage(opAdd, name, rows)
}

func (s *MemoryStore) stage(kind opKind, name string, rows []model.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[name]; !ok {
		return fmt.Errorf("%w: %s", corestore.ErrUnknownParameter, name)
	}
	s.staged = append(s.staged, stagedOp{kind: kind, param: name, rows: append([]model.Row(nil), rows...)})
	return nil
}

// Commit applies staged operations in order.
func (s *MemoryStore) Commit(_ context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.staged {
		tbl := s.rows[op.param]
		for _, r := range op.rows {
			if op.kind == opRemove {
				delete(tbl, rowID(r))
			} else {
				tbl[rowID(r)] = r
			}
		}
	}
	s.staged = nil
	rec := CommitRecord{ID: uuid.NewString(), Message: message, Time: time.Now().UTC()}
	s.commits = append(s.commits, rec)
	return rec.ID, nil
}

// Discard drops staged operations.
func (s *MemoryStore) Discard(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
	return nil
}

// Commits returns the applied commits, oldest first.
func (s *MemoryStore) Commits() []CommitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CommitRecord(nil), s.commits...)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func rowID(r model.Row) string {
	d := r.Dims()
	return fmt.Sprintf("%q|%q|%q|%d|%d|%d", d.Node, d.Technology, d.Extra, r.Vintage, r.Activity, r.Relation)
}

func sortDims(ds []model.Dims) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Node != ds[j].Node {
			return ds[i].Node < ds[j].Node
		}
		return ds[i].Technology < ds[j].Technology
	})
}
