package model

import (
	"fmt"
	"slices"
	"sort"
)

// VintageTable is a OneAxis parameter: one series over vintage years per Dims.
type VintageTable struct {
	schema Schema
	series map[Dims]*Series
}

// NewVintageTable returns an empty table.
func NewVintageTable(schema Schema) *VintageTable {
	schema.Kind = OneAxis
	return &VintageTable{schema: schema, series: map[Dims]*Series{}}
}

func vintageFromRows(schema Schema, rows []Row) (*VintageTable, error) {
	t := NewVintageTable(schema)
	for _, r := range rows {
		d := r.Dims()
		s := t.series[d]
		if s == nil {
			s = NewSeries(r.Unit)
			t.series[d] = s
		}
		if s.Has(r.Vintage) {
			return nil, fmt.Errorf("%w: %s %s vintage %d", ErrDuplicateKey, schema.Name, d, r.Vintage)
		}
		s.Set(r.Vintage, r.Value)
	}
	return t, nil
}

func (t *VintageTable) sealed() {}

// Schema returns the table schema.
func (t *VintageTable) Schema() Schema { return t.schema }

// Keys returns the dims present in the table in sorted order.
func (t *VintageTable) Keys() []Dims { return sortedDims(t.series) }

// Get returns the vintage series of d, or nil.
func (t *VintageTable) Get(d Dims) *Series { return t.series[d] }

// Set replaces the vintage series of d.
func (t *VintageTable) Set(d Dims, s *Series) { t.series[d] = s }

// Delete removes the series of d.
func (t *VintageTable) Delete(d Dims) { delete(t.series, d) }

// Len returns the number of observations.
func (t *VintageTable) Len() int {
	n := 0
	for _, s := range t.series {
		n += s.Len()
	}
	return n
}

// Rows flattens the table.
func (t *VintageTable) Rows() []Row {
	var out []Row
	for _, d := range t.Keys() {
		s := t.series[d]
		for _, p := range s.Points() {
			out = append(out, Row{
				Node: d.Node, Technology: d.Technology, Extra: d.ExtraValues(),
				Vintage: p.Year, Value: p.Value, Unit: s.Unit,
			})
		}
	}
	return out
}

// Select returns the observations of one node and technology.
func (t *VintageTable) Select(node, tech string) Param {
	out := NewVintageTable(t.schema)
	for d, s := range t.series {
		if d.Node == node && d.Technology == tech {
			out.series[d] = s.Clone()
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *VintageTable) Clone() Param {
	out := NewVintageTable(t.schema)
	for d, s := range t.series {
		out.series[d] = s.Clone()
	}
	return out
}

// GridKey identifies one vintage row of a GridTable.
type GridKey struct {
	Dims
	Vintage int
}

// GridTable is a TwoAxis parameter: one series over activity years per
// (Dims, vintage).
type GridTable struct {
	schema Schema
	series map[GridKey]*Series
}

// NewGridTable returns an empty table.
func NewGridTable(schema Schema) *GridTable {
	schema.Kind = TwoAxis
	return &GridTable{schema: schema, series: map[GridKey]*Series{}}
}

func gridFromRows(schema Schema, rows []Row) (*GridTable, error) {
	t := NewGridTable(schema)
	for _, r := range rows {
		k := GridKey{Dims: r.Dims(), Vintage: r.Vintage}
		s := t.series[k]
		if s == nil {
			s = NewSeries(r.Unit)
			t.series[k] = s
		}
		if s.Has(r.Activity) {
			return nil, fmt.Errorf("%w: %s %s vintage %d activity %d",
				ErrDuplicateKey, schema.Name, k.Dims, r.Vintage, r.Activity)
		}
		s.Set(r.Activity, r.Value)
	}
	return t, nil
}

func (t *GridTable) sealed() {}

// Schema returns the table schema.
func (t *GridTable) Schema() Schema { return t.schema }

// Keys returns the vintage rows in sorted order.
func (t *GridTable) Keys() []GridKey {
	keys := make([]GridKey, 0, len(t.series))
	for k := range t.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Dims != keys[j].Dims {
			return keys[i].Dims.less(keys[j].Dims)
		}
		return keys[i].Vintage < keys[j].Vintage
	})
	return keys
}

// Groups returns the distinct Dims in sorted order.
func (t *GridTable) Groups() []Dims {
	seen := map[Dims]*Series{}
	for k := range t.series {
		seen[k.Dims] = nil
	}
	return sortedDims(seen)
}

// Vintages returns the vintages present for d in ascending order.
func (t *GridTable) Vintages(d Dims) []int {
	var out []int
	for k := range t.series {
		if k.Dims == d {
			out = append(out, k.Vintage)
		}
	}
	slices.Sort(out)
	return out
}

// Get returns the activity series of one vintage row, or nil.
func (t *GridTable) Get(d Dims, vintage int) *Series {
	return t.series[GridKey{Dims: d, Vintage: vintage}]
}

// Set replaces the activity series of one vintage row.
func (t *GridTable) Set(d Dims, vintage int, s *Series) {
	t.series[GridKey{Dims: d, Vintage: vintage}] = s
}

// Delete removes one vintage row.
func (t *GridTable) Delete(d Dims, vintage int) {
	delete(t.series, GridKey{Dims: d, Vintage: vintage})
}

// Len returns the number of observations.
func (t *GridTable) Len() int {
	n := 0
	for _, s := range t.series {
		n += s.Len()
	}
	return n
}

// Pairs returns the populated (vintage, activity) points of d.
func (t *GridTable) Pairs(d Dims) []Pair {
	var out []Pair
	for _, v := range t.Vintages(d) {
		for _, a := range t.Get(d, v).Years() {
			out = append(out, Pair{Vintage: v, Activity: a})
		}
	}
	return out
}

// Rows flattens the table.
func (t *GridTable) Rows() []Row {
	var out []Row
	for _, k := range t.Keys() {
		s := t.series[k]
		for _, p := range s.Points() {
			out = append(out, Row{
				Node: k.Node, Technology: k.Technology, Extra: k.ExtraValues(),
				Vintage: k.Vintage, Activity: p.Year, Value: p.Value, Unit: s.Unit,
			})
		}
	}
	return out
}

// Select returns the observations of one node and technology.
func (t *GridTable) Select(node, tech string) Param {
	out := NewGridTable(t.schema)
	for k, s := range t.series {
		if k.Node == node && k.Technology == tech {
			out.series[k] = s.Clone()
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *GridTable) Clone() Param {
	out := NewGridTable(t.schema)
	for k, s := range t.series {
		out.series[k] = s.Clone()
	}
	return out
}

// RelationKey identifies one series of a RelationTable. When Tracking is set
// the relation year follows the activity year and Relation is zero.
type RelationKey struct {
	Dims
	Relation int
	Tracking bool
}

// RelationTable is a RelationAxis parameter: one series over activity years
// per (Dims, relation year).
type RelationTable struct {
	schema Schema
	series map[RelationKey]*Series
}

// NewRelationTable returns an empty table.
func NewRelationTable(schema Schema) *RelationTable {
	schema.Kind = RelationAxis
	return &RelationTable{schema: schema, series: map[RelationKey]*Series{}}
}

func relationFromRows(schema Schema, rows []Row) (*RelationTable, error) {
	tracking := map[Dims]bool{}
	for _, r := range rows {
		d := r.Dims()
		if _, ok := tracking[d]; !ok {
			tracking[d] = true
		}
		if r.Relation != r.Activity {
			tracking[d] = false
		}
	}
	t := NewRelationTable(schema)
	for _, r := range rows {
		d := r.Dims()
		k := RelationKey{Dims: d, Tracking: tracking[d]}
		if !k.Tracking {
			k.Relation = r.Relation
		}
		s := t.series[k]
		if s == nil {
			s = NewSeries(r.Unit)
			t.series[k] = s
		}
		if s.Has(r.Activity) {
			return nil, fmt.Errorf("%w: %s %s relation %d activity %d",
				ErrDuplicateKey, schema.Name, d, r.Relation, r.Activity)
		}
		s.Set(r.Activity, r.Value)
	}
	return t, nil
}

func (t *RelationTable) sealed() {}

// Schema returns the table schema.
func (t *RelationTable) Schema() Schema { return t.schema }

// Keys returns the series keys in sorted order.
func (t *RelationTable) Keys() []RelationKey {
	keys := make([]RelationKey, 0, len(t.series))
	for k := range t.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Dims != keys[j].Dims {
			return keys[i].Dims.less(keys[j].Dims)
		}
		return keys[i].Relation < keys[j].Relation
	})
	return keys
}

// Get returns the activity series of k, or nil.
func (t *RelationTable) Get(k RelationKey) *Series { return t.series[k] }

// Set replaces the activity series of k.
func (t *RelationTable) Set(k RelationKey, s *Series) { t.series[k] = s }

// Len returns the number of observations.
func (t *RelationTable) Len() int {
	n := 0
	for _, s := range t.series {
		n += s.Len()
	}
	return n
}

// Rows flattens the table.
func (t *RelationTable) Rows() []Row {
	var out []Row
	for _, k := range t.Keys() {
		s := t.series[k]
		for _, p := range s.Points() {
			rel := k.Relation
			if k.Tracking {
				rel = p.Year
			}
			out = append(out, Row{
				Node: k.Node, Technology: k.Technology, Extra: k.ExtraValues(),
				Activity: p.Year, Relation: rel, Value: p.Value, Unit: s.Unit,
			})
		}
	}
	return out
}

// Select returns the observations of one node and technology.
func (t *RelationTable) Select(node, tech string) Param {
	out := NewRelationTable(t.schema)
	for k, s := range t.series {
		if k.Node == node && k.Technology == tech {
			out.series[k] = s.Clone()
		}
	}
	return out
}

// Clone returns a deep copy.
func (t *RelationTable) Clone() Param {
	out := NewRelationTable(t.schema)
	for k, s := range t.series {
		out.series[k] = s.Clone()
	}
	return out
}

func sortedDims(m map[Dims]*Series) []Dims {
	keys := make([]Dims, 0, len(m))
	for d := range m {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}
