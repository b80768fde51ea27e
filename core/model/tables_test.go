package model

import (
	"errors"
	"math"
	"testing"
)

func gridSchema() Schema {
	return Schema{Name: "capacity_factor", Kind: TwoAxis, Extra: []string{"time"}}
}

func TestFromRows_Grid(t *testing.T) {
	rows := []Row{
		{Node: "n1", Technology: "coal", Extra: []string{"year"}, Vintage: 2025, Activity: 2030, Value: 0.8, Unit: "%"},
		{Node: "n1", Technology: "coal", Extra: []string{"year"}, Vintage: 2020, Activity: 2025, Value: 0.9, Unit: "%"},
		{Node: "n1", Technology: "coal", Extra: []string{"year"}, Vintage: 2020, Activity: 2020, Value: 0.9, Unit: "%"},
		{Node: "n2", Technology: "coal", Extra: []string{"year"}, Vintage: 2020, Activity: 2020, Value: 0.7, Unit: "%"},
	}
	p, err := FromRows(gridSchema(), rows)
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	g, ok := p.(*GridTable)
	if !ok {
		t.Fatalf("expected *GridTable got %T", p)
	}
	if g.Len() != 4 {
		t.Fatalf("expected 4 observations got %d", g.Len())
	}
	d := NewDims("n1", "coal", "year")
	if vs := g.Vintages(d); len(vs) != 2 || vs[0] != 2020 || vs[1] != 2025 {
		t.Fatalf("unexpected vintages %v", vs)
	}
	pairs := g.Pairs(d)
	if len(pairs) != 3 || pairs[0] != (Pair{2020, 2020}) || pairs[2] != (Pair{2025, 2030}) {
		t.Fatalf("unexpected pairs %v", pairs)
	}
	out := g.Rows()
	if out[0].Vintage != 2020 || out[0].Activity != 2020 || out[0].Extra[0] != "year" {
		t.Fatalf("rows not sorted: %+v", out[0])
	}
	sel := g.Select("n2", "coal")
	if sel.Len() != 1 {
		t.Fatalf("select returned %d rows", sel.Len())
	}
}

func TestFromRows_Errors(t *testing.T) {
	dup := []Row{
		{Node: "n1", Technology: "coal", Vintage: 2020, Value: 1},
		{Node: "n1", Technology: "coal", Vintage: 2020, Value: 2},
	}
	if _, err := FromRows(Schema{Name: "inv_cost", Kind: OneAxis}, dup); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error got %v", err)
	}
	wrong := []Row{{Node: "n1", Technology: "coal", Vintage: 2020, Activity: 2020}}
	if _, err := FromRows(gridSchema(), wrong); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch got %v", err)
	}
	if _, err := FromRows(Schema{Name: "x"}, nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{OneAxis, TwoAxis, RelationAxis} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Fatalf("round trip of %s gave %s (%v)", k, got, err)
		}
	}
	if _, err := ParseKind("three_axis"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRelationTracking(t *testing.T) {
	schema := Schema{Name: "relation_activity", Kind: RelationAxis}
	rows := []Row{
		{Node: "n1", Technology: "coal", Relation: 2020, Activity: 2020, Value: 1},
		{Node: "n1", Technology: "coal", Relation: 2025, Activity: 2025, Value: 1},
		{Node: "n1", Technology: "gas", Relation: 2020, Activity: 2020, Value: 2},
		{Node: "n1", Technology: "gas", Relation: 2020, Activity: 2025, Value: 2},
	}
	p, err := FromRows(schema, rows)
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	rt := p.(*RelationTable)
	coal := RelationKey{Dims: NewDims("n1", "coal"), Tracking: true}
	if s := rt.Get(coal); s == nil || s.Len() != 2 {
		t.Fatalf("expected a tracking series for coal, keys %v", rt.Keys())
	}
	gas := RelationKey{Dims: NewDims("n1", "gas"), Relation: 2020}
	if s := rt.Get(gas); s == nil || s.Len() != 2 {
		t.Fatalf("expected a fixed relation series for gas, keys %v", rt.Keys())
	}
	for _, r := range rt.Rows() {
		if r.Technology == "coal" && r.Relation != r.Activity {
			t.Fatalf("tracking row lost its relation year: %+v", r)
		}
	}
}

func TestDiff(t *testing.T) {
	schema := Schema{Name: "inv_cost", Kind: OneAxis}
	before, _ := FromRows(schema, []Row{
		{Node: "n1", Technology: "coal", Vintage: 2020, Value: 100, Unit: "USD"},
		{Node: "n1", Technology: "coal", Vintage: 2025, Value: 90, Unit: "USD"},
		{Node: "n1", Technology: "coal", Vintage: 2030, Value: 80, Unit: "USD"},
	})
	after := before.Clone().(*VintageTable)
	s := after.Get(NewDims("n1", "coal"))
	s.Set(2025, 95)
	s.Delete(2030)
	s.Set(2035, 70)
	s.Set(2020, 100+1e-12)

	removed, added := Diff(before, after, DefaultTolerance)
	if len(removed) != 2 || len(added) != 2 {
		t.Fatalf("expected 2 removals and 2 additions got %v / %v", removed, added)
	}
	if removed[0].Vintage != 2025 || removed[0].Value != 90 || removed[1].Vintage != 2030 {
		t.Fatalf("unexpected removals %+v", removed)
	}
	if added[0].Vintage != 2025 || added[0].Value != 95 || added[1].Vintage != 2035 {
		t.Fatalf("unexpected additions %+v", added)
	}
	if r, a := Diff(before, before.Clone(), DefaultTolerance); len(r)+len(a) != 0 {
		t.Fatalf("identical tables differ: %v %v", r, a)
	}
}

func TestSameValue(t *testing.T) {
	inf := math.Inf(1)
	cases := []struct {
		a, b float64
		want bool
	}{
		{1, 1 + 1e-12, true},
		{1, 1.1, false},
		{1e12, 1e12 + 1, true},
		{1e-12, 2e-12, true},
		{1e3, 1e3 + 1e-3, false},
		{inf, inf, true},
		{inf, math.Inf(-1), false},
		{inf, 1e300, false},
		{math.NaN(), math.NaN(), true},
		{math.NaN(), 0, false},
	}
	for _, c := range cases {
		if got := SameValue(c.a, c.b, DefaultTolerance); got != c.want {
			t.Fatalf("SameValue(%v, %v) = %v want %v", c.a, c.b, got, c.want)
		}
	}
}
