package respace

import (
	"errors"
	"math"
	"testing"

	"github.com/kilianp07/lifespan/core/curve"
	"github.com/kilianp07/lifespan/core/horizon"
	"github.com/kilianp07/lifespan/core/lifetime"
	"github.com/kilianp07/lifespan/core/model"
)

var (
	dims       = model.NewDims("n1", "coal")
	gridSchema = model.Schema{Name: "capacity_factor", Kind: model.TwoAxis}
)

func testHorizon(t *testing.T) *horizon.Matrix {
	t.Helper()
	years := []int{2020, 2025, 2030, 2035, 2040}
	d := map[int]int{}
	for _, y := range years {
		d[y] = 5
	}
	h, err := horizon.Build(years, d)
	if err != nil {
		t.Fatalf("build horizon: %v", err)
	}
	return h
}

func row(vintage, activity int, v float64) model.Row {
	return model.Row{Node: "n1", Technology: "coal", Vintage: vintage, Activity: activity, Value: v, Unit: "-"}
}

// capacityFactor is a ten-year lifetime grid: each vintage runs three periods.
func capacityFactor(t *testing.T) *model.GridTable {
	t.Helper()
	p, err := model.FromRows(gridSchema, []model.Row{
		row(2020, 2020, 1.0), row(2020, 2025, 0.9), row(2020, 2030, 0.8),
		row(2025, 2025, 0.9), row(2025, 2030, 0.8), row(2025, 2035, 0.7),
		row(2030, 2030, 0.8), row(2030, 2035, 0.7), row(2030, 2040, 0.6),
	})
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	return p.(*model.GridTable)
}

func extended() lifetime.RetirementMap {
	return lifetime.RetirementMap{
		2020: {Year: 2040},
		2025: {Year: 2035},
		2030: {Open: true},
	}
}

func get(t *testing.T, p model.Param, vintage, activity int) float64 {
	t.Helper()
	s := p.(*model.GridTable).Get(dims, vintage)
	if s == nil {
		t.Fatalf("vintage %d missing", vintage)
	}
	v, ok := s.Get(activity)
	if !ok {
		t.Fatalf("(%d, %d) missing", vintage, activity)
	}
	return v
}

func TestRespace_ExtendsLifetime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preserve = true
	r := New(testHorizon(t), cfg, nil)
	plan := Plan{
		Node: "n1", Technology: "coal",
		Window:           lifetime.Range{From: 2020, To: 2020},
		Retirement:       extended(),
		LifetimeIncrease: 10,
	}
	res, err := r.Respace(capacityFactor(t), plan)
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	if v := get(t, res.Param, 2020, 2035); math.Abs(v-0.7) > 1e-9 {
		t.Fatalf("expected 0.7 at 2035 got %v", v)
	}
	if v := get(t, res.Param, 2020, 2040); math.Abs(v-0.6) > 1e-9 {
		t.Fatalf("expected 0.6 at 2040 got %v", v)
	}
	if len(res.Added) != 2 || len(res.Removed) != 0 {
		t.Fatalf("expected 2 additions got %d added %d removed", len(res.Added), len(res.Removed))
	}
	if res.Passes != 2 {
		t.Fatalf("expected 2 passes got %d", res.Passes)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics %v", res.Diagnostics)
	}
	if v := get(t, res.Param, 2025, 2035); v != 0.7 {
		t.Fatalf("vintage outside the window changed: %v", v)
	}
}

func TestRespace_Idempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preserve = true
	r := New(testHorizon(t), cfg, nil)
	plan := Plan{Node: "n1", Technology: "coal", Window: lifetime.Range{From: 2020, To: 2020}, Retirement: extended(), LifetimeIncrease: 10}
	first, err := r.Respace(capacityFactor(t), plan)
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	second, err := r.Respace(first.Param, plan)
	if err != nil {
		t.Fatalf("second respace: %v", err)
	}
	if second.Changed() {
		t.Fatalf("second pass changed %d/%d rows", len(second.Added), len(second.Removed))
	}
}

func TestRespace_DropsOutsideWindow(t *testing.T) {
	r := New(testHorizon(t), DefaultConfig(), nil)
	plan := Plan{Node: "n1", Technology: "coal", Window: lifetime.Range{From: 2020, To: 2020}, Retirement: extended(), LifetimeIncrease: 10}
	res, err := r.Respace(capacityFactor(t), plan)
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	g := res.Param.(*model.GridTable)
	if vs := g.Vintages(dims); len(vs) != 1 || vs[0] != 2020 {
		t.Fatalf("expected only vintage 2020 left, got %v", vs)
	}
	if len(res.Removed) != 6 {
		t.Fatalf("expected 6 removals got %d", len(res.Removed))
	}
}

func TestRespace_DampsSignFlip(t *testing.T) {
	p, _ := model.FromRows(gridSchema, []model.Row{row(2020, 2025, 0.5), row(2020, 2030, 0.3)})
	r := New(testHorizon(t), DefaultConfig(), nil)
	plan := Plan{Node: "n1", Technology: "coal", Retirement: lifetime.RetirementMap{2020: {Year: 2040}}}
	res, err := r.Respace(p, plan)
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	if v := get(t, res.Param, 2020, 2035); math.Abs(v-0.1) > 1e-9 {
		t.Fatalf("expected 0.1 at 2035 got %v", v)
	}
	if v := get(t, res.Param, 2020, 2040); math.Abs(v-0.05) > 1e-9 {
		t.Fatalf("expected damped 0.05 at 2040 got %v", v)
	}
	if v := get(t, res.Param, 2020, 2020); math.Abs(v-0.7) > 1e-9 {
		t.Fatalf("expected 0.7 at 2020 got %v", v)
	}
	if len(res.Diagnostics) != 1 || !errors.Is(res.Diagnostics[0].Err, curve.ErrSignFlipAnomaly) || res.Diagnostics[0].Year != 2040 {
		t.Fatalf("expected one sign flip diagnostic at 2040 got %v", res.Diagnostics)
	}
}

func TestRespace_SingleReferenceIsCopied(t *testing.T) {
	schema := model.Schema{Name: "inv_cost", Kind: model.OneAxis}
	p, _ := model.FromRows(schema, []model.Row{{Node: "n1", Technology: "coal", Vintage: 2020, Value: 100, Unit: "$"}})
	ret := lifetime.RetirementMap{2020: {Year: 2030}, 2025: {Year: 2035}, 2030: {Open: true}, 2035: {Open: true}}
	r := New(testHorizon(t), DefaultConfig(), nil)
	res, err := r.Respace(p, Plan{Node: "n1", Technology: "coal", Retirement: ret})
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	s := res.Param.(*model.VintageTable).Get(dims)
	for _, y := range []int{2025, 2030, 2035} {
		if v, ok := s.Get(y); !ok || v != 100 {
			t.Fatalf("vintage %d: expected 100 got %v (%v)", y, v, ok)
		}
	}
	if s.Has(2040) {
		t.Fatal("vintage 2040 has no retirement and must not be created")
	}
	if len(res.Added) != 3 {
		t.Fatalf("expected 3 additions got %d", len(res.Added))
	}
	if len(res.Diagnostics) != 1 || !errors.Is(res.Diagnostics[0].Err, curve.ErrInsufficientReferencePoints) {
		t.Fatalf("expected one insufficient reference diagnostic got %v", res.Diagnostics)
	}
}

func TestRespace_SynthesizesIntroducedVintage(t *testing.T) {
	ret := lifetime.RetirementMap{2020: {Year: 2030}, 2025: {Year: 2035}, 2030: {Open: true}, 2035: {Open: true}}
	r := New(testHorizon(t), DefaultConfig(), nil)
	res, err := r.Respace(capacityFactor(t), Plan{Node: "n1", Technology: "coal", Retirement: ret, Introduced: []int{2035}})
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	if v := get(t, res.Param, 2035, 2035); math.Abs(v-0.7) > 1e-9 {
		t.Fatalf("expected 0.7 at (2035, 2035) got %v", v)
	}
	if v := get(t, res.Param, 2035, 2040); math.Abs(v-0.7) > 1e-9 {
		t.Fatalf("expected 0.7 at (2035, 2040) got %v", v)
	}
	if len(res.Added) != 2 || len(res.Removed) != 0 {
		t.Fatalf("expected 2 additions got %d added %d removed", len(res.Added), len(res.Removed))
	}
}

func TestRespace_NaNDoesNotConverge(t *testing.T) {
	p, _ := model.FromRows(gridSchema, []model.Row{row(2020, 2020, math.NaN()), row(2020, 2025, math.NaN())})
	r := New(testHorizon(t), DefaultConfig(), nil)
	_, err := r.Respace(p, Plan{Node: "n1", Technology: "coal", Retirement: lifetime.RetirementMap{2020: {Year: 2035}}})
	if !errors.Is(err, ErrNonConvergence) {
		t.Fatalf("expected ErrNonConvergence got %v", err)
	}
}

func TestRespace_RelationFollowsRetirement(t *testing.T) {
	schema := model.Schema{Name: "relation_activity", Kind: model.RelationAxis}
	p, _ := model.FromRows(schema, []model.Row{
		{Node: "n1", Technology: "coal", Relation: 2020, Activity: 2020, Value: 1},
		{Node: "n1", Technology: "coal", Relation: 2025, Activity: 2025, Value: 2},
	})
	r := New(testHorizon(t), DefaultConfig(), nil)
	res, err := r.Respace(p, Plan{Node: "n1", Technology: "coal", Retirement: extended()})
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	s := res.Param.(*model.RelationTable).Get(model.RelationKey{Dims: dims, Tracking: true})
	if s == nil || s.Len() != 5 {
		t.Fatalf("expected 5 activity years, got %v", s)
	}
	if v, _ := s.Get(2040); math.Abs(v-5) > 1e-9 {
		t.Fatalf("expected 5 at 2040 got %v", v)
	}
}

func TestRespace_OtherPairsUntouched(t *testing.T) {
	p, _ := model.FromRows(gridSchema, []model.Row{
		row(2020, 2020, 1),
		{Node: "n2", Technology: "coal", Vintage: 2020, Activity: 2020, Value: 3, Unit: "-"},
	})
	r := New(testHorizon(t), DefaultConfig(), nil)
	res, err := r.Respace(p, Plan{Node: "n1", Technology: "coal", Retirement: lifetime.RetirementMap{2020: {Year: 2025}}})
	if err != nil {
		t.Fatalf("respace: %v", err)
	}
	for _, rw := range append(res.Added, res.Removed...) {
		if rw.Node != "n1" {
			t.Fatalf("row of another pair touched: %+v", rw)
		}
	}
}
