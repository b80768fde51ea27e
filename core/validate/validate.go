package validate

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/kilianp07/lifespan/core/curve"
	"github.com/kilianp07/lifespan/core/horizon"
	"github.com/kilianp07/lifespan/core/lifetime"
	"github.com/kilianp07/lifespan/core/logger"
	"github.com/kilianp07/lifespan/core/model"
)

// ErrGridInconsistency signals that populated grid points disagree with the
// retirement windows in a way the validator does not repair.
var ErrGridInconsistency = errors.New("grid inconsistency")

// Oracle returns the reference (vintage, activity) pairs of a node and
// technology. An empty result means the store has no opinion.
type Oracle func(node, tech string) ([]model.Pair, error)

// Finding is one grid point that is missing or unexpected. Activity is zero
// for vintage-only parameters.
type Finding struct {
	Dims     model.Dims `json:"dims"`
	Vintage  int        `json:"year_vtg"`
	Activity int        `json:"year_act,omitempty"`
}

// Report is the outcome of validating one parameter for one pair.
type Report struct {
	Param      string
	Node       string
	Technology string
	// Missing and Extra are the discrepancies found before repair.
	Missing []Finding
	Extra   []Finding
	// RemainingMissing and RemainingExtra are left after repair.
	RemainingMissing []Finding
	RemainingExtra   []Finding
	// Repaired holds the observations of the pair after repair.
	Repaired model.Param
	Removed  []model.Row
	Added    []model.Row
}

// Clean reports whether nothing is left to fix.
func (r *Report) Clean() bool {
	return len(r.RemainingMissing) == 0 && len(r.RemainingExtra) == 0
}

// Validator audits parameter grids against retirement windows.
type Validator struct {
	horizon   *horizon.Matrix
	damping   float64
	tolerance float64
	log       logger.Logger
}

// New returns a Validator. damping is used when backfilled values have to be
// extrapolated across vintages.
func New(h *horizon.Matrix, damping float64, log logger.Logger) *Validator {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Validator{horizon: h, damping: damping, tolerance: model.DefaultTolerance, log: log}
}

// Validate compares the pair's observations in p with the grid implied by
// ret, narrowed by oracle when it is non-nil. Vintage-only parameters are
// never repaired and any mismatch returns ErrGridInconsistency with the
// report. Vintage/activity parameters have extra points removed and missing
// points backfilled.
func (v *Validator) Validate(p model.Param, node, tech string, ret lifetime.RetirementMap, oracle Oracle) (*Report, error) {
	var pairs map[model.Pair]bool
	if oracle != nil {
		list, err := oracle(node, tech)
		if err != nil {
			return nil, fmt.Errorf("oracle %s/%s: %w", node, tech, err)
		}
		if len(list) > 0 {
			pairs = make(map[model.Pair]bool, len(list))
			for _, pr := range list {
				pairs[pr] = true
			}
		}
	}
	before := p.Select(node, tech)
	rep := &Report{Param: p.Schema().Name, Node: node, Technology: tech, Repaired: before}
	switch t := before.(type) {
	case *model.VintageTable:
		return rep, v.vintage(rep, t, ret, pairs)
	case *model.GridTable:
		after := v.grid(rep, t, ret, pairs)
		rep.Repaired = after
		rep.Removed, rep.Added = model.Diff(before, after, v.tolerance)
		if !rep.Clean() {
			v.log.Warnf("%s %s/%s: %d missing and %d extra points left after repair",
				rep.Param, node, tech, len(rep.RemainingMissing), len(rep.RemainingExtra))
		}
		return rep, nil
	case *model.RelationTable:
		v.log.Debugf("%s %s/%s: relation tables are not bound to retirement windows", rep.Param, node, tech)
		return rep, nil
	}
	return nil, fmt.Errorf("%w: %T", model.ErrUnknownKind, p)
}

func (v *Validator) validVintages(ret lifetime.RetirementMap, pairs map[model.Pair]bool) []int {
	if pairs == nil {
		return ret.Vintages()
	}
	var out []int
	for _, vt := range ret.Vintages() {
		for pr := range pairs {
			if pr.Vintage == vt {
				out = append(out, vt)
				break
			}
		}
	}
	return out
}

func (v *Validator) vintage(rep *Report, t *model.VintageTable, ret lifetime.RetirementMap, pairs map[model.Pair]bool) error {
	valid := v.validVintages(ret, pairs)
	for _, d := range t.Keys() {
		s := t.Get(d)
		for _, vt := range valid {
			if !s.Has(vt) {
				rep.Missing = append(rep.Missing, Finding{Dims: d, Vintage: vt})
			}
		}
		for _, vt := range s.Years() {
			if v.horizon.Contains(vt) && !slices.Contains(valid, vt) {
				rep.Extra = append(rep.Extra, Finding{Dims: d, Vintage: vt})
			}
		}
	}
	rep.RemainingMissing, rep.RemainingExtra = rep.Missing, rep.Extra
	if len(rep.Missing) > 0 || len(rep.Extra) > 0 {
		return fmt.Errorf("%w: %s %s/%s has %d missing and %d extra vintages",
			ErrGridInconsistency, rep.Param, rep.Node, rep.Technology, len(rep.Missing), len(rep.Extra))
	}
	return nil
}

// expected returns the activity years vintage vt must populate.
func (v *Validator) expected(ret lifetime.RetirementMap, pairs map[model.Pair]bool, vt int) []int {
	win, _ := ret.Window(v.horizon, vt)
	if pairs == nil {
		return win
	}
	var out []int
	for _, a := range win {
		if pairs[model.Pair{Vintage: vt, Activity: a}] {
			out = append(out, a)
		}
	}
	return out
}

func (v *Validator) grid(rep *Report, t *model.GridTable, ret lifetime.RetirementMap, pairs map[model.Pair]bool) model.Param {
	out := t.Clone().(*model.GridTable)
	valid := v.validVintages(ret, pairs)
	specific := t.Schema().VintageSpecific
	for _, d := range t.Groups() {
		missing, extra := v.compare(out, d, ret, pairs, valid)
		rep.Missing = append(rep.Missing, missing...)
		rep.Extra = append(rep.Extra, extra...)
		for _, f := range extra {
			s := out.Get(d, f.Vintage)
			s.Delete(f.Activity)
			if s.Len() == 0 {
				out.Delete(d, f.Vintage)
			}
		}
		unit := t.Get(d, t.Vintages(d)[0]).Unit
		for _, vt := range uniqueVintages(missing) {
			v.backfill(out, d, vt, v.expected(ret, pairs, vt), specific, unit)
		}
		missing, extra = v.compare(out, d, ret, pairs, valid)
		rep.RemainingMissing = append(rep.RemainingMissing, missing...)
		rep.RemainingExtra = append(rep.RemainingExtra, extra...)
	}
	if n := len(rep.Extra); n > 0 {
		v.log.Infof("%s %s/%s: removed %d extra points", rep.Param, rep.Node, rep.Technology, n)
	}
	if n := len(rep.Missing); n > 0 {
		v.log.Infof("%s %s/%s: backfilled %d missing points", rep.Param, rep.Node, rep.Technology, n)
	}
	return out
}

func (v *Validator) compare(t *model.GridTable, d model.Dims, ret lifetime.RetirementMap, pairs map[model.Pair]bool, valid []int) (missing, extra []Finding) {
	want := map[model.Pair]bool{}
	for _, vt := range valid {
		for _, a := range v.expected(ret, pairs, vt) {
			want[model.Pair{Vintage: vt, Activity: a}] = true
		}
	}
	have := map[model.Pair]bool{}
	for _, pr := range t.Pairs(d) {
		have[pr] = true
		if !want[pr] {
			extra = append(extra, Finding{Dims: d, Vintage: pr.Vintage, Activity: pr.Activity})
		}
	}
	for pr := range want {
		if !have[pr] {
			missing = append(missing, Finding{Dims: d, Vintage: pr.Vintage, Activity: pr.Activity})
		}
	}
	sortFindings(missing)
	return missing, extra
}

// backfill seeds vintage vt at its first expected activity year by
// interpolating along the vintage axis, then propagates forward either by
// holding the vintage's own curve or by copying the nearest vintage at the
// same activity year.
func (v *Validator) backfill(t *model.GridTable, d model.Dims, vt int, exp []int, specific bool, unit string) {
	if len(exp) == 0 {
		return
	}
	s := t.Get(d, vt)
	if s == nil {
		s = model.NewSeries(unit)
		t.Set(d, vt, s)
	}
	if s.Len() == 0 {
		est, ok := v.acrossVintages(t, d, vt, exp[0])
		if !ok {
			t.Delete(d, vt)
			return
		}
		if err := est.Diagnostic(); err != nil {
			v.log.Warnf("%s vintage %d year %d: %v", d, vt, exp[0], err)
		}
		s.Set(exp[0], est.Value)
	}
	for _, a := range exp {
		if s.Has(a) {
			continue
		}
		if !specific {
			if val, ok := nearestAt(t, d, vt, a); ok {
				s.Set(a, val)
				continue
			}
		}
		s.Set(a, hold(s, a))
	}
}

// acrossVintages estimates (vt, a) from other vintages that populate a.
func (v *Validator) acrossVintages(t *model.GridTable, d model.Dims, vt, a int) (curve.Estimate, bool) {
	col := model.NewSeries("")
	var fallback []model.Point
	for _, other := range t.Vintages(d) {
		if other == vt {
			continue
		}
		s := t.Get(d, other)
		if val, ok := s.Get(a); ok {
			col.Set(other, val)
		} else if pts := s.Nearest(a, 1); len(pts) == 1 {
			fallback = append(fallback, model.Point{Year: other, Value: pts[0].Value})
		}
	}
	pts := col.Nearest(vt, 2)
	switch len(pts) {
	case 2:
		est := curve.Line(pts[0], pts[1], vt, v.damping)
		return est, est.Valid()
	case 1:
		return curve.Estimate{Value: pts[0].Value, Method: curve.Copied}, true
	}
	if len(fallback) == 0 {
		return curve.Estimate{}, false
	}
	sort.SliceStable(fallback, func(i, j int) bool {
		return distance(fallback[i].Year, vt) < distance(fallback[j].Year, vt)
	})
	return curve.Estimate{Value: fallback[0].Value, Method: curve.Copied}, true
}

// nearestAt returns the value at activity a of the vintage closest to vt.
func nearestAt(t *model.GridTable, d model.Dims, vt, a int) (float64, bool) {
	col := model.NewSeries("")
	for _, other := range t.Vintages(d) {
		if other == vt {
			continue
		}
		if val, ok := t.Get(d, other).Get(a); ok {
			col.Set(other, val)
		}
	}
	pts := col.Nearest(vt, 1)
	if len(pts) == 0 {
		return 0, false
	}
	return pts[0].Value, true
}

// hold returns the latest value before a, or the earliest after it.
func hold(s *model.Series, a int) float64 {
	pts := s.Points()
	val := pts[0].Value
	for _, p := range pts {
		if p.Year > a {
			break
		}
		val = p.Value
	}
	return val
}

func uniqueVintages(fs []Finding) []int {
	var out []int
	for _, f := range fs {
		if !slices.Contains(out, f.Vintage) {
			out = append(out, f.Vintage)
		}
	}
	slices.Sort(out)
	return out
}

func sortFindings(fs []Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].Vintage != fs[j].Vintage {
			return fs[i].Vintage < fs[j].Vintage
		}
		return fs[i].Activity < fs[j].Activity
	})
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
