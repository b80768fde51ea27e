package respace

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/kilianp07/lifespan/core/curve"
	"github.com/kilianp07/lifespan/core/horizon"
	"github.com/kilianp07/lifespan/core/lifetime"
	"github.com/kilianp07/lifespan/core/logger"
	"github.com/kilianp07/lifespan/core/model"
)

// ErrNonConvergence is returned when the extension passes exhaust their
// budget before every operating window is covered.
var ErrNonConvergence = errors.New("respacing did not converge")

// Config tunes a Respacer.
type Config struct {
	// DampingFactor multiplies the nearer reference when an extrapolation
	// flips sign.
	DampingFactor float64
	// Preserve keeps observations outside the vintage window untouched
	// instead of dropping them.
	Preserve bool
	// Tolerance decides whether a recomputed value differs from the stored one.
	Tolerance float64
}

// DefaultConfig returns the default damping and tolerance.
func DefaultConfig() Config {
	return Config{DampingFactor: curve.DefaultDamping, Tolerance: model.DefaultTolerance}
}

// Plan describes the respacing of one (node, technology) pair.
type Plan struct {
	Node       string
	Technology string
	// Window restricts the vintages that are recomputed. The zero value
	// covers the whole horizon.
	Window     lifetime.Range
	Retirement lifetime.RetirementMap
	// Introduced lists vintages created by the lifetime update.
	Introduced []int
	// LifetimeIncrease is the largest lifetime extension of an existing
	// vintage, in years.
	LifetimeIncrease float64
}

// PlanFor builds the plan of one node from a lifetime update.
func PlanFor(tech string, window lifetime.Range, o *lifetime.NodeOutcome) Plan {
	return Plan{
		Node:             o.Node,
		Technology:       tech,
		Window:           window,
		Retirement:       o.Retirement,
		Introduced:       o.Introduced,
		LifetimeIncrease: o.MaxIncrease(),
	}
}

// Diagnostic is a recoverable anomaly met while estimating a value.
type Diagnostic struct {
	// Err is curve.ErrInsufficientReferencePoints or curve.ErrSignFlipAnomaly.
	Err     error
	Param   string
	Dims    model.Dims
	Vintage int
	Year    int
	Value   float64
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s vintage %d year %d: %v (value %g)", d.Param, d.Dims, d.Vintage, d.Year, d.Err, d.Value)
}

// Result is the replacement set of one parameter for one pair.
type Result struct {
	// Param holds every observation of the pair after respacing.
	Param       model.Param
	Removed     []model.Row
	Added       []model.Row
	Diagnostics []Diagnostic
	// Passes is the largest number of extension passes any group needed.
	Passes int
}

// Changed reports whether the store must be written.
func (r *Result) Changed() bool { return len(r.Removed) > 0 || len(r.Added) > 0 }

// Respacer recomputes parameter grids after a lifetime or horizon change. It
// holds no mutable state and may be shared across goroutines.
type Respacer struct {
	horizon *horizon.Matrix
	cfg     Config
	log     logger.Logger
}

// New returns a Respacer. A nil logger disables logging.
func New(h *horizon.Matrix, cfg Config, log logger.Logger) *Respacer {
	if log == nil {
		log = logger.NopLogger{}
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = model.DefaultTolerance
	}
	return &Respacer{horizon: h, cfg: cfg, log: log}
}

// Respace recomputes the observations of plan's pair in p.
func (r *Respacer) Respace(p model.Param, plan Plan) (*Result, error) {
	before := p.Select(plan.Node, plan.Technology)
	window := plan.Window
	if window.IsZero() {
		window = lifetime.Range{From: r.horizon.First(), To: r.horizon.Last()}
	}
	run := &run{Respacer: r, plan: plan, window: window, name: p.Schema().Name}
	var (
		after model.Param
		err   error
	)
	switch t := before.(type) {
	case *model.VintageTable:
		after = run.vintage(t)
	case *model.GridTable:
		after, err = run.grid(t)
	case *model.RelationTable:
		after = run.relation(t)
	default:
		return nil, fmt.Errorf("%w: %T", model.ErrUnknownKind, p)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s/%s: %w", run.name, plan.Node, plan.Technology, err)
	}
	removed, added := model.Diff(before, after, r.cfg.Tolerance)
	r.log.Infof("%s %s/%s respaced: %d added, %d removed, %d passes, %d diagnostics",
		run.name, plan.Node, plan.Technology, len(added), len(removed), run.passes, len(run.diags))
	return &Result{
		Param:       after,
		Removed:     removed,
		Added:       added,
		Diagnostics: run.diags,
		Passes:      run.passes,
	}, nil
}

// run carries the state of one Respace call.
type run struct {
	*Respacer
	plan   Plan
	window lifetime.Range
	name   string
	diags  []Diagnostic
	passes int
}

func (r *run) note(d model.Dims, vintage, year int, est curve.Estimate) {
	err := est.Diagnostic()
	if err == nil {
		return
	}
	diag := Diagnostic{Err: err, Param: r.name, Dims: d, Vintage: vintage, Year: year, Value: est.Value}
	r.diags = append(r.diags, diag)
	r.log.Warnf("%s", diag)
}

// targetVintages returns the valid vintages inside the window.
func (r *run) targetVintages() []int {
	var out []int
	for _, v := range r.plan.Retirement.Vintages() {
		if r.window.Contains(v) && r.horizon.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// fill completes a one-dimensional series over targets: bracketed years are
// interpolated, the rest extrapolated walking outward one year at a time.
func (r *run) fill(d model.Dims, vintage int, s *model.Series, targets []int) {
	switch s.Len() {
	case 0:
		return
	case 1:
		only, _ := s.First()
		copied := false
		for _, y := range targets {
			if !s.Has(y) {
				s.Set(y, only.Value)
				copied = true
			}
		}
		if copied {
			yr := only.Year
			if vintage == 0 {
				vintage = yr
			}
			r.note(d, vintage, yr, curve.Estimate{Value: only.Value, Method: curve.Copied})
		}
		return
	}
	curve.Interior(s, targets)
	last, _ := s.Last()
	for _, y := range targets {
		if y > last.Year && !s.Has(y) {
			r.step(d, vintage, s, y)
		}
	}
	first, _ := s.First()
	for i := len(targets) - 1; i >= 0; i-- {
		if y := targets[i]; y < first.Year && !s.Has(y) {
			r.step(d, vintage, s, y)
		}
	}
}

func (r *run) step(d model.Dims, vintage int, s *model.Series, y int) {
	est, ok := curve.Step(s, y, r.cfg.DampingFactor)
	if !ok || !est.Valid() {
		return
	}
	v := vintage
	if v == 0 {
		v = y
	}
	r.note(d, v, y, est)
	s.Set(y, est.Value)
}

func (r *run) vintage(t *model.VintageTable) model.Param {
	out := model.NewVintageTable(t.Schema())
	targets := r.targetVintages()
	for _, d := range t.Keys() {
		s := t.Get(d).Clone()
		r.fill(d, 0, s, targets)
		s.Retain(func(y int) bool {
			if r.window.Contains(y) {
				return slices.Contains(targets, y)
			}
			return r.cfg.Preserve
		})
		if s.Len() > 0 {
			out.Set(d, s)
		}
	}
	return out
}

func (r *run) relation(t *model.RelationTable) model.Param {
	out := model.NewRelationTable(t.Schema())
	through := r.window.To
	if vs := r.targetVintages(); len(vs) > 0 {
		through = r.window.From
		for _, v := range vs {
			through = max(through, r.plan.Retirement[v].Through(r.horizon.Last()))
		}
	}
	span := lifetime.Range{From: r.window.From, To: through}
	targets := r.horizon.Between(span.From, span.To)
	for _, k := range t.Keys() {
		s := t.Get(k).Clone()
		r.fill(k.Dims, 0, s, targets)
		s.Retain(func(y int) bool {
			if span.Contains(y) {
				return slices.Contains(targets, y)
			}
			return r.cfg.Preserve
		})
		if s.Len() > 0 {
			out.Set(k, s)
		}
	}
	return out
}

func (r *run) grid(t *model.GridTable) (model.Param, error) {
	out := model.NewGridTable(t.Schema())
	targets := r.targetVintages()
	windows := map[int][]int{}
	for _, v := range targets {
		windows[v], _ = r.plan.Retirement.Window(r.horizon, v)
	}
	for _, d := range t.Groups() {
		known := t.Vintages(d)
		rows := map[int]*model.Series{}
		for _, v := range targets {
			if s := t.Get(d, v); s != nil && s.Len() > 0 {
				rows[v] = s.Clone()
			}
		}
		if err := r.extend(d, rows, windows); err != nil {
			return nil, err
		}
		refs := map[int]*model.Series{}
		for _, v := range known {
			if s, ok := rows[v]; ok {
				refs[v] = s
			} else if s := t.Get(d, v); s.Len() > 0 {
				refs[v] = s
			}
		}
		fresh := map[int]*model.Series{}
		for _, v := range targets {
			if _, ok := rows[v]; ok {
				continue
			}
			if slices.Contains(r.plan.Introduced, v) {
				r.log.Debugf("%s %s: synthesizing introduced vintage %d", r.name, d, v)
			} else {
				r.log.Debugf("%s %s: synthesizing missing vintage %d", r.name, d, v)
			}
			fresh[v] = r.synthesize(d, refs, v, windows[v])
		}
		if err := r.extend(d, fresh, windows); err != nil {
			return nil, err
		}
		for v, s := range fresh {
			rows[v] = s
		}
		for v, s := range rows {
			w := windows[v]
			s.Retain(func(a int) bool { return slices.Contains(w, a) })
			if s.Len() > 0 {
				out.Set(d, v, s)
			}
		}
		if r.cfg.Preserve {
			for _, v := range known {
				if !r.window.Contains(v) {
					out.Set(d, v, t.Get(d, v).Clone())
				}
			}
		}
	}
	return out, nil
}

// synthesize builds the activity curve of a vintage absent from the group by
// interpolating the two nearest reference vintages at each shared activity
// year of its window.
func (r *run) synthesize(d model.Dims, refs map[int]*model.Series, v int, window []int) *model.Series {
	near := nearestVintages(refs, v, 2)
	s := model.NewSeries("")
	if len(near) == 0 || len(window) == 0 {
		return s
	}
	s.Unit = refs[near[0]].Unit
	if len(near) == 2 {
		a, b := refs[near[0]], refs[near[1]]
		for _, y := range window {
			av, ok1 := a.Get(y)
			bv, ok2 := b.Get(y)
			if !ok1 || !ok2 {
				continue
			}
			est := curve.Line(model.Point{Year: near[0], Value: av}, model.Point{Year: near[1], Value: bv}, v, r.cfg.DampingFactor)
			if !est.Valid() {
				continue
			}
			r.note(d, v, y, est)
			s.Set(y, est.Value)
		}
	} else {
		ref := refs[near[0]]
		for _, y := range window {
			if val, ok := ref.Get(y); ok {
				s.Set(y, val)
			}
		}
	}
	if s.Len() == 0 {
		seed := refs[near[0]].Nearest(window[0], 1)[0]
		s.Set(window[0], seed.Value)
		r.note(d, v, window[0], curve.Estimate{Value: seed.Value, Method: curve.Copied})
	} else if len(near) == 1 {
		first, _ := s.First()
		r.note(d, v, first.Year, curve.Estimate{Value: first.Value, Method: curve.Copied})
	}
	return s
}

// extend covers every row's operating window. Bracketed gaps are
// interpolated up front; the remaining columns are added one per direction
// per pass. Each pass advances a row by at least the minimum spacing of the
// horizon, which bounds the number of passes.
func (r *run) extend(d model.Dims, rows map[int]*model.Series, windows map[int][]int) error {
	vintages := make([]int, 0, len(rows))
	for v, s := range rows {
		if s.Len() >= 2 {
			curve.Interior(s, windows[v])
		}
		vintages = append(vintages, v)
	}
	slices.Sort(vintages)
	budget := r.budget(rows, windows)
	passes := 0
	for !covered(rows, windows) {
		if passes == budget {
			return fmt.Errorf("%w: %s not covered after %d passes", ErrNonConvergence, d, budget)
		}
		passes++
		for _, v := range vintages {
			s, w := rows[v], windows[v]
			if s.Len() == 0 {
				continue
			}
			last, _ := s.Last()
			if i := slices.IndexFunc(w, func(a int) bool { return a > last.Year }); i >= 0 && !s.Has(w[i]) {
				r.step(d, v, s, w[i])
			}
			first, _ := s.First()
			for i := len(w) - 1; i >= 0; i-- {
				if w[i] < first.Year {
					r.step(d, v, s, w[i])
					break
				}
			}
		}
	}
	r.passes = max(r.passes, passes)
	return nil
}

func (r *run) budget(rows map[int]*model.Series, windows map[int][]int) int {
	spacing := float64(r.horizon.MinSpacing())
	budget := int(math.Ceil(r.plan.LifetimeIncrease / spacing))
	for v, s := range rows {
		w := windows[v]
		if s.Len() == 0 || len(w) == 0 {
			continue
		}
		first, _ := s.First()
		last, _ := s.Last()
		span := max(w[len(w)-1]-last.Year, first.Year-w[0], 0)
		budget = max(budget, int(math.Ceil(float64(span)/spacing)))
	}
	return max(budget, 1)
}

func covered(rows map[int]*model.Series, windows map[int][]int) bool {
	for v, s := range rows {
		for _, a := range windows[v] {
			if !s.Has(a) {
				return false
			}
		}
	}
	return true
}

// nearestVintages returns up to n reference vintages ordered by distance to
// v; ties go to the earlier vintage.
func nearestVintages(refs map[int]*model.Series, v, n int) []int {
	s := model.NewSeries("")
	for rv := range refs {
		s.Set(rv, 0)
	}
	pts := s.Nearest(v, n)
	out := make([]int, len(pts))
	for i, p := range pts {
		out[i] = p.Year
	}
	return out
}
