// Package curve holds the interpolation and extrapolation rules shared by the
// respacer and the validator.
package curve

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/kilianp07/lifespan/core/model"
)

var (
	// ErrInsufficientReferencePoints flags a value copied from a single known
	// point because no second reference existed.
	ErrInsufficientReferencePoints = errors.New("insufficient reference points")
	// ErrSignFlipAnomaly flags a linear extrapolation that would have flipped
	// sign and was damped instead.
	ErrSignFlipAnomaly = errors.New("sign flip anomaly")
)

// DefaultDamping is the multiplier applied to the nearer reference when an
// extrapolation flips sign.
const DefaultDamping = 0.5

// Method records how an estimate was produced.
type Method int

const (
	Interpolated Method = iota
	Extrapolated
	// Damped replaced a sign-flipping extrapolation.
	Damped
	// Propagated carried an infinite reference forward.
	Propagated
	// Copied used the only available reference point.
	Copied
)

func (m Method) String() string {
	switch m {
	case Interpolated:
		return "interpolated"
	case Extrapolated:
		return "extrapolated"
	case Damped:
		return "damped"
	case Propagated:
		return "propagated"
	case Copied:
		return "copied"
	}
	return "unknown"
}

// Estimate is a computed value and the rule that produced it.
type Estimate struct {
	Value  float64
	Method Method
}

// Diagnostic returns the degraded-mode sentinel matching the method, if any.
func (e Estimate) Diagnostic() error {
	switch e.Method {
	case Damped:
		return ErrSignFlipAnomaly
	case Copied:
		return ErrInsufficientReferencePoints
	}
	return nil
}

// Valid reports whether the estimate can be stored.
func (e Estimate) Valid() bool { return !math.IsNaN(e.Value) }

// Line estimates the value at x from two reference points, near being the one
// closer to x. Outside the references the estimate is an extrapolation and
// the infinity and sign-flip rules apply.
func Line(near, far model.Point, x int, damping float64) Estimate {
	if math.IsInf(near.Value, 0) || math.IsInf(far.Value, 0) {
		return Estimate{Value: near.Value, Method: Propagated}
	}
	if near.Year == far.Year {
		return Estimate{Value: near.Value, Method: Copied}
	}
	slope := (far.Value - near.Value) / float64(far.Year-near.Year)
	raw := near.Value + slope*float64(x-near.Year)
	lo, hi := min(near.Year, far.Year), max(near.Year, far.Year)
	if x >= lo && x <= hi {
		return Estimate{Value: raw, Method: Interpolated}
	}
	if raw < 0 && near.Value >= 0 {
		return Estimate{Value: near.Value * damping, Method: Damped}
	}
	return Estimate{Value: raw, Method: Extrapolated}
}

// Step extrapolates the value of year x, which must lie outside the known
// range of s, from the two stored points nearest to x on that side. A series
// with one point yields a copy. ok is false for an empty series.
func Step(s *model.Series, x int, damping float64) (est Estimate, ok bool) {
	pts := s.Points()
	switch len(pts) {
	case 0:
		return Estimate{}, false
	case 1:
		return Estimate{Value: pts[0].Value, Method: Copied}, true
	}
	n := len(pts)
	if x > pts[n-1].Year {
		return Line(pts[n-1], pts[n-2], x, damping), true
	}
	return Line(pts[0], pts[1], x, damping), true
}

// Interior sets every target lying strictly inside the known range of s by
// piecewise linear interpolation between its bracketing points. Targets
// bracketed by an infinite value take the nearer bracket. It returns the
// estimates it stored keyed by year.
func Interior(s *model.Series, targets []int) map[int]Estimate {
	pts := s.Points()
	if len(pts) < 2 {
		return nil
	}
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = float64(p.Year)
		ys[i] = p.Value
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil
	}
	out := map[int]Estimate{}
	first, last := pts[0].Year, pts[len(pts)-1].Year
	for _, x := range targets {
		if x <= first || x >= last || s.Has(x) {
			continue
		}
		lo, hi := bracket(pts, x)
		var est Estimate
		if math.IsInf(lo.Value, 0) || math.IsInf(hi.Value, 0) {
			near := lo
			if hi.Year-x < x-lo.Year {
				near = hi
			}
			est = Estimate{Value: near.Value, Method: Propagated}
		} else {
			est = Estimate{Value: pl.Predict(float64(x)), Method: Interpolated}
		}
		if !est.Valid() {
			continue
		}
		out[x] = est
	}
	for x, est := range out {
		s.Set(x, est.Value)
	}
	return out
}

func bracket(pts []model.Point, x int) (lo, hi model.Point) {
	for i := 1; i < len(pts); i++ {
		if pts[i].Year > x {
			return pts[i-1], pts[i]
		}
	}
	return pts[len(pts)-1], pts[len(pts)-1]
}
