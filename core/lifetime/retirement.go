package lifetime

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/kilianp07/lifespan/core/horizon"
)

// Boundary selects how a lifetime that does not land on a period boundary is
// mapped to a retirement year.
type Boundary int

const (
	// Expiry retires a vintage in the period during which its lifetime
	// expires: the smallest year whose cumulative duration reaches the
	// lifetime. That year may exceed the lifetime on uneven periods.
	Expiry Boundary = iota
	// Strict retires a vintage in the last year whose cumulative duration
	// does not exceed the lifetime.
	Strict
)

func (b Boundary) String() string {
	if b == Strict {
		return "strict"
	}
	return "expiry"
}

// ParseBoundary converts "expiry" or "strict". The empty string is Expiry.
func ParseBoundary(s string) (Boundary, error) {
	switch strings.ToLower(s) {
	case "", "expiry":
		return Expiry, nil
	case "strict":
		return Strict, nil
	}
	return Expiry, fmt.Errorf("unknown boundary policy %q", s)
}

// Retirement is the last activity year of a vintage. Open vintages outlive the
// horizon and operate through its last year.
type Retirement struct {
	Year int  `json:"year,omitempty"`
	Open bool `json:"open,omitempty"`
}

// Through returns the last activity year given the horizon's last year.
func (r Retirement) Through(last int) int {
	if r.Open {
		return last
	}
	return r.Year
}

func (r Retirement) String() string {
	if r.Open {
		return "open"
	}
	return fmt.Sprint(r.Year)
}

// RetirementMap maps vintage years to their retirement.
type RetirementMap map[int]Retirement

// Vintages returns the mapped vintages in ascending order.
func (m RetirementMap) Vintages() []int {
	out := make([]int, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Window returns the activity years vintage v may operate in. ok is false for
// an unmapped vintage.
func (m RetirementMap) Window(h *horizon.Matrix, v int) (years []int, ok bool) {
	r, ok := m[v]
	if !ok {
		return nil, false
	}
	return h.Between(v, r.Through(h.Last())), true
}

// Covers reports whether (v, a) lies inside the operating window of v.
func (m RetirementMap) Covers(h *horizon.Matrix, v, a int) bool {
	r, ok := m[v]
	if !ok {
		return false
	}
	return a >= v && a <= r.Through(h.Last()) && h.Contains(a)
}

// Retire computes the retirement of vintage v under lifetime lt.
func Retire(h *horizon.Matrix, v int, lt float64, b Boundary) (Retirement, error) {
	if math.IsNaN(lt) || lt <= 0 {
		return Retirement{}, fmt.Errorf("%w: %v for vintage %d", ErrInvalidLifetime, lt, v)
	}
	total, err := h.Cumulative(v, h.Last())
	if err != nil {
		return Retirement{}, err
	}
	if float64(total) < lt {
		return Retirement{Open: true}, nil
	}
	last := v
	for _, y := range h.Between(v, h.Last()) {
		c, err := h.Cumulative(v, y)
		if err != nil {
			return Retirement{}, err
		}
		switch b {
		case Strict:
			if float64(c) > lt {
				return Retirement{Year: last}, nil
			}
			last = y
		default:
			if float64(c) >= lt {
				return Retirement{Year: y}, nil
			}
		}
	}
	return Retirement{Year: last}, nil
}
