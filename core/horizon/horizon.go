package horizon

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalidHorizon indicates the year set is empty, not strictly
	// increasing, or carries a non-positive period length.
	ErrInvalidHorizon = errors.New("invalid horizon")
	// ErrUnknownYear is returned when a lookup references a year outside the set.
	ErrUnknownYear = errors.New("unknown year")
)

// Matrix answers cumulative operating duration queries between model years.
// It is read-only once built and safe for concurrent use.
type Matrix struct {
	years     []int
	index     map[int]int
	durations map[int]int
	// prefix[i] is the summed duration of years[0..i].
	prefix []int
}

// Build validates the year and duration sets and precomputes prefix sums so
// that Cumulative runs in constant time.
func Build(years []int, durations map[int]int) (*Matrix, error) {
	if len(years) == 0 {
		return nil, fmt.Errorf("%w: empty year set", ErrInvalidHorizon)
	}
	m := &Matrix{
		years:     slices.Clone(years),
		index:     make(map[int]int, len(years)),
		durations: make(map[int]int, len(years)),
		prefix:    make([]int, len(years)),
	}
	sum := 0
	for i, y := range years {
		if i > 0 && y <= years[i-1] {
			return nil, fmt.Errorf("%w: year %d does not follow %d", ErrInvalidHorizon, y, years[i-1])
		}
		d, ok := durations[y]
		if !ok {
			return nil, fmt.Errorf("%w: no duration for year %d", ErrInvalidHorizon, y)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%w: duration %d for year %d", ErrInvalidHorizon, d, y)
		}
		sum += d
		m.index[y] = i
		m.durations[y] = d
		m.prefix[i] = sum
	}
	return m, nil
}

// Cumulative returns the duration accrued strictly after start through and
// including end.
func (m *Matrix) Cumulative(start, end int) (int, error) {
	i, ok := m.index[start]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownYear, start)
	}
	j, ok := m.index[end]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownYear, end)
	}
	if j < i {
		return 0, fmt.Errorf("span %d-%d is reversed", start, end)
	}
	return m.prefix[j] - m.prefix[i], nil
}

// Years returns a copy of the ordered year set.
func (m *Matrix) Years() []int { return slices.Clone(m.years) }

// First returns the first model year.
func (m *Matrix) First() int { return m.years[0] }

// Last returns the last model year.
func (m *Matrix) Last() int { return m.years[len(m.years)-1] }

// Len returns the number of model years.
func (m *Matrix) Len() int { return len(m.years) }

// Contains reports whether y is a model year.
func (m *Matrix) Contains(y int) bool {
	_, ok := m.index[y]
	return ok
}

// Duration returns the period length of y.
func (m *Matrix) Duration(y int) (int, bool) {
	d, ok := m.durations[y]
	return d, ok
}

// Between returns the model years in the closed interval [lo, hi].
func (m *Matrix) Between(lo, hi int) []int {
	var out []int
	for _, y := range m.years {
		if y < lo {
			continue
		}
		if y > hi {
			break
		}
		out = append(out, y)
	}
	return out
}

// Prev returns the model year immediately preceding y.
func (m *Matrix) Prev(y int) (int, bool) {
	i, ok := m.index[y]
	if !ok || i == 0 {
		return 0, false
	}
	return m.years[i-1], true
}

// Next returns the model year immediately following y.
func (m *Matrix) Next(y int) (int, bool) {
	i, ok := m.index[y]
	if !ok || i == len(m.years)-1 {
		return 0, false
	}
	return m.years[i+1], true
}

// MinSpacing returns the smallest distance between consecutive model years.
// A single-year horizon reports that year's duration.
func (m *Matrix) MinSpacing() int {
	if len(m.years) == 1 {
		return m.durations[m.years[0]]
	}
	min := m.years[1] - m.years[0]
	for i := 2; i < len(m.years); i++ {
		if gap := m.years[i] - m.years[i-1]; gap < min {
			min = gap
		}
	}
	return min
}
