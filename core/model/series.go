package model

import (
	"math"
	"slices"
	"sort"
)

// Point is one known (year, value) observation of a series.
type Point struct {
	Year  int
	Value float64
}

// Series is an ordered map from year to value. The zero value is empty and
// ready to use.
type Series struct {
	Unit   string
	years  []int
	values []float64
}

// NewSeries returns an empty series carrying unit.
func NewSeries(unit string) *Series { return &Series{Unit: unit} }

func (s *Series) search(y int) (int, bool) {
	i := sort.SearchInts(s.years, y)
	return i, i < len(s.years) && s.years[i] == y
}

// Set stores v at year y, replacing any previous value.
func (s *Series) Set(y int, v float64) {
	i, ok := s.search(y)
	if ok {
		s.values[i] = v
		return
	}
	s.years = slices.Insert(s.years, i, y)
	s.values = slices.Insert(s.values, i, v)
}

// Get returns the value stored at year y.
func (s *Series) Get(y int) (float64, bool) {
	i, ok := s.search(y)
	if !ok {
		return 0, false
	}
	return s.values[i], true
}

// Has reports whether year y holds a value.
func (s *Series) Has(y int) bool {
	_, ok := s.search(y)
	return ok
}

// Delete removes year y.
func (s *Series) Delete(y int) {
	i, ok := s.search(y)
	if !ok {
		return
	}
	s.years = slices.Delete(s.years, i, i+1)
	s.values = slices.Delete(s.values, i, i+1)
}

// Retain keeps only the years for which keep returns true.
func (s *Series) Retain(keep func(y int) bool) {
	n := 0
	for i, y := range s.years {
		if keep(y) {
			s.years[n] = y
			s.values[n] = s.values[i]
			n++
		}
	}
	s.years = s.years[:n]
	s.values = s.values[:n]
}

// Len returns the number of stored years.
func (s *Series) Len() int { return len(s.years) }

// Years returns a copy of the stored years in ascending order.
func (s *Series) Years() []int { return slices.Clone(s.years) }

// Points returns the stored observations in ascending year order.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.years))
	for i, y := range s.years {
		out[i] = Point{Year: y, Value: s.values[i]}
	}
	return out
}

// First returns the earliest observation.
func (s *Series) First() (Point, bool) {
	if len(s.years) == 0 {
		return Point{}, false
	}
	return Point{Year: s.years[0], Value: s.values[0]}, true
}

// Last returns the latest observation.
func (s *Series) Last() (Point, bool) {
	if len(s.years) == 0 {
		return Point{}, false
	}
	n := len(s.years) - 1
	return Point{Year: s.years[n], Value: s.values[n]}, true
}

// Nearest returns up to n observations ordered by distance to y. Ties go to
// the earlier year.
func (s *Series) Nearest(y, n int) []Point {
	pts := s.Points()
	sort.SliceStable(pts, func(i, j int) bool {
		return abs(pts[i].Year-y) < abs(pts[j].Year-y)
	})
	if len(pts) > n {
		pts = pts[:n]
	}
	return pts
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	return &Series{Unit: s.Unit, years: slices.Clone(s.years), values: slices.Clone(s.values)}
}

// Finite reports whether every stored value is a regular number.
func (s *Series) Finite() bool {
	for _, v := range s.values {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
