package model

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// DefaultTolerance is the absolute/relative tolerance used to decide whether
// two values are the same observation.
const DefaultTolerance = 1e-9

type rowKey struct {
	Dims
	Vintage  int
	Activity int
	Relation int
}

func keyOf(r Row) rowKey {
	return rowKey{Dims: r.Dims(), Vintage: r.Vintage, Activity: r.Activity, Relation: r.Relation}
}

// SameValue compares two values within tol. Equal infinities and two NaNs
// compare equal.
func SameValue(a, b, tol float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return false
	}
	return scalar.EqualWithinAbsOrRel(a, b, tol, tol)
}

// Diff returns the rows to remove from before and to add so that the store
// holds after. A changed value or unit yields one removal and one addition.
func Diff(before, after Param, tol float64) (removed, added []Row) {
	old := map[rowKey]Row{}
	if before != nil {
		for _, r := range before.Rows() {
			old[keyOf(r)] = r
		}
	}
	seen := map[rowKey]bool{}
	if after != nil {
		for _, r := range after.Rows() {
			k := keyOf(r)
			seen[k] = true
			prev, ok := old[k]
			if ok && prev.Unit == r.Unit && SameValue(prev.Value, r.Value, tol) {
				continue
			}
			if ok {
				removed = append(removed, prev)
			}
			added = append(added, r)
		}
	}
	if before != nil {
		for _, r := range before.Rows() {
			if !seen[keyOf(r)] {
				removed = append(removed, r)
			}
		}
	}
	return removed, added
}
