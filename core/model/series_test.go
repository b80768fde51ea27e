package model

import (
	"math"
	"testing"
)

func TestSeriesOrdered(t *testing.T) {
	s := NewSeries("%")
	s.Set(2030, 3)
	s.Set(2020, 1)
	s.Set(2025, 2)
	s.Set(2025, 2.5)
	if got := s.Years(); len(got) != 3 || got[0] != 2020 || got[1] != 2025 || got[2] != 2030 {
		t.Fatalf("unexpected years %v", got)
	}
	if v, ok := s.Get(2025); !ok || v != 2.5 {
		t.Fatalf("expected 2.5 got %v (%v)", v, ok)
	}
	s.Delete(2020)
	s.Delete(1999)
	if first, _ := s.First(); first.Year != 2025 {
		t.Fatalf("expected first 2025 got %d", first.Year)
	}
	if last, _ := s.Last(); last.Year != 2030 {
		t.Fatalf("expected last 2030 got %d", last.Year)
	}
	s.Retain(func(y int) bool { return y > 2025 })
	if s.Len() != 1 || !s.Has(2030) {
		t.Fatalf("retain kept %v", s.Years())
	}
}

func TestSeriesEmpty(t *testing.T) {
	var s Series
	if _, ok := s.First(); ok {
		t.Fatal("expected no first point")
	}
	if _, ok := s.Last(); ok {
		t.Fatal("expected no last point")
	}
	if pts := s.Nearest(2020, 2); len(pts) != 0 {
		t.Fatalf("expected no points got %v", pts)
	}
}

func TestSeriesNearestTieGoesEarlier(t *testing.T) {
	s := NewSeries("")
	s.Set(2020, 1)
	s.Set(2030, 3)
	s.Set(2040, 4)
	pts := s.Nearest(2025, 2)
	if pts[0].Year != 2020 || pts[1].Year != 2030 {
		t.Fatalf("unexpected order %v", pts)
	}
	pts = s.Nearest(2041, 1)
	if len(pts) != 1 || pts[0].Year != 2040 {
		t.Fatalf("unexpected nearest %v", pts)
	}
}

func TestSeriesCloneIsDeep(t *testing.T) {
	s := NewSeries("USD")
	s.Set(2020, 1)
	c := s.Clone()
	c.Set(2020, 9)
	c.Set(2025, 9)
	if v, _ := s.Get(2020); v != 1 || s.Len() != 1 {
		t.Fatal("clone shares storage with the original")
	}
	if c.Unit != "USD" {
		t.Fatalf("unit lost: %q", c.Unit)
	}
}

func TestSeriesFinite(t *testing.T) {
	s := NewSeries("")
	s.Set(2020, 1)
	if !s.Finite() {
		t.Fatal("expected finite")
	}
	s.Set(2025, math.Inf(1))
	if s.Finite() {
		t.Fatal("infinity should not be finite")
	}
	s.Set(2025, math.NaN())
	if s.Finite() {
		t.Fatal("NaN should not be finite")
	}
}
