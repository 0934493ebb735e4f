package visus

import (
	"testing"
)

func TestPointArithmetic(t *testing.T) {
	a := Point{10, 21, 837821}
	b := Point{78312, -200, 40123}

	if r := a.Add(b); !r.Equal(Point{78322, -179, 877944}) {
		t.Errorf("bad Add: %s", r)
	}
	if r := a.Sub(b); !r.Equal(Point{-78302, 221, 797698}) {
		t.Errorf("bad Sub: %s", r)
	}
	if r := a.Max(b); !r.Equal(Point{78312, 21, 837821}) {
		t.Errorf("bad Max: %s", r)
	}
	if r := a.Min(b); !r.Equal(Point{10, -200, 40123}) {
		t.Errorf("bad Min: %s", r)
	}
	if a.String() != "(10,21,837821)" {
		t.Errorf("bad String: %s", a.String())
	}
	if r := (Point{3, 5}).LeftShift(Point{1, 2}); !r.Equal(Point{6, 20}) {
		t.Errorf("bad LeftShift: %s", r)
	}
	if r := (Point{6, 20}).RightShift(Point{1, 2}); !r.Equal(Point{3, 5}) {
		t.Errorf("bad RightShift: %s", r)
	}
}

func TestPointStride(t *testing.T) {
	dims := Point{4, 3, 2}
	if dims.Prod() != 24 {
		t.Errorf("expected 24 samples, got %d", dims.Prod())
	}
	if s := dims.Stride(); !s.Equal(Point{1, 4, 12}) {
		t.Errorf("bad stride: %s", s)
	}
	if (Point{}).Prod() != 0 {
		t.Errorf("empty point should have no samples")
	}
}

func TestParsePoint(t *testing.T) {
	p, err := ParsePoint("1 2,3")
	if err != nil {
		t.Fatalf("unable to parse point: %v", err)
	}
	if !p.Equal(Point{1, 2, 3}) {
		t.Errorf("bad parse: %s", p)
	}
	if _, err = ParsePoint("1 x"); err == nil {
		t.Errorf("expected error parsing bad coordinate")
	}
	if p.ToString() != "1 2 3" {
		t.Errorf("bad ToString: %q", p.ToString())
	}
}

func TestForEachPoint(t *testing.T) {
	var got []Point
	ForEachPoint(Point{0, 0}, Point{4, 3}, Point{2, 1}, func(p Point) bool {
		got = append(got, p.Clone())
		return true
	})
	expected := []Point{{0, 0}, {2, 0}, {0, 1}, {2, 1}, {0, 2}, {2, 2}}
	if len(got) != len(expected) {
		t.Fatalf("expected %d points, got %d", len(expected), len(got))
	}
	for i := range expected {
		if !got[i].Equal(expected[i]) {
			t.Errorf("point %d: expected %s, got %s", i, expected[i], got[i])
		}
	}

	n := 0
	ForEachPoint(Point{0, 0}, Point{4, 4}, Point{1, 1}, func(p Point) bool {
		n++
		return n < 3
	})
	if n != 3 {
		t.Errorf("expected early stop after 3 points, got %d", n)
	}
}
