package visus

import (
	"fmt"
	"strings"
)

// Box is an axis-aligned N-dimensional box in logic coordinates.  P1 is
// inclusive and P2 is exclusive.
type Box struct {
	P1 Point
	P2 Point
}

// NewBox returns a box with the given corners.  Corners are not copied.
func NewBox(p1, p2 Point) Box {
	return Box{P1: p1, P2: p2}
}

// InvalidBox returns a zero-dimension box.
func InvalidBox() Box {
	return Box{}
}

// ParseBox parses "x1 y1 ... x2 y2 ..." with exclusive upper corner.
func ParseBox(s string) (Box, error) {
	p, err := ParsePoint(s)
	if err != nil {
		return Box{}, err
	}
	if len(p)%2 != 0 {
		return Box{}, fmt.Errorf("box %q must have an even number of coordinates", s)
	}
	pdim := len(p) / 2
	return Box{P1: p[:pdim].Clone(), P2: p[pdim:].Clone()}, nil
}

// ParseOldFormatBox parses the descriptor form "x1 x2 y1 y2 ..." where the
// upper bound of each axis is inclusive.
func ParseOldFormatBox(s string) (Box, error) {
	p, err := ParsePoint(s)
	if err != nil {
		return Box{}, err
	}
	if len(p)%2 != 0 {
		return Box{}, fmt.Errorf("box %q must have an even number of coordinates", s)
	}
	pdim := len(p) / 2
	b := Box{P1: make(Point, pdim), P2: make(Point, pdim)}
	for i := 0; i < pdim; i++ {
		b.P1[i] = p[2*i]
		b.P2[i] = p[2*i+1] + 1
	}
	return b, nil
}

func (b Box) NumDims() int {
	return len(b.P1)
}

// Valid returns true if the box has a dimension and P1 <= P2 on every axis.
func (b Box) Valid() bool {
	if len(b.P1) == 0 || len(b.P1) != len(b.P2) {
		return false
	}
	for i := range b.P1 {
		if b.P1[i] > b.P2[i] {
			return false
		}
	}
	return true
}

// IsFullDim returns true if the box has positive extent along every axis.
func (b Box) IsFullDim() bool {
	if len(b.P1) == 0 || len(b.P1) != len(b.P2) {
		return false
	}
	for i := range b.P1 {
		if b.P1[i] >= b.P2[i] {
			return false
		}
	}
	return true
}

// Size returns P2 - P1.
func (b Box) Size() Point {
	return b.P2.Sub(b.P1)
}

func (b Box) Clone() Box {
	return Box{P1: b.P1.Clone(), P2: b.P2.Clone()}
}

func (b Box) Equal(o Box) bool {
	return b.P1.Equal(o.P1) && b.P2.Equal(o.P2)
}

// Intersection returns the overlap of the two boxes, which may not be full dimensional.
func (b Box) Intersection(o Box) Box {
	return Box{P1: b.P1.Max(o.P1), P2: b.P2.Min(o.P2)}
}

// Union returns the smallest box containing both boxes.  An invalid box is ignored.
func (b Box) Union(o Box) Box {
	if !b.Valid() {
		return o.Clone()
	}
	if !o.Valid() {
		return b.Clone()
	}
	return Box{P1: b.P1.Min(o.P1), P2: b.P2.Max(o.P2)}
}

// StrictIntersect returns true if the two boxes share a full dimensional region.
func (b Box) StrictIntersect(o Box) bool {
	for i := range b.P1 {
		if b.P1[i] >= o.P2[i] || o.P1[i] >= b.P2[i] {
			return false
		}
	}
	return true
}

// ContainsPoint returns true if p lies inside [P1, P2).
func (b Box) ContainsPoint(p Point) bool {
	for i := range b.P1 {
		if p[i] < b.P1[i] || p[i] >= b.P2[i] {
			return false
		}
	}
	return true
}

// ContainsBox returns true if o lies completely inside b.
func (b Box) ContainsBox(o Box) bool {
	for i := range b.P1 {
		if o.P1[i] < b.P1[i] || o.P2[i] > b.P2[i] {
			return false
		}
	}
	return true
}

func (b Box) Translate(offset Point) Box {
	return Box{P1: b.P1.Add(offset), P2: b.P2.Add(offset)}
}

// WithPointDim returns a box truncated or padded to pdim dimensions.  Padded
// axes span [0, 1).
func (b Box) WithPointDim(pdim int) Box {
	return Box{P1: b.P1.WithPointDim(pdim, 0), P2: b.P2.WithPointDim(pdim, 1)}
}

func (b Box) String() string {
	return b.P1.String() + "-" + b.P2.String()
}

// ToString returns the "x1 y1 ... x2 y2 ..." form accepted by ParseBox.
func (b Box) ToString() string {
	return b.P1.ToString() + " " + b.P2.ToString()
}

// ToOldFormatString returns the descriptor form "x1 x2 y1 y2 ..." with inclusive upper bounds.
func (b Box) ToOldFormatString() string {
	s := make([]string, 0, 2*len(b.P1))
	for i := range b.P1 {
		s = append(s, fmt.Sprintf("%d %d", b.P1[i], b.P2[i]-1))
	}
	return strings.Join(s, " ")
}
