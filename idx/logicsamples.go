package idx

import (
	"fmt"

	"github.com/janelia-flyem/visus/visus"
)

// LogicSamples is a regular grid of samples in logic coordinates: the points
// Box.P1 + k*Delta inside Box.  Every delta is a power of 2.
type LogicSamples struct {
	Box      visus.Box
	Delta    visus.Point
	Shift    visus.Point
	NSamples visus.Point
}

// NewLogicSamples returns the grid over box with the given spacing.  The result
// is invalid if the box is not a whole number of deltas.
func NewLogicSamples(box visus.Box, delta visus.Point) LogicSamples {
	pdim := len(delta)
	s := LogicSamples{
		Box:      box.Clone(),
		Delta:    delta.Clone(),
		Shift:    make(visus.Point, pdim),
		NSamples: make(visus.Point, pdim),
	}
	if !box.Valid() || box.NumDims() != pdim {
		return s
	}
	for D := 0; D < pdim; D++ {
		if !visus.IsPowerOf2(delta[D]) {
			return LogicSamples{}
		}
		s.Shift[D] = int64(visus.Log2(delta[D]))
		size := box.P2[D] - box.P1[D]
		if size%delta[D] != 0 {
			s.NSamples[D] = 0
			continue
		}
		s.NSamples[D] = size >> uint(s.Shift[D])
	}
	return s
}

// Valid returns true if there is at least one sample along every axis.
func (s LogicSamples) Valid() bool {
	return s.NSamples.AllPositive()
}

// NumDims returns the point dimension.
func (s LogicSamples) NumDims() int {
	return len(s.Delta)
}

// Total returns the total number of samples.
func (s LogicSamples) Total() int64 {
	return s.NSamples.Prod()
}

// LogicToPixel maps a logic position on the grid to its sample index.
func (s LogicSamples) LogicToPixel(p visus.Point) visus.Point {
	return p.Sub(s.Box.P1).RightShift(s.Shift)
}

// PixelToLogic maps a sample index to its logic position.
func (s LogicSamples) PixelToLogic(p visus.Point) visus.Point {
	return s.Box.P1.Add(p.LeftShift(s.Shift))
}

// AlignBox returns the part of box that is on the grid, with both corners
// aligned to it.  The result is not full-dim if no sample falls inside box.
func (s LogicSamples) AlignBox(box visus.Box) visus.Box {
	if !s.Valid() {
		return visus.InvalidBox()
	}
	box = box.Intersection(s.Box)
	if !box.IsFullDim() {
		return box
	}
	for D := range s.Delta {
		box.P1[D] = visus.AlignRight(box.P1[D], s.Box.P1[D], s.Delta[D])
		box.P2[D] = visus.AlignRight(box.P2[D], s.Box.P1[D], s.Delta[D])
	}
	return box
}

// Equal returns true for identical grids.
func (s LogicSamples) Equal(o LogicSamples) bool {
	return s.Box.Equal(o.Box) && s.Delta.Equal(o.Delta)
}

func (s LogicSamples) String() string {
	return fmt.Sprintf("%s delta %s nsamples %s", s.Box, s.Delta, s.NSamples)
}
