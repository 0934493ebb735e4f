package visus

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is an N-dimensional integer coordinate in the logic grid of a dataset.
// All binary operations require points of equal dimension.
type Point []int64

// NewPoint returns a point of the given dimension with all coordinates set to v.
func NewPoint(pdim int, v int64) Point {
	p := make(Point, pdim)
	for i := range p {
		p[i] = v
	}
	return p
}

// PointOne returns a point of dimension pdim with all coordinates set to 1.
func PointOne(pdim int) Point {
	return NewPoint(pdim, 1)
}

// ParsePoint parses a space or comma separated list of integers.
func ParsePoint(s string) (Point, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty point string")
	}
	p := make(Point, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad point coordinate %q: %v", f, err)
		}
		p[i] = v
	}
	return p, nil
}

func (p Point) NumDims() int {
	return len(p)
}

func (p Point) Clone() Point {
	c := make(Point, len(p))
	copy(c, p)
	return c
}

// WithPointDim returns a copy of p truncated or padded with fill to pdim dimensions.
func (p Point) WithPointDim(pdim int, fill int64) Point {
	c := NewPoint(pdim, fill)
	copy(c, p)
	return c
}

func (p Point) Equal(x Point) bool {
	if len(p) != len(x) {
		return false
	}
	for i := range p {
		if p[i] != x[i] {
			return false
		}
	}
	return true
}

func (p Point) Add(x Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i] + x[i]
	}
	return result
}

func (p Point) Sub(x Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i] - x[i]
	}
	return result
}

// Mult returns the per-axis product.
func (p Point) Mult(x Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i] * x[i]
	}
	return result
}

// Div returns the per-axis integer quotient.
func (p Point) Div(x Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i] / x[i]
	}
	return result
}

func (p Point) AddScalar(v int64) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i] + v
	}
	return result
}

func (p Point) LeftShift(s Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i] << uint(s[i])
	}
	return result
}

func (p Point) RightShift(s Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i] >> uint(s[i])
	}
	return result
}

func (p Point) Min(x Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i]
		if x[i] < result[i] {
			result[i] = x[i]
		}
	}
	return result
}

func (p Point) Max(x Point) Point {
	result := make(Point, len(p))
	for i := range p {
		result[i] = p[i]
		if x[i] > result[i] {
			result[i] = x[i]
		}
	}
	return result
}

// Dot returns the inner product of the two points.
func (p Point) Dot(x Point) int64 {
	var v int64
	for i := range p {
		v += p[i] * x[i]
	}
	return v
}

// Prod returns the product of all coordinates, e.g., the number of samples for a dims point.
func (p Point) Prod() int64 {
	if len(p) == 0 {
		return 0
	}
	v := int64(1)
	for _, c := range p {
		v *= c
	}
	return v
}

// Stride returns the row-major strides for a dims point, with the first axis fastest.
func (p Point) Stride() Point {
	s := make(Point, len(p))
	v := int64(1)
	for i := range p {
		s[i] = v
		v *= p[i]
	}
	return s
}

// AllPositive returns true if every coordinate is > 0.
func (p Point) AllPositive() bool {
	if len(p) == 0 {
		return false
	}
	for _, c := range p {
		if c <= 0 {
			return false
		}
	}
	return true
}

func (p Point) String() string {
	s := make([]string, len(p))
	for i, c := range p {
		s[i] = strconv.FormatInt(c, 10)
	}
	return "(" + strings.Join(s, ",") + ")"
}

// ToString returns the space separated form used by descriptors and URLs.
func (p Point) ToString() string {
	s := make([]string, len(p))
	for i, c := range p {
		s[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(s, " ")
}

// ForEachPoint iterates over all points of [from, to) with the given step, first axis fastest.
// Iteration stops early if fn returns false.  The point passed to fn is reused between calls.
func ForEachPoint(from, to, step Point, fn func(p Point) bool) {
	pdim := len(from)
	for i := 0; i < pdim; i++ {
		if from[i] >= to[i] {
			return
		}
	}
	p := from.Clone()
	for {
		if !fn(p) {
			return
		}
		i := 0
		for ; i < pdim; i++ {
			p[i] += step[i]
			if p[i] < to[i] {
				break
			}
			p[i] = from[i]
		}
		if i == pdim {
			return
		}
	}
}
