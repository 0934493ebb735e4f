/*
	Package idx holds the IDX format level: the bitmask that drives the
	hierarchical Z (Hz) space filling curve, Hz address conversion, level
	sampling grids and the text descriptor of a dataset.
*/
package idx

import (
	"fmt"
	"strings"

	"github.com/janelia-flyem/visus/visus"
)

// MaxBitmaskLen is the maximum number of exploded bitmask entries, including
// the leading V sentinel.
const MaxBitmaskLen = 512

// Bitmask gives, for each resolution level, the axis that gets refined.  A
// pattern like "V0101" refines x, y, x, y while "V01{01}*" repeats the
// parenthesized part.  Entry 0 is the V sentinel and is stored as -1.
type Bitmask struct {
	pattern       string
	bits          []int
	maxResolution int
	pdim          int
	pow2Dims      visus.Point
}

// ParseBitmask parses a bitmask pattern.
func ParseBitmask(pattern string) (*Bitmask, error) {
	pattern = strings.TrimSpace(pattern)
	if len(pattern) == 0 || pattern[0] != 'V' {
		return nil, fmt.Errorf("bad bitmask %q: must start with V", pattern)
	}
	regular, regex := pattern, ""
	if a := strings.Index(pattern, "{"); a >= 0 {
		if !strings.HasSuffix(pattern, "}*") {
			return nil, fmt.Errorf("bad bitmask %q: expected trailing }*", pattern)
		}
		regular = pattern[:a]
		regex = pattern[a+1 : len(pattern)-2]
		if len(regex) == 0 {
			return nil, fmt.Errorf("bad bitmask %q: empty repeat", pattern)
		}
	}
	b := &Bitmask{pattern: pattern, bits: []int{-1}}
	for _, ch := range regular[1:] {
		if ch < '0' || ch > '9' {
			return nil, fmt.Errorf("bad bitmask %q: unexpected %q", pattern, ch)
		}
		bit := int(ch - '0')
		b.bits = append(b.bits, bit)
		b.pdim = max(b.pdim, bit+1)
	}
	b.maxResolution = len(b.bits) - 1
	for i := 0; len(regex) > 0 && len(b.bits) < MaxBitmaskLen; i++ {
		ch := regex[i%len(regex)]
		if ch < '0' || ch > '9' {
			return nil, fmt.Errorf("bad bitmask %q: unexpected %q", pattern, ch)
		}
		bit := int(ch - '0')
		b.bits = append(b.bits, bit)
		b.pdim = max(b.pdim, bit+1)
	}
	if b.pdim == 0 {
		return nil, fmt.Errorf("bad bitmask %q: no axis", pattern)
	}
	b.pow2Dims = visus.PointOne(b.pdim)
	for _, bit := range b.bits[1 : b.maxResolution+1] {
		b.pow2Dims[bit] <<= 1
	}
	return b, nil
}

// MustParseBitmask is like ParseBitmask but panics on error.  Only useful for
// constants in tests and tools.
func MustParseBitmask(pattern string) *Bitmask {
	b, err := ParseBitmask(pattern)
	if err != nil {
		panic(err)
	}
	return b
}

// GuessBitmask returns the bitmask for the given dims that becomes regular
// as soon as possible, e.g., (8,2) gives V0001.  Each dim is first rounded up
// to a power of 2.
func GuessBitmask(dims visus.Point) (*Bitmask, error) {
	pdim := len(dims)
	d := make(visus.Point, pdim)
	for i := range dims {
		d[i] = visus.GetPowerOf2(dims[i])
	}
	var rev []byte
	for !d.Equal(visus.PointOne(pdim)) {
		for D := pdim - 1; D >= 0; D-- {
			if d[D] > 1 {
				rev = append(rev, byte('0'+D))
				d[D] >>= 1
			}
		}
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return ParseBitmask("V" + string(rev))
}

func (b *Bitmask) String() string {
	return b.pattern
}

// Bit returns the axis refined at level H.  Bit(0) is -1.
func (b *Bitmask) Bit(H int) int {
	return b.bits[H]
}

// MaxResolution returns the number of regular entries, excluding the V.
func (b *Bitmask) MaxResolution() int {
	return b.maxResolution
}

// HasRegex returns true if the pattern has a repeated suffix.
func (b *Bitmask) HasRegex() bool {
	return len(b.bits) > b.maxResolution+1
}

// Len returns the number of exploded entries including the V sentinel.
func (b *Bitmask) Len() int {
	return len(b.bits)
}

// PointDim returns the number of axes, i.e., the largest axis index + 1.
func (b *Bitmask) PointDim() int {
	return b.pdim
}

// Pow2Dims returns, per axis, 2 raised to the number of regular entries for that axis.
func (b *Bitmask) Pow2Dims() visus.Point {
	return b.pow2Dims.Clone()
}

// Pow2Box returns the box [0, Pow2Dims).
func (b *Bitmask) Pow2Box() visus.Box {
	return visus.NewBox(visus.NewPoint(b.pdim, 0), b.pow2Dims.Clone())
}

// UpgradeBox doubles the box on the axes of every repeated level in
// (MaxResolution, maxh].
func (b *Bitmask) UpgradeBox(box visus.Box, maxh int) visus.Box {
	if maxh <= b.maxResolution {
		return box
	}
	box = box.Clone()
	for M := b.maxResolution + 1; M <= maxh && M < len(b.bits); M++ {
		bit := b.bits[M]
		box.P1[bit] <<= 1
		box.P2[bit] <<= 1
	}
	return box
}

// Deinterleave converts the low address of a Z curve over levels
// (maxh - #bits(z), maxh] back into a point.
func (b *Bitmask) Deinterleave(z uint64, maxh int) visus.Point {
	p := visus.NewPoint(b.pdim, 0)
	shift := make([]uint, b.pdim)
	for ; z != 0; z >>= 1 {
		bit := b.bits[maxh]
		if z&1 == 1 {
			p[bit] |= 1 << shift[bit]
		}
		shift[bit]++
		maxh--
	}
	return p
}

// Equal returns true if both bitmasks share the same pattern.
func (b *Bitmask) Equal(o *Bitmask) bool {
	return b != nil && o != nil && b.pattern == o.pattern
}
