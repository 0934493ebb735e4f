package idx

import (
	"math/big"
	"math/bits"

	"github.com/janelia-flyem/visus/visus"
)

// MaxFastResolution is the deepest level whose Z addresses fit a uint64.
const MaxFastResolution = 63

// HzOrder converts between points and hierarchical Z addresses for levels
// [0, maxh] of a bitmask.  Level H > 0 owns addresses [2^(H-1), 2^H) and
// level 0 owns address 0.
//
// Orders up to MaxFastResolution work on uint64 words; deeper ones go
// through math/big.  Both give the same HzAddr values.
type HzOrder struct {
	bitmask *Bitmask
	maxh    int
	pdim    int
}

// NewHzOrder returns the Hz order for bitmask levels up to maxh.
func NewHzOrder(bitmask *Bitmask, maxh int) *HzOrder {
	if maxh >= bitmask.Len() {
		maxh = bitmask.Len() - 1
	}
	return &HzOrder{bitmask: bitmask, maxh: maxh, pdim: bitmask.PointDim()}
}

func (h *HzOrder) MaxResolution() int {
	return h.maxh
}

func (h *HzOrder) Bitmask() *Bitmask {
	return h.bitmask
}

// Fast returns true if Z addresses fit in a uint64.
func (h *HzOrder) Fast() bool {
	return h.maxh <= MaxFastResolution
}

// Interleave returns the Z address of p.  Bit 0 of the address comes from
// axis bitmask[maxh].
func (h *HzOrder) Interleave(p visus.Point) HzAddr {
	if h.Fast() {
		return HzUint64(h.interleave64(p))
	}
	return normalize(h.interleaveBig(p))
}

func (h *HzOrder) interleave64(p visus.Point) uint64 {
	p = p.Clone()
	var z uint64
	for shift := 0; shift < h.maxh; shift++ {
		bit := h.bitmask.Bit(h.maxh - shift)
		z |= uint64(p[bit]&1) << uint(shift)
		p[bit] >>= 1
	}
	return z
}

func (h *HzOrder) interleaveBig(p visus.Point) *big.Int {
	p = p.Clone()
	z := new(big.Int)
	for shift := 0; shift < h.maxh; shift++ {
		bit := h.bitmask.Bit(h.maxh - shift)
		if p[bit]&1 == 1 {
			z.SetBit(z, shift, 1)
		}
		p[bit] >>= 1
	}
	return z
}

// Deinterleave is the inverse of Interleave.
func (h *HzOrder) Deinterleave(z HzAddr) visus.Point {
	if z.IsUint64() {
		return h.bitmask.Deinterleave(z.lo, h.maxh)
	}
	p := visus.NewPoint(h.pdim, 0)
	shift := make([]uint, h.pdim)
	n := z.wide.BitLen()
	for i := 0; i < n; i++ {
		bit := h.bitmask.Bit(h.maxh - i)
		if z.wide.Bit(i) == 1 {
			p[bit] |= 1 << shift[bit]
		}
		shift[bit]++
	}
	return p
}

// ZToHz converts a Z address to its Hz address: set bit maxh, drop the
// trailing zeros and one more bit.
func (h *HzOrder) ZToHz(z HzAddr) HzAddr {
	if h.Fast() {
		v := z.lo | uint64(1)<<uint(h.maxh)
		v >>= uint(bits.TrailingZeros64(v))
		return HzUint64(v >> 1)
	}
	v := z.Big()
	v.SetBit(v, h.maxh, 1)
	v.Rsh(v, v.TrailingZeroBits()+1)
	return normalize(v)
}

// HzToZ converts an Hz address to its Z address.
func (h *HzOrder) HzToZ(hz HzAddr) HzAddr {
	if h.Fast() {
		v := hz.lo<<1 | 1
		v <<= uint(h.maxh + 1 - bits.Len64(v))
		return HzUint64(v &^ (uint64(1) << uint(h.maxh)))
	}
	v := new(big.Int).Lsh(hz.big(), 1)
	v.SetBit(v, 0, 1)
	v.Lsh(v, uint(h.maxh+1-v.BitLen()))
	v.SetBit(v, h.maxh, 0)
	return normalize(v)
}

// GetAddress returns the Hz address of point p.
func (h *HzOrder) GetAddress(p visus.Point) HzAddr {
	return h.ZToHz(h.Interleave(p))
}

// GetPoint returns the point at Hz address hz.
func (h *HzOrder) GetPoint(hz HzAddr) visus.Point {
	return h.Deinterleave(h.HzToZ(hz))
}

// AddressResolution returns the level owning hz, i.e., its bit length.
func AddressResolution(hz HzAddr) int {
	return hz.BitLen()
}

// LevelDelta returns the spacing of samples at level H: all ones doubled on
// axis bitmask[K] for every K in [max(H,1), maxh].
func (h *HzOrder) LevelDelta(H int) visus.Point {
	delta := visus.PointOne(h.pdim)
	for K := h.maxh; K >= max(H, 1); K-- {
		delta[h.bitmask.Bit(K)] <<= 1
	}
	return delta
}

// LevelP1 returns the first sample of level H.
func (h *HzOrder) LevelP1(H int) visus.Point {
	if H == 0 {
		return visus.NewPoint(h.pdim, 0)
	}
	return h.Deinterleave(HzPow2(h.maxh - H))
}

// LevelP2Included returns the last sample of level H.
func (h *HzOrder) LevelP2Included(H int) visus.Point {
	if H == 0 {
		return visus.NewPoint(h.pdim, 0)
	}
	return h.Deinterleave(HzPow2(h.maxh).Sub(HzPow2(h.maxh - H)))
}

// LevelSamples returns the sampling grid of level H.
func (h *HzOrder) LevelSamples(H int) LogicSamples {
	delta := h.LevelDelta(H)
	box := visus.NewBox(h.LevelP1(H), h.LevelP2Included(H).Add(delta))
	return NewLogicSamples(box, delta)
}
