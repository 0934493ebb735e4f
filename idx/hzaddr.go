package idx

import (
	"fmt"
	"math/big"
	"math/bits"
)

// HzAddr is an Hz address of any width.  Addresses below 2^64 are kept in a
// uint64 and never allocate; wider ones are held in a *big.Int that is never
// modified once the value is built.  The zero value is address 0.
//
// Results of arithmetic are undefined if they would be negative.
type HzAddr struct {
	lo   uint64
	wide *big.Int // nil when the address fits lo
}

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// HzUint64 returns the address v.
func HzUint64(v uint64) HzAddr {
	return HzAddr{lo: v}
}

// HzPow2 returns the address 2^n.
func HzPow2(n int) HzAddr {
	if n < 64 {
		return HzAddr{lo: uint64(1) << uint(n)}
	}
	return HzAddr{wide: new(big.Int).Lsh(big.NewInt(1), uint(n))}
}

// HzFromBig returns the address v, which must not be negative.
func HzFromBig(v *big.Int) HzAddr {
	return normalize(new(big.Int).Set(v))
}

// ParseHzAddr parses a decimal address.
func ParseHzAddr(s string) (HzAddr, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return HzAddr{}, fmt.Errorf("bad hz address %q", s)
	}
	return normalize(v), nil
}

func normalize(v *big.Int) HzAddr {
	if v.IsUint64() {
		return HzAddr{lo: v.Uint64()}
	}
	return HzAddr{wide: v}
}

func (a HzAddr) big() *big.Int {
	if a.wide != nil {
		return a.wide
	}
	return new(big.Int).SetUint64(a.lo)
}

// Big returns a copy of the address as a big.Int.
func (a HzAddr) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// IsUint64 returns true if the address fits 64 bits.
func (a HzAddr) IsUint64() bool {
	return a.wide == nil
}

// Uint64 returns the low 64 bits of the address.
func (a HzAddr) Uint64() uint64 {
	if a.wide == nil {
		return a.lo
	}
	return new(big.Int).And(a.wide, maxUint64).Uint64()
}

func (a HzAddr) IsZero() bool {
	return a.wide == nil && a.lo == 0
}

// BitLen returns the number of significant bits.  BitLen of 0 is 0.
func (a HzAddr) BitLen() int {
	if a.wide == nil {
		return bits.Len64(a.lo)
	}
	return a.wide.BitLen()
}

// Cmp returns -1, 0 or +1 as a is less than, equal to or greater than b.
func (a HzAddr) Cmp(b HzAddr) int {
	if a.wide == nil && b.wide == nil {
		switch {
		case a.lo < b.lo:
			return -1
		case a.lo > b.lo:
			return 1
		}
		return 0
	}
	return a.big().Cmp(b.big())
}

func (a HzAddr) Equal(b HzAddr) bool {
	return a.Cmp(b) == 0
}

func (a HzAddr) Add(b HzAddr) HzAddr {
	if a.wide == nil && b.wide == nil {
		sum, carry := bits.Add64(a.lo, b.lo, 0)
		if carry == 0 {
			return HzAddr{lo: sum}
		}
	}
	return normalize(new(big.Int).Add(a.big(), b.big()))
}

func (a HzAddr) AddUint64(v uint64) HzAddr {
	return a.Add(HzAddr{lo: v})
}

func (a HzAddr) Sub(b HzAddr) HzAddr {
	if a.wide == nil && b.wide == nil && a.lo >= b.lo {
		return HzAddr{lo: a.lo - b.lo}
	}
	return normalize(new(big.Int).Sub(a.big(), b.big()))
}

func (a HzAddr) SubUint64(v uint64) HzAddr {
	return a.Sub(HzAddr{lo: v})
}

func (a HzAddr) Lsh(n uint) HzAddr {
	if a.wide == nil && (a.lo == 0 || bits.Len64(a.lo)+int(n) <= 64) {
		if a.lo == 0 {
			return a
		}
		return HzAddr{lo: a.lo << n}
	}
	return normalize(new(big.Int).Lsh(a.big(), n))
}

func (a HzAddr) Rsh(n uint) HzAddr {
	if a.wide == nil {
		if n >= 64 {
			return HzAddr{}
		}
		return HzAddr{lo: a.lo >> n}
	}
	return normalize(new(big.Int).Rsh(a.wide, n))
}

// Or returns the bitwise or of a and b.
func (a HzAddr) Or(b HzAddr) HzAddr {
	if a.wide == nil && b.wide == nil {
		return HzAddr{lo: a.lo | b.lo}
	}
	return normalize(new(big.Int).Or(a.big(), b.big()))
}

// Low returns the lowest n bits of the address, n <= 64.
func (a HzAddr) Low(n uint) uint64 {
	v := a.Uint64()
	if n >= 64 {
		return v
	}
	return v & (uint64(1)<<n - 1)
}

func (a HzAddr) String() string {
	if a.wide == nil {
		return fmt.Sprintf("%d", a.lo)
	}
	return a.wide.String()
}
