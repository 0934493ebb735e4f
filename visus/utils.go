package visus

import (
	"context"
	"errors"
	"math/bits"
	"sync/atomic"
)

// ErrAborted is returned by any operation that stopped because its Aborted token tripped.
var ErrAborted = errors.New("query aborted")

// Aborted is a cancellation token polled by long running queries.  It trips
// when Abort is called or when the wrapped context is done.  A nil *Aborted
// never trips.
type Aborted struct {
	ctx  context.Context
	flag int32
}

// NewAborted returns a token tied to ctx, which may be nil.
func NewAborted(ctx context.Context) *Aborted {
	return &Aborted{ctx: ctx}
}

// Abort trips the token.
func (a *Aborted) Abort() {
	if a != nil {
		atomic.StoreInt32(&a.flag, 1)
	}
}

// IsAborted returns true once the token has tripped.
func (a *Aborted) IsAborted() bool {
	if a == nil {
		return false
	}
	if atomic.LoadInt32(&a.flag) != 0 {
		return true
	}
	if a.ctx != nil && a.ctx.Err() != nil {
		return true
	}
	return false
}

// Context returns the wrapped context or context.Background().
func (a *Aborted) Context() context.Context {
	if a == nil || a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// AlignLeft returns the largest origin + k*step that is <= v.
func AlignLeft(v, origin, step int64) int64 {
	d := v - origin
	q := d / step
	if d%step != 0 && d < 0 {
		q--
	}
	return origin + q*step
}

// AlignRight returns the smallest origin + k*step that is >= v.
func AlignRight(v, origin, step int64) int64 {
	left := AlignLeft(v, origin, step)
	if left == v {
		return v
	}
	return left + step
}

// IsAligned returns true if v is origin + k*step.
func IsAligned(v, origin, step int64) bool {
	return AlignLeft(v, origin, step) == v
}

// IsPowerOf2 returns true for 1, 2, 4, ...
func IsPowerOf2(v int64) bool {
	return v > 0 && v&(v-1) == 0
}

// GetPowerOf2 returns the smallest power of 2 that is >= v.
func GetPowerOf2(v int64) int64 {
	if v <= 1 {
		return 1
	}
	return int64(1) << uint(bits.Len64(uint64(v-1)))
}

// Log2 returns floor(log2(v)) for v > 0 and 0 otherwise.
func Log2(v int64) int {
	if v <= 0 {
		return 0
	}
	return bits.Len64(uint64(v)) - 1
}
