package array

import (
	"fmt"

	"github.com/janelia-flyem/visus/visus"
)

func numSteps(from, to, step int64) int64 {
	if to <= from || step <= 0 {
		return 0
	}
	return (to - from + step - 1) / step
}

// Insert copies samples from r into w walking both grids in lockstep:
// w[wfrom + k*wstep] = r[rfrom + k*rstep] for every k that stays inside both
// [wfrom, wto) and [rfrom, rto).  Returns false if nothing could be copied or
// the operation was aborted.
func Insert(w *Array, wfrom, wto, wstep visus.Point, r *Array, rfrom, rto, rstep visus.Point, aborted *visus.Aborted) bool {
	if !w.Valid() || !r.Valid() || len(w.Dims) != len(r.Dims) {
		return false
	}
	sb := int64(w.DType.SampleBytes())
	if sb != int64(r.DType.SampleBytes()) {
		return false
	}
	pdim := len(w.Dims)
	count := make(visus.Point, pdim)
	for d := 0; d < pdim; d++ {
		count[d] = min(numSteps(wfrom[d], wto[d], wstep[d]), numSteps(rfrom[d], rto[d], rstep[d]))
		if count[d] <= 0 {
			return false
		}
	}
	wstride := w.Dims.Stride()
	rstride := r.Dims.Stride()
	winc := wstep[0] * wstride[0] * sb
	rinc := rstep[0] * rstride[0] * sb

	outer := count.Clone()
	outer[0] = 1
	ok := true
	visus.ForEachPoint(visus.NewPoint(pdim, 0), outer, visus.PointOne(pdim), func(k visus.Point) bool {
		if aborted.IsAborted() {
			ok = false
			return false
		}
		var wi, ri int64
		for d := 1; d < pdim; d++ {
			wi += (wfrom[d] + k[d]*wstep[d]) * wstride[d]
			ri += (rfrom[d] + k[d]*rstep[d]) * rstride[d]
		}
		wi = (wi + wfrom[0]) * sb
		ri = (ri + rfrom[0]) * sb
		for n := int64(0); n < count[0]; n++ {
			copy(w.Heap[wi:wi+sb], r.Heap[ri:ri+sb])
			wi += winc
			ri += rinc
		}
		return true
	})
	return ok
}

// Interpolate fills every sample of w with its nearest neighbour in r.  Both
// arrays sample the same logic space: pixel i of an array covers logic
// coordinate p1 + (i << shift).
func Interpolate(w *Array, wp1, wshift visus.Point, r *Array, rp1, rshift visus.Point, aborted *visus.Aborted) error {
	if !w.Valid() || !r.Valid() || len(w.Dims) != len(r.Dims) {
		return fmt.Errorf("cannot interpolate %v from %v", w, r)
	}
	if w.DType != r.DType {
		return fmt.Errorf("cannot interpolate %s from %s", w.DType, r.DType)
	}
	pdim := len(w.Dims)
	rstride := r.Dims.Stride()

	// per-axis lookup of source offsets
	lookup := make([][]int64, pdim)
	for d := 0; d < pdim; d++ {
		lookup[d] = make([]int64, w.Dims[d])
		for i := int64(0); i < w.Dims[d]; i++ {
			logic := wp1[d] + (i << uint(wshift[d]))
			ri := (logic - rp1[d]) >> uint(rshift[d])
			ri = max(0, min(ri, r.Dims[d]-1))
			lookup[d][i] = ri * rstride[d]
		}
	}
	sb := int64(w.DType.SampleBytes())
	var windex int64
	var err error
	visus.ForEachPoint(visus.NewPoint(pdim, 0), w.Dims, visus.PointOne(pdim), func(p visus.Point) bool {
		if p[0] == 0 && aborted.IsAborted() {
			err = visus.ErrAborted
			return false
		}
		var rindex int64
		for d := 0; d < pdim; d++ {
			rindex += lookup[d][p[d]]
		}
		copy(w.Heap[windex*sb:(windex+1)*sb], r.Heap[rindex*sb:(rindex+1)*sb])
		windex++
		return true
	})
	return err
}

// Resample returns a copy of a with new dims using nearest neighbour sampling.
func Resample(a *Array, dims visus.Point) (*Array, error) {
	if len(dims) != len(a.Dims) {
		return nil, fmt.Errorf("cannot resample %s to %s", a.Dims, dims)
	}
	if a.Dims.Equal(dims) {
		return a.Clone(), nil
	}
	out := New(dims, a.DType)
	pdim := len(dims)
	stride := a.Dims.Stride()
	sb := int64(a.DType.SampleBytes())
	var windex int64
	visus.ForEachPoint(visus.NewPoint(pdim, 0), dims, visus.PointOne(pdim), func(p visus.Point) bool {
		var rindex int64
		for d := 0; d < pdim; d++ {
			rindex += (p[d] * a.Dims[d] / dims[d]) * stride[d]
		}
		copy(out.Heap[windex*sb:(windex+1)*sb], a.Heap[rindex*sb:(rindex+1)*sb])
		windex++
		return true
	})
	return out, nil
}
