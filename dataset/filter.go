package dataset

import (
	"context"
	"fmt"
	"math"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// Filter is a two-sample transform applied between consecutive levels.
// Direct turns samples a and b of a buffer into a coarse and a detail
// sample; Inverse undoes it.
type Filter interface {
	Name() string
	Size() int
	Direct(buf *array.Array, a, b int64)
	Inverse(buf *array.Array, a, b int64)
}

// NewFilter returns the filter named by the field.
func NewFilter(field idx.Field) (Filter, error) {
	dtype := field.DType
	t := dtype.T
	n := dtype.NComponents
	plain := t == visus.T_uint8 || t == visus.T_uint16 || t == visus.T_int64 || t == visus.T_float32 || t == visus.T_float64
	switch field.Filter {
	case "identity", "IdentityFilter":
		if plain {
			return identityFilter{}, nil
		}
	case "min", "MinFilter":
		if plain && n > 1 {
			return swapFilter{name: "min", n: n, keepMin: true}, nil
		}
	case "max", "MaxFilter":
		if plain && n > 1 {
			return swapFilter{name: "max", n: n}, nil
		}
	case "discretedehaar", "DeHaarDiscreteFilter":
		if (t == visus.T_uint8 || t == visus.T_uint16) && n > 1 {
			return discreteDeHaar{n: n}, nil
		}
	case "continuousdehaar", "DeHaarContinuousFilter":
		if t.IsFloat() {
			return continuousDeHaar{n: n}, nil
		}
	case "wavelet", "dehaar":
		if (t == visus.T_uint8 || t == visus.T_uint16) && n > 1 {
			return discreteDeHaar{n: n}, nil
		}
		if t.IsFloat() {
			return continuousDeHaar{n: n}, nil
		}
	}
	return nil, fmt.Errorf("cannot create filter %q for %s", field.Filter, dtype)
}

type identityFilter struct{}

func (identityFilter) Name() string                         { return "identity" }
func (identityFilter) Size() int                            { return 2 }
func (identityFilter) Direct(buf *array.Array, a, b int64)  {}
func (identityFilter) Inverse(buf *array.Array, a, b int64) {}

// swapFilter moves the min (or max) of every component pair into a and
// records swaps as bits of the last component of b.
type swapFilter struct {
	name    string
	n       int
	keepMin bool
}

func (f swapFilter) Name() string { return f.name }
func (f swapFilter) Size() int    { return 2 }

func (f swapFilter) Direct(buf *array.Array, a, b int64) {
	var signs uint64
	for N := 0; N < f.n-1; N++ {
		va, vb := buf.Get(a, N), buf.Get(b, N)
		lo, hi := math.Min(va, vb), math.Max(va, vb)
		first, second := hi, lo
		if f.keepMin {
			first, second = lo, hi
		}
		if first != va {
			signs |= 1 << uint(N)
		}
		buf.Set(a, N, first)
		buf.Set(b, N, second)
	}
	buf.Set(a, f.n-1, 0)
	buf.Set(b, f.n-1, float64(signs))
}

func (f swapFilter) Inverse(buf *array.Array, a, b int64) {
	signs := uint64(buf.Get(b, f.n-1))
	for N := 0; N < f.n-1; N++ {
		if signs&(1<<uint(N)) == 0 {
			continue
		}
		va, vb := buf.Get(a, N), buf.Get(b, N)
		buf.Set(a, N, vb)
		buf.Set(b, N, va)
	}
	buf.Set(a, f.n-1, 0)
	buf.Set(b, f.n-1, 0)
}

// discreteDeHaar is the integer Haar transform.  The sign of every detail
// is kept as a bit of the last component of b.
type discreteDeHaar struct {
	n int
}

func (discreteDeHaar) Name() string { return "discretedehaar" }
func (discreteDeHaar) Size() int    { return 2 }

func (f discreteDeHaar) Direct(buf *array.Array, a, b int64) {
	var signs uint64
	for N := 0; N < f.n-1; N++ {
		va, vb := int64(buf.Get(a, N)), int64(buf.Get(b, N))
		low := (va + vb) >> 1
		high := va - vb
		if high < 0 {
			high = -high
			signs |= 1 << uint(N)
		}
		buf.Set(a, N, float64(low))
		buf.Set(b, N, float64(high))
	}
	buf.Set(a, f.n-1, 0)
	buf.Set(b, f.n-1, float64(signs))
}

func (f discreteDeHaar) Inverse(buf *array.Array, a, b int64) {
	signs := uint64(buf.Get(b, f.n-1))
	for N := 0; N < f.n-1; N++ {
		low, high := int64(buf.Get(a, N)), int64(buf.Get(b, N))
		base := low<<1 + high&1
		if signs&(1<<uint(N)) != 0 {
			high = -high
		}
		buf.Set(a, N, float64((base+high)>>1))
		buf.Set(b, N, float64((base-high)>>1))
	}
	buf.Set(a, f.n-1, 0)
	buf.Set(b, f.n-1, 0)
}

type continuousDeHaar struct {
	n int
}

func (continuousDeHaar) Name() string { return "continuousdehaar" }
func (continuousDeHaar) Size() int    { return 2 }

func (f continuousDeHaar) Direct(buf *array.Array, a, b int64) {
	for N := 0; N < f.n; N++ {
		va, vb := buf.Get(a, N), buf.Get(b, N)
		buf.Set(a, N, 0.5*(va+vb))
		buf.Set(b, N, 0.5*(va-vb))
	}
}

func (f continuousDeHaar) Inverse(buf *array.Array, a, b int64) {
	for N := 0; N < f.n; N++ {
		low, high := buf.Get(a, N), buf.Get(b, N)
		buf.Set(a, N, low+high)
		buf.Set(b, N, low-high)
	}
}

// FilterStep returns, per axis, the logic extent of the sample groups the
// filter combines at level H.
func (d *Dataset) FilterStep(H int) visus.Point {
	step := d.File.Bitmask.Pow2Dims()
	for K := 0; K < H; K++ {
		if K == 0 {
			for D := range step {
				step[D] >>= 1
			}
			continue
		}
		step[d.File.Bitmask.Bit(K)] >>= 1
	}
	for D := range step {
		step[D] = max(1, step[D]*2)
	}
	return step
}

// adjustFilterBox grows box so that every filter group at level H is
// complete, staying inside the filter domain.
func (d *Dataset) adjustFilterBox(q *BoxQuery, box visus.Box, H int) visus.Box {
	domain := q.Filter.Domain
	if !domain.Valid() {
		domain = d.File.Box
	}
	box = box.Intersection(domain)
	if !box.IsFullDim() {
		return box
	}
	fs := d.FilterStep(H)
	for D := range fs {
		if fs[D] <= 1 {
			continue
		}
		box.P1[D] = visus.AlignLeft(box.P1[D], 0, fs[D])
		box.P2[D] = visus.AlignLeft(box.P2[D]-1, 0, fs[D]) + fs[D]
	}
	return box.Intersection(domain)
}

// ComputeFilter applies the filter of q, or its inverse, to the level
// pairs of q.CurResolution in the query buffer.
func (d *Dataset) ComputeFilter(q *BoxQuery, filter Filter, inverse bool) error {
	H := q.CurResolution
	if H <= 0 {
		return nil
	}
	ls := q.LogicSamples
	bit := d.File.Bitmask.Bit(H)
	dims := q.Buffer.Dims
	stride := dims.Stride()
	size := int64(filter.Size())
	fs := d.FilterStep(H)
	if dims[bit] < size {
		return nil
	}
	domain := q.Filter.Domain
	if !domain.Valid() {
		domain = d.File.Box
	}
	box := ls.Box.Intersection(domain)
	if !box.IsFullDim() {
		return nil
	}
	for D := range fs {
		FS := fs[D]
		if FS == 1 {
			continue
		}
		P1incl := visus.AlignLeft(box.P1[D], 0, FS)
		P2incl := visus.AlignLeft(box.P2[D]-1, 0, FS)
		if D == bit {
			// the whole group must be there
			P2incl += FS - FS/size
		}
		if P1incl < box.P1[D] {
			P1incl += FS
		}
		if P2incl >= box.P2[D] {
			P2incl -= FS
		}
		box.P1[D] = P1incl
		box.P2[D] = P2incl + ls.Delta[D]
	}
	if !box.IsFullDim() {
		return nil
	}

	from := ls.LogicToPixel(box.P1)
	to := ls.LogicToPixel(box.P2)
	step := fs.RightShift(ls.Shift)
	for D := range step {
		step[D] = max(1, step[D])
	}
	FROM, TO, STEP := from[bit], to[bit], step[bit]
	to[bit] = FROM + 1
	step[bit] = 1

	window := STEP * stride[bit]
	next := window / size
	var err error
	visus.ForEachPoint(from, to, step, func(p visus.Point) bool {
		if q.Aborted.IsAborted() {
			err = visus.ErrAborted
			return false
		}
		a := p.Dot(stride)
		for loc := FROM; loc < TO; loc += STEP {
			if inverse {
				filter.Inverse(q.Buffer, a, a+next)
			} else {
				filter.Direct(q.Buffer, a, a+next)
			}
			a += window
		}
		return true
	})
	return err
}

// executeFilteredBoxQuery reads one level at a time, undoing the filter of
// each level before moving to the next.
func (d *Dataset) executeFilteredBoxQuery(ctx context.Context, access storage.Access, q *BoxQuery) error {
	for H := q.CurResolution + 1; H <= q.EndResolution; H++ {
		if q.Aborted.IsAborted() || ctx.Err() != nil {
			return q.setFailed(visus.ErrAborted)
		}
		w := d.CreateBoxQuery(d.adjustFilterBox(q, q.Box, H), q.Field, q.Time, storage.ModeRead, q.Aborted)
		w.Filter.Enabled = false
		w.Filter.Domain = q.Filter.Domain
		w.EndResolutions = []int{H}
		if err := d.BeginBoxQuery(w); err != nil || !w.Running() {
			continue
		}
		if prev := q.Filter.query; prev != nil && prev.Buffer != nil {
			w.allocBuffer()
			mergeSamples(w.LogicSamples, w.Buffer, prev.LogicSamples, prev.Buffer, InsertSamples, q.Aborted)
			w.CurResolution = prev.CurResolution
		}
		if w.CurResolution < w.EndResolution {
			if err := d.ExecuteBoxQuery(ctx, access, w); err != nil {
				return q.setFailed(err)
			}
		}
		if err := d.ComputeFilter(w, q.Filter.filter, true); err != nil {
			return q.setFailed(err)
		}
		q.Filter.query = w
	}
	if q.Filter.query == nil {
		return q.setFailed(ErrWrongPosition)
	}
	q.LogicSamples = q.Filter.query.LogicSamples
	q.Buffer = q.Filter.query.Buffer
	q.CurResolution = q.EndResolution
	return nil
}

// ComputeFilterOnDataset applies the field filter to stored data, from the
// finest level to the coarsest, one sliding window at a time.  A nil window
// covers the whole dataset.
func (d *Dataset) ComputeFilterOnDataset(ctx context.Context, access storage.Access, field idx.Field, time float64, window visus.Point) error {
	filter, err := NewFilter(field)
	if err != nil {
		return err
	}
	if filter.Size() != 2 {
		return fmt.Errorf("filter %q has size %d, only 2 supported", filter.Name(), filter.Size())
	}
	if window == nil {
		window = d.File.Bitmask.Pow2Dims()
	}
	window = window.Clone()
	for D, size := range window {
		if size != 1 && size%2 != 0 {
			return fmt.Errorf("filter window %s must be even", window)
		}
		window[D] = max(1, size)
	}
	box := d.File.Box
	for H := d.maxh; H >= 1; H-- {
		timedLog := visus.NewTimeLog()
		bit := d.File.Bitmask.Bit(H)
		FS := d.FilterStep(H)[bit]
		from := box.P1.Clone()
		if !visus.IsAligned(from[bit], 0, FS) {
			from[bit] = visus.AlignLeft(from[bit], 0, FS) + FS
		}
		var werr error
		visus.ForEachPoint(from, box.P2, window, func(p visus.Point) bool {
			sliding := visus.NewBox(p.Clone(), p.Add(window)).Intersection(box)
			if !sliding.IsFullDim() {
				return true
			}
			werr = d.filterWindow(ctx, access, field, time, filter, sliding, H)
			return werr == nil
		})
		if werr != nil {
			return werr
		}
		timedLog.Infof("Applied filter %q to resolution %d of field %q", filter.Name(), H, field.Name)
		window[bit] <<= 1
	}
	return nil
}

func (d *Dataset) filterWindow(ctx context.Context, access storage.Access, field idx.Field, time float64, filter Filter, box visus.Box, H int) error {
	read := d.CreateBoxQuery(box, field, time, storage.ModeRead, nil)
	read.Filter.Enabled = false
	read.EndResolutions = []int{H}
	if err := d.BeginBoxQuery(read); err != nil {
		return err
	}
	if err := d.ExecuteBoxQuery(ctx, access, read); err != nil {
		return err
	}
	if err := d.ComputeFilter(read, filter, false); err != nil {
		return err
	}

	write := d.CreateBoxQuery(box, field, time, storage.ModeWrite, nil)
	write.EndResolutions = []int{H}
	if err := d.BeginBoxQuery(write); err != nil {
		return err
	}
	write.Buffer = read.Buffer
	return d.ExecuteBoxQuery(ctx, access, write)
}
