package dataset

import (
	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// MergeMode tells how samples of a coarser grid land on a finer one.
type MergeMode int

const (
	// InsertSamples copies only the samples both grids share.
	InsertSamples MergeMode = iota

	// InterpolateSamples also fills the write samples missing from the read
	// grid with their nearest lower neighbour.
	InterpolateSamples
)

func (m MergeMode) String() string {
	if m == InterpolateSamples {
		return "interpolate"
	}
	return "insert"
}

// mergeSamples copies the samples of r on grid rls into w on grid wls where
// the grids meet.  Returns false if there was nothing to copy or the merge
// was aborted.
func mergeSamples(wls idx.LogicSamples, w *array.Array, rls idx.LogicSamples, r *array.Array, mode MergeMode, aborted *visus.Aborted) bool {
	if !wls.Valid() || !rls.Valid() || !w.Valid() || !r.Valid() || w.DType != r.DType {
		return false
	}
	box := wls.Box.Intersection(rls.Box)
	if !box.IsFullDim() {
		return false
	}
	pdim := wls.NumDims()
	delta := make(visus.Point, pdim)
	for D := 0; D < pdim; D++ {
		// deltas are powers of 2
		lcm := max(wls.Delta[D], rls.Delta[D])
		P1, P2 := box.P1[D], box.P2[D]
		for !visus.IsAligned(P1, wls.Box.P1[D], wls.Delta[D]) || !visus.IsAligned(P1, rls.Box.P1[D], rls.Delta[D]) {
			P1 = visus.AlignRight(P1, wls.Box.P1[D], wls.Delta[D])
			P1 = visus.AlignRight(P1, rls.Box.P1[D], rls.Delta[D])
			if P1 >= P2 || P1-box.P1[D] >= lcm {
				return false
			}
		}
		delta[D] = lcm
		box.P1[D] = P1
		box.P2[D] = visus.AlignRight(P2, P1, lcm)
	}

	wfrom := wls.LogicToPixel(box.P1)
	wto := wls.LogicToPixel(box.P2).Min(w.Dims)
	wstep := delta.RightShift(wls.Shift).Min(w.Dims)

	rfrom := rls.LogicToPixel(box.P1)
	rto := rls.LogicToPixel(box.P2).Min(r.Dims)
	rstep := delta.RightShift(rls.Shift).Min(r.Dims)

	if mode == InterpolateSamples {
		if err := array.Interpolate(w, wls.Box.P1, wls.Shift, r, rls.Box.P1, rls.Shift, aborted); err != nil {
			return false
		}
	}
	return array.Insert(w, wfrom, wto, wstep, r, rfrom, rto, rstep, aborted)
}

// hzLevel caches, for one level, the logic offsets between consecutive
// samples in Hz order.
type hzLevel struct {
	shift  visus.Point
	deltas []visus.Point
}

func (d *Dataset) hzLevels() []hzLevel {
	d.levelsOnce.Do(func() {
		d.levels = make([]hzLevel, d.maxh+1)
		for H := 0; H <= d.maxh; H++ {
			delta := d.hzorder.LevelDelta(H)
			shift := make(visus.Point, len(delta))
			for D := range delta {
				shift[D] = int64(visus.Log2(delta[D]))
			}
			h := H - 1
			numbits := max(0, min(10, h))
			num := 1 << uint(numbits)
			deltas := make([]visus.Point, num)
			for i := 0; i < num; i++ {
				if i == num-1 {
					deltas[i] = visus.NewPoint(len(delta), 0)
					continue
				}
				a := d.File.Bitmask.Deinterleave(uint64(i+1), h)
				b := d.File.Bitmask.Deinterleave(uint64(i), h)
				deltas[i] = a.Sub(b)
			}
			d.levels[H] = hzLevel{shift: shift, deltas: deltas}
		}
	})
	return d.levels
}

// kdItem is a node of the KD split of one level: a box whose samples are
// contiguous in Hz order, split next on bitmask[H].
type kdItem struct {
	box visus.Box
	H   int
}

// mergeBlock moves the samples of one block between the block and the query
// buffer: into the query for reads, into the block for writes.
func (d *Dataset) mergeBlock(q *BoxQuery, b *storage.BlockQuery) bool {
	if b.Buffer == nil || q.Buffer == nil {
		return false
	}
	if b.Buffer.Layout == array.HzOrder {
		return d.mergeHzBlock(q, b)
	}
	return d.mergeRowMajorBlock(q, b)
}

func (d *Dataset) blockLevels(q *BoxQuery, b *storage.BlockQuery) (hstart, hend int) {
	hstart = max(q.CurResolution+1, idx.AddressResolution(b.StartAddress))
	hend = min(q.EndResolution, idx.AddressResolution(b.EndAddress.SubUint64(1)))
	return
}

func (d *Dataset) mergeRowMajorBlock(q *BoxQuery, b *storage.BlockQuery) bool {
	wls, w := q.LogicSamples, q.Buffer
	rls, r := b.LogicSamples, b.Buffer
	if q.Mode == storage.ModeWrite {
		wls, w, rls, r = rls, r, wls, w
	}
	if !b.StartAddress.IsZero() {
		return mergeSamples(wls, w, rls, r, InsertSamples, q.Aborted)
	}
	// the first block mixes levels, only touch the ones the query is at
	hstart, hend := d.blockLevels(q, b)
	for H := hstart; H <= hend; H++ {
		lls := d.LevelBox(H)
		l := array.New(lls.NSamples, q.Field.DType)
		mergeSamples(lls, l, wls, w, InsertSamples, q.Aborted)
		mergeSamples(lls, l, rls, r, InsertSamples, q.Aborted)
		mergeSamples(wls, w, lls, l, InsertSamples, q.Aborted)
		if q.Aborted.IsAborted() {
			return false
		}
	}
	return true
}

func (d *Dataset) mergeHzBlock(q *BoxQuery, b *storage.BlockQuery) bool {
	levels := d.hzLevels()
	bpb := d.File.BitsPerBlock
	spb := int64(1) << uint(bpb)
	sb := int64(q.Field.DType.SampleBytes())
	write := q.Mode == storage.ModeWrite

	qls := q.LogicSamples
	qstride := q.Buffer.Dims.Stride()
	qheap, bheap := q.Buffer.Heap, b.Buffer.Heap
	pdim := d.PointDim()

	hstart, hend := d.blockLevels(q, b)
	stack := make([]kdItem, 0, d.maxh+1)
	for H := hstart; H <= hend; H++ {
		lls := d.LevelBox(H)
		level := levels[H]
		zbox := lls.Box
		if !b.StartAddress.IsZero() {
			zbox = b.LogicSamples.Box
		}
		box := lls.AlignBox(qls.Box.Intersection(zbox))
		if !box.IsFullDim() {
			continue
		}
		hz := d.hzorder.GetAddress(zbox.P1)
		cachable := min(int64(len(level.deltas)), spb)

		// query offset of a level step along each axis
		stepShift := level.shift.Sub(qls.Shift)

		first := 0
		if H > 0 {
			first = max(1, H-bpb)
		}
		stack = append(stack[:0], kdItem{zbox, first})
		for len(stack) > 0 {
			if q.Aborted.IsAborted() {
				return false
			}
			item := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			numpoints := int64(1) << uint(H-item.H)

			if !item.box.StrictIntersect(box) {
				hz = hz.AddUint64(uint64(numpoints))
				continue
			}
			if numpoints <= cachable && box.ContainsBox(item.box) {
				var from int64
				for D := 0; D < pdim; D++ {
					from += qstride[D] * ((item.box.P1[D] - qls.Box.P1[D]) >> uint(qls.Shift[D]))
				}
				bi := int64(hz.Sub(b.StartAddress).Uint64())
				for i := int64(0); i < numpoints; i++ {
					qs := qheap[from*sb : (from+1)*sb]
					bs := bheap[(bi+i)*sb : (bi+i+1)*sb]
					if write {
						copy(bs, qs)
					} else {
						copy(qs, bs)
					}
					step := level.deltas[i]
					for D := 0; D < pdim; D++ {
						if step[D] != 0 {
							from += qstride[D] * (step[D] << uint(stepShift[D]))
						}
					}
				}
				hz = hz.AddUint64(uint64(numpoints))
				continue
			}

			bit := d.File.Bitmask.Bit(item.H)
			half := d.fldeltas[item.H]
			upper := kdItem{item.box.Clone(), item.H + 1}
			upper.box.P1[bit] += half
			lower := kdItem{item.box.Clone(), item.H + 1}
			lower.box.P2[bit] -= half
			stack = append(stack, upper, lower)
		}
	}
	return true
}
