package dataset

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// Position is a box in query space mapped to logic space by a homogeneous
// row-major (pdim+1)x(pdim+1) matrix.  An empty matrix is the identity.
type Position struct {
	Box    visus.Box
	Matrix []float64
}

// Transform maps a query space point to logic space.
func (pos Position) Transform(p []float64) []float64 {
	n := len(p)
	if len(pos.Matrix) != (n+1)*(n+1) {
		return append([]float64(nil), p...)
	}
	out := make([]float64, n)
	row := func(r int) float64 {
		v := pos.Matrix[r*(n+1)+n]
		for c := 0; c < n; c++ {
			v += pos.Matrix[r*(n+1)+c] * p[c]
		}
		return v
	}
	w := row(n)
	if w == 0 {
		w = 1
	}
	for r := 0; r < n; r++ {
		out[r] = row(r) / w
	}
	return out
}

// Frustum projects logic space on a screen viewport.
type Frustum struct {
	// Matrix maps homogeneous logic coordinates (x, y, z, 1) to clip space,
	// row-major.
	Matrix [16]float64

	// Viewport is x, y, width and height in pixels.
	Viewport [4]float64
}

// Project returns the screen position of a logic point.  Missing
// coordinates are zero.
func (f *Frustum) Project(p []float64) (x, y float64) {
	var v [4]float64
	copy(v[:3], p)
	v[3] = 1
	var clip [4]float64
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			clip[r] += f.Matrix[r*4+c] * v[c]
		}
	}
	if clip[3] != 0 {
		clip[0] /= clip[3]
		clip[1] /= clip[3]
	}
	x = f.Viewport[0] + (clip[0]+1)*0.5*f.Viewport[2]
	y = f.Viewport[1] + (clip[1]+1)*0.5*f.Viewport[3]
	return
}

// PointQuery reads the samples at arbitrary logic points.  Points either
// come from a regular grid over Position or are given explicitly.
type PointQuery struct {
	Field   idx.Field
	Time    float64
	Aborted *visus.Aborted

	Position       Position
	Frustum        *Frustum
	EndResolutions []int

	Status storage.Status
	Err    error

	CurResolution int
	EndResolution int
	cursor        int

	// NSamples are the dims of the grid over Position.  Set before
	// BeginPointQuery to fix them, otherwise they are guessed from the end
	// resolution and the frustum.
	NSamples visus.Point

	Points []visus.Point
	Buffer *array.Array

	explicit     bool
	fixedSamples bool
}

// CreatePointQuery returns a query over a grid covering pos.
func (d *Dataset) CreatePointQuery(pos Position, field idx.Field, time float64, aborted *visus.Aborted) *PointQuery {
	return &PointQuery{
		Field:         field,
		Time:          time,
		Aborted:       aborted,
		Position:      Position{Box: pos.Box.Clone(), Matrix: append([]float64(nil), pos.Matrix...)},
		CurResolution: -1,
		EndResolution: -1,
	}
}

// CreatePointQueryFromPoints returns a query over explicit logic points.
func (d *Dataset) CreatePointQueryFromPoints(points []visus.Point, field idx.Field, time float64, aborted *visus.Aborted) *PointQuery {
	return &PointQuery{
		Field:         field,
		Time:          time,
		Aborted:       aborted,
		Points:        points,
		NSamples:      visus.Point{int64(len(points))},
		CurResolution: -1,
		EndResolution: -1,
		explicit:      true,
	}
}

func (q *PointQuery) Running() bool {
	return q.Status == storage.StatusRunning
}

func (q *PointQuery) Ok() bool {
	return q.Status == storage.StatusOk
}

func (q *PointQuery) Failed() bool {
	return q.Status == storage.StatusFailed
}

func (q *PointQuery) setFailed(err error) error {
	q.Status = storage.StatusFailed
	q.Err = err
	return err
}

func (q *PointQuery) String() string {
	return fmt.Sprintf("point query %s field %q time %g samples %s resolution %d/%d %s",
		q.Position.Box, q.Field.Name, q.Time, q.NSamples, q.CurResolution, q.EndResolution, q.Status)
}

// BeginPointQuery validates the query and sets its first end resolution.
func (d *Dataset) BeginPointQuery(q *PointQuery) error {
	if q.Status != storage.StatusCreated {
		return q.Err
	}
	if q.Aborted.IsAborted() {
		return q.setFailed(visus.ErrAborted)
	}
	if err := d.checkFieldAndTime(q.Field, q.Time); err != nil {
		return q.setFailed(err)
	}
	if len(q.EndResolutions) == 0 {
		q.EndResolutions = []int{d.maxh}
	}
	for _, end := range q.EndResolutions {
		if end < 0 || end > d.maxh {
			return q.setFailed(ErrWrongEndResolution)
		}
	}
	pdim := d.PointDim()
	if q.explicit {
		if len(q.Points) == 0 {
			return q.setFailed(ErrWrongPosition)
		}
		for _, p := range q.Points {
			if len(p) != pdim {
				return q.setFailed(ErrWrongPosition)
			}
		}
	} else {
		box := q.Position.Box
		n := box.NumDims()
		if !box.Valid() || (len(q.Position.Matrix) != 0 && len(q.Position.Matrix) != (n+1)*(n+1)) {
			return q.setFailed(ErrWrongPosition)
		}
		if len(q.Position.Matrix) == 0 && n != pdim {
			return q.setFailed(ErrWrongPosition)
		}
		q.fixedSamples = len(q.NSamples) == n && q.NSamples.AllPositive()
	}
	for q.cursor = 0; q.cursor < len(q.EndResolutions); q.cursor++ {
		if d.setPointQueryEndResolution(q, q.EndResolutions[q.cursor]) {
			q.Status = storage.StatusRunning
			q.Err = nil
			return nil
		}
	}
	return q.setFailed(ErrNoInitialResolution)
}

func (d *Dataset) setPointQueryEndResolution(q *PointQuery, end int) bool {
	if end < 0 || end > d.maxh || end < q.CurResolution {
		return false
	}
	if !q.explicit {
		if !q.fixedSamples {
			q.NSamples = d.GuessPointQueryNumberOfSamples(q.Position, q.Frustum, end)
		}
		q.Points = generatePoints(q.Position, q.NSamples, d.PointDim())
	}
	q.EndResolution = end
	return true
}

// corners returns the 2^n corners of box as floats, corner c having the P2
// coordinate on axis a if bit a of c is set.
func corners(box visus.Box) [][]float64 {
	n := box.NumDims()
	out := make([][]float64, 1<<uint(n))
	for c := range out {
		p := make([]float64, n)
		for a := 0; a < n; a++ {
			if c&(1<<uint(a)) != 0 {
				p[a] = float64(box.P2[a])
			} else {
				p[a] = float64(box.P1[a])
			}
		}
		out[c] = p
	}
	return out
}

// GuessPointQueryNumberOfSamples returns, per query axis, about as many
// samples as level end has along the transformed axis, capped by the pixels
// the axis covers on screen.
func (d *Dataset) GuessPointQueryNumberOfSamples(pos Position, frustum *Frustum, end int) visus.Point {
	pdim := d.PointDim()
	vwd := make([]float64, pdim)
	for D := range vwd {
		vwd[D] = 1
	}
	for H := 1; H <= end; H++ {
		vwd[d.File.Bitmask.Bit(H)] *= 2
	}
	size := d.File.Box.Size()

	n := pos.Box.NumDims()
	nsamples := visus.PointOne(n)
	logic := corners(pos.Box)
	for c := range logic {
		logic[c] = pos.Transform(logic[c])
	}
	for q := 0; q < n; q++ {
		bitq := 1 << uint(q)
		var maxPixels float64
		for c := range logic {
			if c&bitq != 0 {
				continue
			}
			a, b := logic[c], logic[c|bitq]
			for D := 0; D < pdim && D < len(a); D++ {
				if size[D] <= 0 {
					continue
				}
				x := int64(vwd[D] * math.Abs(b[D]-a[D]) / float64(size[D]))
				nsamples[q] = max(nsamples[q], x)
			}
			if frustum != nil {
				ax, ay := frustum.Project(a)
				bx, by := frustum.Project(b)
				maxPixels = math.Max(maxPixels, math.Hypot(bx-ax, by-ay))
			}
		}
		if frustum != nil {
			nsamples[q] = min(nsamples[q], max(1, int64(maxPixels)))
		}
	}
	return nsamples
}

// generatePoints returns the logic points of the grid over pos, first axis
// fastest.
func generatePoints(pos Position, nsamples visus.Point, pdim int) []visus.Point {
	n := pos.Box.NumDims()
	p0 := make([]float64, n)
	dx := make([]float64, n)
	for a := 0; a < n; a++ {
		p0[a] = float64(pos.Box.P1[a])
		dx[a] = float64(pos.Box.P2[a]-pos.Box.P1[a]) / float64(nsamples[a])
	}
	points := make([]visus.Point, 0, nsamples.Prod())
	qp := make([]float64, n)
	visus.ForEachPoint(visus.NewPoint(n, 0), nsamples, visus.PointOne(n), func(I visus.Point) bool {
		for a := 0; a < n; a++ {
			qp[a] = p0[a] + float64(I[a])*dx[a]
		}
		lp := pos.Transform(qp)
		p := visus.NewPoint(pdim, 0)
		for D := 0; D < pdim && D < len(lp); D++ {
			p[D] = int64(math.Floor(lp[D]))
		}
		points = append(points, p)
		return true
	})
	return points
}

// locEntry is the Z contribution of one coordinate along one axis.
type locEntry struct {
	z     uint64
	shift uint8
}

func (d *Dataset) locTable() [][]locEntry {
	d.locOnce.Do(func() {
		pow2 := d.File.Bitmask.Pow2Dims()
		pdim := len(pow2)
		top := uint64(1) << uint(d.maxh)
		d.loc = make([][]locEntry, pdim)
		for D := 0; D < pdim; D++ {
			entries := make([]locEntry, pow2[D])
			p := visus.NewPoint(pdim, 0)
			for i := range entries {
				p[D] = int64(i)
				z := d.hzorder.Interleave(p).Uint64()
				entries[i] = locEntry{z: z, shift: uint8(bits.TrailingZeros64(z|top) + 1)}
			}
			d.loc[D] = entries
		}
	})
	return d.loc
}

type pointAddress struct {
	hz idx.HzAddr
	i  int64
	p  visus.Point
}

// pointAddresses returns the Hz address, at the query end resolution, of
// every query point inside the dataset.
func (d *Dataset) pointAddresses(q *PointQuery) []pointAddress {
	pow2 := d.File.Bitmask.Pow2Dims()
	mask := d.hzorder.LevelP2Included(q.EndResolution)
	fast := d.hzorder.Fast()
	var loc [][]locEntry
	if fast {
		loc = d.locTable()
	}
	top := uint64(1) << uint(d.maxh)
	addrs := make([]pointAddress, 0, len(q.Points))
	for i, p := range q.Points {
		if !d.File.Box.ContainsPoint(p) {
			continue
		}
		pm := make(visus.Point, len(p))
		inside := true
		for D := range p {
			if p[D] >= pow2[D] {
				inside = false
				break
			}
			pm[D] = p[D] & mask[D]
		}
		if !inside {
			continue
		}
		if !fast {
			addrs = append(addrs, pointAddress{hz: d.hzorder.GetAddress(pm), i: int64(i), p: pm})
			continue
		}
		var z uint64
		shift := uint8(64)
		for D := range pm {
			e := loc[D][pm[D]]
			z |= e.z
			shift = min(shift, e.shift)
		}
		addrs = append(addrs, pointAddress{hz: idx.HzUint64((z | top) >> shift), i: int64(i), p: pm})
	}
	return addrs
}

// ExecutePointQuery reads the samples of every point at the end resolution.
// Points outside the dataset keep the field default value.
func (d *Dataset) ExecutePointQuery(ctx context.Context, access storage.Access, q *PointQuery) error {
	if !q.Running() {
		if q.Err != nil {
			return q.Err
		}
		return ErrQueryNotRunning
	}
	if q.CurResolution >= q.EndResolution {
		return q.setFailed(ErrQueryNotRunning)
	}
	if q.Aborted.IsAborted() || ctx.Err() != nil {
		return q.setFailed(visus.ErrAborted)
	}
	if int64(len(q.Points)) != q.NSamples.Prod() {
		return q.setFailed(ErrWrongNumberOfSamples)
	}
	if q.Buffer == nil {
		q.Buffer = array.New(q.NSamples, q.Field.DType)
		if q.Field.DefaultValue != 0 {
			q.Buffer.Fill(q.Field.DefaultValue)
		}
	} else if !q.Buffer.Dims.Equal(q.NSamples) {
		buf, err := array.Resample(q.Buffer, q.NSamples)
		if err != nil {
			return q.setFailed(err)
		}
		q.Buffer = buf
	}
	if access == nil {
		if d.remote != nil {
			return d.executeRemotePointQuery(ctx, q)
		}
		return q.setFailed(ErrNoAccess)
	}

	addrs := d.pointAddresses(q)
	sort.Slice(addrs, func(a, b int) bool { return addrs[a].hz.Cmp(addrs[b].hz) < 0 })

	if err := access.BeginIO(storage.ModeRead); err != nil {
		return q.setFailed(err)
	}
	defer access.EndIO()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(addrs); {
		if q.Aborted.IsAborted() || ctx.Err() != nil {
			break
		}
		blockid := d.blockOf(addrs[start].hz)
		end := start + 1
		for end < len(addrs) && d.blockOf(addrs[end].hz) == blockid {
			end++
		}
		group := addrs[start:end]
		start = end
		if err := d.blocks.Acquire(gctx, 1); err != nil {
			break
		}
		if q.Aborted.IsAborted() || ctx.Err() != nil {
			d.blocks.Release(1)
			break
		}
		b := d.CreateBlockQuery(blockid, q.Field, q.Time, storage.ModeRead, q.Aborted)
		g.Go(func() error {
			defer d.blocks.Release(1)
			if err := access.ReadBlock(gctx, b); err != nil {
				if !errors.Is(err, storage.ErrBlockNotFound) {
					visus.Debugf("Unable to read %s: %v\n", b, err)
				}
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if q.Aborted.IsAborted() {
				return nil
			}
			d.scatterBlock(q, b, group)
			return nil
		})
	}
	g.Wait()
	if q.Aborted.IsAborted() || ctx.Err() != nil {
		return q.setFailed(visus.ErrAborted)
	}
	q.CurResolution = q.EndResolution
	return nil
}

// scatterBlock copies the samples of one block to the query points it holds.
func (d *Dataset) scatterBlock(q *PointQuery, b *storage.BlockQuery, group []pointAddress) {
	buf := b.Buffer
	if buf == nil || buf.DType != q.Buffer.DType {
		return
	}
	if buf.Layout == array.HzOrder {
		for _, a := range group {
			copy(q.Buffer.Sample(a.i), buf.Sample(int64(a.hz.Sub(b.StartAddress).Uint64())))
		}
		return
	}
	ls := b.LogicSamples
	stride := buf.Dims.Stride()
	for _, a := range group {
		var j int64
		for D := range a.p {
			j += stride[D] * ((a.p[D] - ls.Box.P1[D]) >> uint(ls.Shift[D]))
		}
		if j >= 0 && j < buf.NumSamples() {
			copy(q.Buffer.Sample(a.i), buf.Sample(j))
		}
	}
}

// NextPointQuery moves a query to its next end resolution.  Grid queries
// may change their number of samples; the buffer is resampled so it keeps
// the samples already fetched.
func (d *Dataset) NextPointQuery(q *PointQuery) error {
	if !q.Running() {
		return q.Err
	}
	if q.CurResolution != q.EndResolution {
		return q.setFailed(ErrQueryNotRunning)
	}
	if q.cursor >= len(q.EndResolutions)-1 {
		q.Status = storage.StatusOk
		q.Err = nil
		return nil
	}
	if !d.setPointQueryEndResolution(q, q.EndResolutions[q.cursor+1]) {
		return q.setFailed(ErrCannotSetResolution)
	}
	q.cursor++
	if q.Buffer != nil && !q.Buffer.Dims.Equal(q.NSamples) {
		buf, err := array.Resample(q.Buffer, q.NSamples)
		if err != nil {
			return q.setFailed(err)
		}
		q.Buffer = buf
	}
	return nil
}
