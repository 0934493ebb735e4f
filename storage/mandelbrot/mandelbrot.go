// Package mandelbrot is a read-only synthetic access that computes the
// Mandelbrot set over the dataset box.  It is handy for demos and for
// exercising queries without stored data.
package mandelbrot

import (
	"context"
	"fmt"

	"github.com/blang/semver"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// DefaultMaxIterations bounds the escape-time loop.
const DefaultMaxIterations = 128

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		visus.Errorf("Unable to make semver in mandelbrot: %v\n", err)
	}
	storage.RegisterEngine(Engine{"mandelbrot", "synthetic Mandelbrot set", ver})
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

func (e Engine) NewAccess(file *idx.File, config visus.Config) (storage.Access, error) {
	if file == nil || file.PointDim() < 2 {
		return nil, fmt.Errorf("mandelbrot access needs a dataset with at least 2 dimensions")
	}
	config.Set("chmod", "r")
	base, err := storage.NewBase("mandelbrot", file, config)
	if err != nil {
		return nil, err
	}
	maxIter, found, err := config.GetInt("max_iterations")
	if err != nil {
		return nil, err
	}
	if !found || maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Access{Base: base, box: file.Box, maxIter: maxIter}, nil
}

// Access computes float32 blocks on the fly.
type Access struct {
	*storage.Base
	box     visus.Box
	maxIter int
}

// Value returns the normalized escape time of logic point (x, y), the box
// being mapped onto [-2,1]x[-1.5,1.5].
func (a *Access) Value(x, y int64) float32 {
	size := a.box.Size()
	cr := -2 + 3*float64(x-a.box.P1[0])/float64(size[0])
	ci := -1.5 + 3*float64(y-a.box.P1[1])/float64(size[1])
	var zr, zi float64
	n := 0
	for ; n < a.maxIter && zr*zr+zi*zi <= 4; n++ {
		zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
	}
	return float32(n) / float32(a.maxIter)
}

func (a *Access) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckRead(q); err != nil {
		return a.ReadFailed(q, err)
	}
	if q.Field.DType != visus.NewDType(visus.T_float32, 1) {
		return a.ReadFailed(q, fmt.Errorf("%w: mandelbrot field must be float32, not %s", storage.ErrNotSupported, q.Field.DType))
	}
	ls := q.LogicSamples
	if !ls.Valid() {
		return a.ReadFailed(q, fmt.Errorf("block %d has no logic samples", q.BlockID))
	}
	buf := array.New(ls.NSamples, q.Field.DType)
	buf.Layout = array.RowMajor
	var i int64
	aborted := false
	visus.ForEachPoint(ls.Box.P1, ls.Box.P2, ls.Delta, func(p visus.Point) bool {
		if i%int64(ls.NSamples[0]) == 0 && (q.Aborted.IsAborted() || ctx.Err() != nil) {
			aborted = true
			return false
		}
		buf.Set(i, 0, float64(a.Value(p[0], p[1])))
		i++
		return true
	})
	if aborted {
		return a.ReadFailed(q, visus.ErrAborted)
	}
	q.Buffer = buf
	return a.ReadOk(q, int(buf.NumBytes()))
}

func (a *Access) WriteBlock(ctx context.Context, q *storage.BlockQuery) error {
	return a.WriteFailed(q, fmt.Errorf("%w: mandelbrot access is read-only", storage.ErrNotSupported))
}

func (a *Access) Close() error {
	return nil
}
