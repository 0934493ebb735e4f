package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// ExecuteBoxQuery fetches or stores the samples of the levels between the
// current and the end resolution.  Without an access, remote datasets run
// the query on their server.
func (d *Dataset) ExecuteBoxQuery(ctx context.Context, access storage.Access, q *BoxQuery) error {
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
	if q.Mode == storage.ModeWrite {
		if q.Buffer == nil {
			return q.setFailed(ErrNoWriteBuffer)
		}
		if !q.Buffer.Dims.Equal(q.NumSamples()) || q.Buffer.DType != q.Field.DType {
			return q.setFailed(fmt.Errorf("%w: write buffer is %s, query needs %s of %s",
				ErrWrongNumberOfSamples, q.Buffer, q.NumSamples(), q.Field.DType))
		}
	}
	if q.Buffer == nil {
		q.allocBuffer()
	}
	if access == nil {
		if d.remote != nil {
			return d.executeRemoteBoxQuery(ctx, q)
		}
		return q.setFailed(ErrNoAccess)
	}
	if q.Filter.Enabled {
		return d.executeFilteredBoxQuery(ctx, access, q)
	}
	if err := d.traverseBlocks(ctx, access, q); err != nil {
		return q.setFailed(err)
	}
	q.CurResolution = q.EndResolution
	return nil
}

// traverseBlocks visits, level by level, the blocks holding samples of the
// query box.  Reads run concurrently and are merged as they complete; writes
// run one block at a time.
func (d *Dataset) traverseBlocks(ctx context.Context, access storage.Access, q *BoxQuery) error {
	if err := access.BeginIO(q.Mode); err != nil {
		return err
	}
	defer access.EndIO()

	bpb := d.File.BitsPerBlock
	ls := q.LogicSamples
	var mu sync.Mutex
	var writeErr error

	stack := make([]kdItem, 0, d.maxh+1)
	for H := q.CurResolution + 1; H <= q.EndResolution; H++ {
		if q.Aborted.IsAborted() || ctx.Err() != nil {
			return visus.ErrAborted
		}
		lls := d.LevelBox(H)
		box := lls.AlignBox(ls.Box)
		if !box.IsFullDim() {
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		pending := 0
		hz := d.hzorder.GetAddress(lls.Box.P1)
		first := 0
		if H > 0 {
			first = 1
		}
		stack = append(stack[:0], kdItem{lls.Box, first})
		for len(stack) > 0 && writeErr == nil {
			if q.Aborted.IsAborted() || ctx.Err() != nil {
				break
			}
			item := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if !item.box.StrictIntersect(box) {
				hz = hz.Add(idx.HzPow2(H - item.H))
				continue
			}
			if H-item.H <= bpb {
				blockid := d.blockOf(hz)
				if q.Mode == storage.ModeRead {
					if pending >= maxPendingBlocks {
						g.Wait()
						g, gctx = errgroup.WithContext(ctx)
						pending = 0
					}
					if err := d.blocks.Acquire(gctx, 1); err != nil {
						break
					}
					// the wait for a slot may outlast an abort
					if q.Aborted.IsAborted() || ctx.Err() != nil {
						d.blocks.Release(1)
						break
					}
					pending++
					b := d.CreateBlockQuery(blockid, q.Field, q.Time, storage.ModeRead, q.Aborted)
					bctx := gctx
					g.Go(func() error {
						defer d.blocks.Release(1)
						if err := access.ReadBlock(bctx, b); err != nil {
							if !errors.Is(err, storage.ErrBlockNotFound) {
								visus.Debugf("Unable to read %s: %v\n", b, err)
							}
							return nil
						}
						mu.Lock()
						defer mu.Unlock()
						if !q.Aborted.IsAborted() {
							d.mergeBlock(q, b)
						}
						return nil
					})
				} else {
					writeErr = d.writeBlock(ctx, access, q, blockid)
				}
				if blockid == 0 {
					// block 0 holds every level up to bpb
					H = max(H, bpb)
					break
				}
				hz = hz.Add(idx.HzPow2(H - item.H))
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
		g.Wait()
		if writeErr != nil {
			return writeErr
		}
	}
	if q.Aborted.IsAborted() || ctx.Err() != nil {
		return visus.ErrAborted
	}
	return nil
}

// writeBlock merges the query samples into one stored block under the
// access write lock.
func (d *Dataset) writeBlock(ctx context.Context, access storage.Access, q *BoxQuery, blockid int64) error {
	r := d.CreateBlockQuery(blockid, q.Field, q.Time, storage.ModeRead, q.Aborted)
	if err := access.AcquireWriteLock(r); err != nil {
		return err
	}
	defer access.ReleaseWriteLock(r)

	w := d.CreateBlockQuery(blockid, q.Field, q.Time, storage.ModeWrite, q.Aborted)
	if err := access.BeginIO(storage.ModeRead); err == nil {
		if err := access.ReadBlock(ctx, r); err == nil {
			w.Buffer = r.Buffer
		}
		access.EndIO()
	}
	if w.Buffer == nil {
		w.AllocBuffer(q.Field.DefaultLayout)
	}
	d.mergeBlock(q, w)
	if q.Aborted.IsAborted() {
		return visus.ErrAborted
	}
	if err := access.WriteBlock(ctx, w); err != nil {
		return fmt.Errorf("unable to write block %d: %w", blockid, err)
	}
	return nil
}

// ReadBlock reads a single block in its own I/O batch.
func (d *Dataset) ReadBlock(ctx context.Context, access storage.Access, b *storage.BlockQuery) error {
	if err := access.BeginIO(storage.ModeRead); err != nil {
		return err
	}
	defer access.EndIO()
	return access.ReadBlock(ctx, b)
}

// WriteBlock writes a single block in its own I/O batch.
func (d *Dataset) WriteBlock(ctx context.Context, access storage.Access, b *storage.BlockQuery) error {
	if err := access.BeginIO(storage.ModeWrite); err != nil {
		return err
	}
	defer access.EndIO()
	if err := access.AcquireWriteLock(b); err != nil {
		return err
	}
	defer access.ReleaseWriteLock(b)
	return access.WriteBlock(ctx, b)
}
