package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

const compressSuffix = ".tmp~"

// blockFiler is implemented by accesses storing blocks in local files.
type blockFiler interface {
	Filename(q *storage.BlockQuery) string
}

// ReadFullResolution reads box, or the whole dataset if box is not valid, at
// the finest level.
func (d *Dataset) ReadFullResolution(ctx context.Context, access storage.Access, field idx.Field, time float64, box visus.Box) (*array.Array, error) {
	if !box.Valid() {
		box = d.File.Box
	}
	q := d.CreateBoxQuery(box, field, time, storage.ModeRead, visus.NewAborted(ctx))
	if err := d.BeginBoxQuery(q); err != nil {
		return nil, err
	}
	if err := d.ExecuteBoxQuery(ctx, access, q); err != nil {
		return nil, err
	}
	return q.Buffer, nil
}

// WriteFullResolution stores buf, whose dims must match box, at the finest
// level.  An invalid box is the whole dataset.
func (d *Dataset) WriteFullResolution(ctx context.Context, access storage.Access, field idx.Field, time float64, box visus.Box, buf *array.Array) error {
	if !box.Valid() {
		box = d.File.Box
	}
	q := d.CreateBoxQuery(box, field, time, storage.ModeWrite, visus.NewAborted(ctx))
	if err := d.BeginBoxQuery(q); err != nil {
		return err
	}
	if !q.NumSamples().Equal(buf.Dims) {
		return fmt.Errorf("%w: buffer has %s samples, box %s needs %s", ErrWrongNumberOfSamples, buf.Dims, box, q.NumSamples())
	}
	q.Buffer = buf
	return d.ExecuteBoxQuery(ctx, access, q)
}

// CompressDataset re-encodes every stored block with compression and makes
// it the default of every field.  Block files are rewritten from scratch so
// they do not keep the space of the old encoding.
func (d *Dataset) CompressDataset(ctx context.Context, compression visus.Compression, config visus.Config) error {
	if d.remote != nil {
		return fmt.Errorf("cannot compress remote dataset %q", d.URL)
	}
	for i := range d.File.Fields {
		d.File.Fields[i].DefaultCompression = compression
	}
	if _, err := os.Stat(d.URL); err == nil {
		if err := d.File.Save(d.URL); err != nil {
			return err
		}
	}

	writer, err := d.CreateAccess(config.Clone())
	if err != nil {
		return err
	}
	defer writer.Close()

	reader := writer
	var moved []string
	if filer, ok := writer.(blockFiler); ok {
		if moved, err = d.moveBlockFiles(filer); err != nil {
			return err
		}
		src := d.File.Clone()
		src.FilenameTemplate += compressSuffix
		rconfig := config.Clone()
		rconfig.Set("chmod", "r")
		if location, found, _ := rconfig.GetString("url"); !found || location == "" {
			rconfig.Set("url", d.URL)
		}
		if reader, err = storage.NewAccess(src, rconfig); err != nil {
			return err
		}
		defer reader.Close()
	}

	timedLog := visus.NewTimeLog()
	for _, time := range d.File.Timesteps.Values() {
		for _, field := range d.File.Fields {
			for blockid := int64(0); blockid < d.File.TotalBlocks(); blockid++ {
				if ctx.Err() != nil {
					return visus.ErrAborted
				}
				r := d.CreateBlockQuery(blockid, field, time, storage.ModeRead, nil)
				if err := d.ReadBlock(ctx, reader, r); err != nil {
					if errors.Is(err, storage.ErrBlockNotFound) {
						continue
					}
					return err
				}
				w := d.CreateBlockQuery(blockid, field, time, storage.ModeWrite, nil)
				w.Buffer = r.Buffer
				if err := d.WriteBlock(ctx, writer, w); err != nil {
					return err
				}
			}
		}
	}
	rstats, wstats := reader.Stats(), writer.Stats()
	ratio := 0.0
	if rstats.BytesRead > 0 {
		ratio = float64(wstats.BytesWritten) / float64(rstats.BytesRead)
	}
	timedLog.Infof("Compressed %d blocks of %q with %s, %s -> %s (ratio %.2f)", wstats.Writes, d.URL, compression,
		humanize.Bytes(uint64(rstats.BytesRead)), humanize.Bytes(uint64(wstats.BytesWritten)), ratio)

	for _, name := range moved {
		if err := os.Remove(name); err != nil {
			visus.Warningf("Unable to remove %s: %v\n", name, err)
		}
	}
	return nil
}

// moveBlockFiles renames every existing block file so the write access
// starts from empty files.
func (d *Dataset) moveBlockFiles(filer blockFiler) ([]string, error) {
	seen := make(map[string]bool)
	var moved []string
	for _, time := range d.File.Timesteps.Values() {
		for blockid := int64(0); blockid < d.File.TotalBlocks(); blockid++ {
			q := d.CreateBlockQuery(blockid, d.File.DefaultField(), time, storage.ModeRead, nil)
			name := filer.Filename(q)
			if seen[name] {
				continue
			}
			seen[name] = true
			if _, err := os.Stat(name); err != nil {
				continue
			}
			tmp := name + compressSuffix
			if err := os.Rename(name, tmp); err != nil {
				return moved, err
			}
			moved = append(moved, tmp)
		}
	}
	return moved, nil
}
