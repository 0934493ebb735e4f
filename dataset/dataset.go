/*
	Package dataset implements IDX datasets: progressive box and point
	queries over the Hz-order level hierarchy, merging of stored blocks into
	query buffers, progressive filters and dataset maintenance.

	A typical progressive read:

		ds, err := dataset.Open("/data/foo.idx")
		access, err := ds.CreateAccess(nil)
		q := ds.CreateBoxQuery(box, ds.File.DefaultField(), 0, storage.ModeRead, nil)
		q.EndResolutions = []int{10, 14, ds.MaxResolution()}
		for ds.BeginBoxQuery(q); q.Running(); ds.NextBoxQuery(q) {
			if err := ds.ExecuteBoxQuery(ctx, access, q); err != nil {
				break
			}
			// q.Buffer holds q.NumSamples() samples at q.CurResolution
		}
*/
package dataset

import (
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

const (
	// DefaultMaxConcurrentBlocks bounds the block reads in flight per dataset.
	DefaultMaxConcurrentBlocks = 64

	// maxPendingBlocks is the number of dispatched reads after which a query
	// waits for them before dispatching more.
	maxPendingBlocks = 1024
)

// Dataset is an IDX dataset opened from its descriptor.
type Dataset struct {
	// URL is the descriptor location.  Remote datasets have an http(s) URL
	// and run queries on the server when no access is given.
	URL  string
	File *idx.File

	hzorder  *idx.HzOrder
	maxh     int
	fldeltas []int64

	blocks *semaphore.Weighted

	remote *url.URL
	client *http.Client

	levelsOnce sync.Once
	levels     []hzLevel

	locOnce sync.Once
	loc     [][]locEntry
}

// New returns a dataset for a validated descriptor.
func New(file *idx.File, location string) (*Dataset, error) {
	if file == nil || file.Bitmask == nil || len(file.Fields) == 0 {
		return nil, fmt.Errorf("descriptor for %q not validated", location)
	}
	maxh := file.MaxResolution()
	if nbits := maxh - file.BitsPerBlock; nbits > idx.MaxBlockBits {
		return nil, fmt.Errorf("dataset %q has 2^%d blocks, only up to 2^%d supported",
			location, nbits, idx.MaxBlockBits)
	}
	d := &Dataset{
		URL:     location,
		File:    file,
		hzorder: idx.NewHzOrder(file.Bitmask, maxh),
		maxh:    maxh,
		blocks:  semaphore.NewWeighted(DefaultMaxConcurrentBlocks),
		client:  http.DefaultClient,
	}
	d.fldeltas = make([]int64, maxh+1)
	for H := 1; H <= maxh; H++ {
		d.fldeltas[H] = d.hzorder.LevelDelta(H)[file.Bitmask.Bit(H)] >> 1
	}
	return d, nil
}

// Open loads the descriptor at location.  Locations starting with http://
// or https:// are fetched from a visus server.
func Open(location string) (*Dataset, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return OpenRemote(location, nil)
	}
	path := strings.TrimPrefix(location, "file://")
	file, err := idx.Load(path)
	if err != nil {
		return nil, err
	}
	return New(file, path)
}

// CreateDataset validates file, writes it to path and opens it.
func CreateDataset(path string, file *idx.File) (*Dataset, error) {
	if err := file.Validate(path); err != nil {
		return nil, err
	}
	d, err := New(file, path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		visus.Warningf("Overwriting existing descriptor %q\n", path)
	}
	if err := file.Save(path); err != nil {
		return nil, err
	}
	return d, nil
}

// SetMaxConcurrentBlocks changes the bound on block reads in flight.
func (d *Dataset) SetMaxConcurrentBlocks(n int) {
	if n <= 0 {
		n = DefaultMaxConcurrentBlocks
	}
	d.blocks = semaphore.NewWeighted(int64(n))
}

func (d *Dataset) PointDim() int {
	return d.File.PointDim()
}

func (d *Dataset) MaxResolution() int {
	return d.maxh
}

func (d *Dataset) Box() visus.Box {
	return d.File.Box
}

func (d *Dataset) Bitmask() *idx.Bitmask {
	return d.File.Bitmask
}

func (d *Dataset) HzOrder() *idx.HzOrder {
	return d.hzorder
}

func (d *Dataset) BitsPerBlock() int {
	return d.File.BitsPerBlock
}

// IsRemote returns true if queries without an access go to a server.
func (d *Dataset) IsRemote() bool {
	return d.remote != nil
}

// LevelBox returns the samples of level H.
func (d *Dataset) LevelBox(H int) idx.LogicSamples {
	return d.hzorder.LevelSamples(H)
}

// AddressRangeBox returns the samples of the Hz range [from, to).  A range
// starting at 0 spans all levels up to log2(to) and gets the combined grid.
func (d *Dataset) AddressRangeBox(from, to idx.HzAddr) idx.LogicSamples {
	var delta visus.Point
	if from.IsZero() {
		H := to.BitLen() - 1
		delta = d.hzorder.LevelDelta(H)
		if H > 0 {
			delta[d.File.Bitmask.Bit(H)] >>= 1
		}
	} else {
		delta = d.hzorder.LevelDelta(idx.AddressResolution(from))
	}
	box := visus.NewBox(d.hzorder.GetPoint(from), d.hzorder.GetPoint(to.SubUint64(1)).Add(delta))
	return idx.NewLogicSamples(box, delta)
}

// BlockAddress returns the first Hz address of a block.
func (d *Dataset) BlockAddress(blockid int64) idx.HzAddr {
	return idx.HzUint64(uint64(blockid)).Lsh(uint(d.File.BitsPerBlock))
}

// blockOf returns the block holding Hz address hz.
func (d *Dataset) blockOf(hz idx.HzAddr) int64 {
	return int64(hz.Rsh(uint(d.File.BitsPerBlock)).Uint64())
}

// CreateBlockQuery returns a query for one block.
func (d *Dataset) CreateBlockQuery(blockid int64, field idx.Field, time float64, mode storage.Mode, aborted *visus.Aborted) *storage.BlockQuery {
	from := d.BlockAddress(blockid)
	to := from.Add(idx.HzPow2(d.File.BitsPerBlock))
	return &storage.BlockQuery{
		Field:        field,
		Time:         time,
		BlockID:      blockid,
		StartAddress: from,
		EndAddress:   to,
		LogicSamples: d.AddressRangeBox(from, to),
		Mode:         mode,
		Aborted:      aborted,
	}
}

// CreateAccess opens a storage access for the dataset.  The "url" setting
// defaults to the descriptor location.
func (d *Dataset) CreateAccess(config visus.Config) (storage.Access, error) {
	if d.remote != nil && config == nil {
		return nil, fmt.Errorf("remote dataset %q has no local access", d.URL)
	}
	if config == nil {
		config = visus.NewConfig()
	}
	if location, found, _ := config.GetString("url"); !found || location == "" {
		config.Set("url", d.URL)
	}
	return storage.NewAccess(d.File, config)
}

// String returns a summary of the dataset.
func (d *Dataset) String() string {
	f := d.File
	var sb strings.Builder
	fmt.Fprintf(&sb, "url              %s\n", d.URL)
	fmt.Fprintf(&sb, "version          %d\n", f.Version)
	fmt.Fprintf(&sb, "box              %s\n", f.Box)
	fmt.Fprintf(&sb, "bitmask          %s\n", f.Bitmask)
	fmt.Fprintf(&sb, "max resolution   %d\n", d.maxh)
	fmt.Fprintf(&sb, "bitsperblock     %d (%d samples)\n", f.BitsPerBlock, f.SamplesPerBlock())
	fmt.Fprintf(&sb, "blocksperfile    %d\n", f.BlocksPerFile)
	fmt.Fprintf(&sb, "total blocks     %d\n", f.TotalBlocks())
	fmt.Fprintf(&sb, "timesteps        %v\n", f.Timesteps.Values())
	fmt.Fprintf(&sb, "filename         %s\n", f.FilenameTemplate)
	// deep boxes overflow int64
	nsamples := big.NewInt(1)
	for _, n := range f.Box.Size() {
		nsamples.Mul(nsamples, big.NewInt(n))
	}
	total := new(big.Int)
	for _, field := range f.Fields {
		size := new(big.Int).Mul(nsamples, big.NewInt(int64(field.DType.SampleBytes())))
		total.Add(total, size)
		fmt.Fprintf(&sb, "field            %s compression(%s) layout(%s) %s\n",
			field, field.DefaultCompression, field.DefaultLayout, humanize.BigBytes(size))
	}
	fmt.Fprintf(&sb, "size per time    %s\n", humanize.BigBytes(total))
	return sb.String()
}
