package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	_ "github.com/janelia-flyem/visus/storage/disk"
	_ "github.com/janelia-flyem/visus/storage/ram"
	"github.com/janelia-flyem/visus/visus"
)

func testDataset(t *testing.T, dims visus.Point, bits string, bpb int, fields ...idx.Field) *Dataset {
	t.Helper()
	file := idx.NewFile()
	file.Box = visus.NewBox(visus.NewPoint(len(dims), 0), dims)
	file.Bitmask = idx.MustParseBitmask(bits)
	file.BitsPerBlock = bpb
	file.Fields = fields
	d, err := CreateDataset(filepath.Join(t.TempDir(), "test.idx"), file)
	if err != nil {
		t.Fatalf("unable to create dataset: %v", err)
	}
	return d
}

func uint8Field(name string) idx.Field {
	return idx.NewField(name, visus.NewDType(visus.T_uint8, 1))
}

func ramAccess(t *testing.T, d *Dataset) storage.Access {
	t.Helper()
	config := visus.NewConfig()
	config.Set("type", "ram")
	access, err := d.CreateAccess(config)
	if err != nil {
		t.Fatalf("unable to create ram access: %v", err)
	}
	t.Cleanup(func() { access.Close() })
	return access
}

func diskAccess(t *testing.T, d *Dataset) storage.Access {
	t.Helper()
	access, err := d.CreateAccess(nil)
	if err != nil {
		t.Fatalf("unable to create disk access: %v", err)
	}
	t.Cleanup(func() { access.Close() })
	return access
}

// ramp returns a buffer where component c of sample i is (i+c) modulo 251.
func ramp(dims visus.Point, dtype visus.DType) *array.Array {
	buf := array.New(dims, dtype)
	for i := int64(0); i < buf.NumSamples(); i++ {
		for c := 0; c < dtype.NComponents; c++ {
			buf.Set(i, c, float64((i+int64(c))%251))
		}
	}
	return buf
}

func sameSamples(t *testing.T, got, expected *array.Array) {
	t.Helper()
	if !got.Dims.Equal(expected.Dims) {
		t.Fatalf("expected dims %s, got %s", expected.Dims, got.Dims)
	}
	for i := int64(0); i < expected.NumSamples(); i++ {
		for c := 0; c < expected.DType.NComponents; c++ {
			if g, e := got.Get(i, c), expected.Get(i, c); g != e {
				t.Fatalf("sample %d component %d: expected %g, got %g", i, c, e, g)
			}
		}
	}
}

func TestLevelBoxes(t *testing.T) {
	d := testDataset(t, visus.Point{4, 4}, "V0101", 2, uint8Field("data"))
	if d.MaxResolution() != 4 {
		t.Fatalf("expected max resolution 4, got %d", d.MaxResolution())
	}
	tests := []struct {
		H     int
		p1    visus.Point
		delta visus.Point
		n     visus.Point
	}{
		{0, visus.Point{0, 0}, visus.Point{4, 4}, visus.Point{1, 1}},
		{1, visus.Point{2, 0}, visus.Point{4, 4}, visus.Point{1, 1}},
		{2, visus.Point{0, 2}, visus.Point{2, 4}, visus.Point{2, 1}},
		{3, visus.Point{1, 0}, visus.Point{2, 2}, visus.Point{2, 2}},
		{4, visus.Point{0, 1}, visus.Point{1, 2}, visus.Point{4, 2}},
	}
	total := int64(0)
	for _, tc := range tests {
		ls := d.LevelBox(tc.H)
		if !ls.Box.P1.Equal(tc.p1) || !ls.Delta.Equal(tc.delta) || !ls.NSamples.Equal(tc.n) {
			t.Errorf("level %d: expected p1 %s delta %s samples %s, got %s", tc.H, tc.p1, tc.delta, tc.n, ls)
		}
		total += ls.Total()
	}
	if total != 16 {
		t.Errorf("levels hold %d samples, expected 16", total)
	}
}

func TestAddressRangeBox(t *testing.T) {
	d := testDataset(t, visus.Point{4, 4}, "V0101", 2, uint8Field("data"))

	// block 0 holds levels 0 to 2
	ls := d.AddressRangeBox(idx.HzUint64(0), idx.HzUint64(4))
	if !ls.Delta.Equal(visus.Point{2, 2}) || !ls.NSamples.Equal(visus.Point{2, 2}) {
		t.Errorf("bad first block grid %s", ls)
	}
	// block 1 is level 3
	ls = d.AddressRangeBox(idx.HzUint64(4), idx.HzUint64(8))
	if !ls.Delta.Equal(visus.Point{2, 2}) || !ls.Box.P1.Equal(visus.Point{1, 0}) || ls.Total() != 4 {
		t.Errorf("bad second block grid %s", ls)
	}
	// blocks 2 and 3 split level 4
	for blockid := int64(2); blockid < 4; blockid++ {
		q := d.CreateBlockQuery(blockid, d.File.DefaultField(), 0, storage.ModeRead, nil)
		if !q.StartAddress.Equal(idx.HzUint64(uint64(blockid)*4)) || !q.EndAddress.Equal(idx.HzUint64(uint64(blockid+1)*4)) {
			t.Errorf("bad address range for %s", q)
		}
		if q.LogicSamples.Total() != 4 || !q.LogicSamples.Delta.Equal(visus.Point{1, 2}) {
			t.Errorf("bad grid for block %d: %s", blockid, q.LogicSamples)
		}
	}
}

func TestWriteConstantReadSubBox(t *testing.T) {
	d := testDataset(t, visus.Point{4, 4}, "V0101", 2, uint8Field("data"))
	access := ramAccess(t, d)
	ctx := context.Background()

	buf := array.New(visus.Point{4, 4}, d.File.DefaultField().DType)
	buf.Fill(7)
	if err := d.WriteFullResolution(ctx, access, d.File.DefaultField(), 0, visus.InvalidBox(), buf); err != nil {
		t.Fatalf("unable to write: %v", err)
	}

	box := visus.NewBox(visus.Point{1, 1}, visus.Point{3, 3})
	got, err := d.ReadFullResolution(ctx, access, d.File.DefaultField(), 0, box)
	if err != nil {
		t.Fatalf("unable to read: %v", err)
	}
	if !got.Dims.Equal(visus.Point{2, 2}) {
		t.Fatalf("expected 2x2 samples, got %s", got.Dims)
	}
	for i := int64(0); i < 4; i++ {
		if v := got.Get(i, 0); v != 7 {
			t.Errorf("sample %d: expected 7, got %g", i, v)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, engine := range []string{"ram", "disk"} {
		for _, layout := range []array.Layout{array.HzOrder, array.RowMajor} {
			t.Run(engine+"-"+layout.String(), func(t *testing.T) {
				field := idx.NewField("data", visus.NewDType(visus.T_uint16, 2))
				field.DefaultLayout = layout
				field.DefaultCompression = visus.Zip
				d := testDataset(t, visus.Point{16, 8}, "V0101010", 3, field)
				access := ramAccess(t, d)
				if engine == "disk" {
					access = diskAccess(t, d)
				}
				ctx := context.Background()

				expected := ramp(visus.Point{16, 8}, field.DType)
				if err := d.WriteFullResolution(ctx, access, field, 0, visus.InvalidBox(), expected); err != nil {
					t.Fatalf("unable to write: %v", err)
				}
				got, err := d.ReadFullResolution(ctx, access, field, 0, visus.InvalidBox())
				if err != nil {
					t.Fatalf("unable to read: %v", err)
				}
				sameSamples(t, got, expected)

				// a sub box of the dataset
				box := visus.NewBox(visus.Point{3, 2}, visus.Point{11, 7})
				sub, err := d.ReadFullResolution(ctx, access, field, 0, box)
				if err != nil {
					t.Fatalf("unable to read sub box: %v", err)
				}
				if !sub.Dims.Equal(visus.Point{8, 5}) {
					t.Fatalf("expected 8x5 samples, got %s", sub.Dims)
				}
				for y := int64(0); y < 5; y++ {
					for x := int64(0); x < 8; x++ {
						e := expected.Get((y+2)*16+x+3, 1)
						if g := sub.Get(y*8+x, 1); g != e {
							t.Fatalf("sample (%d,%d): expected %g, got %g", x, y, e, g)
						}
					}
				}
			})
		}
	}
}

func TestPartialWrite(t *testing.T) {
	field := uint8Field("data")
	field.DefaultValue = 3
	d := testDataset(t, visus.Point{8, 8}, "V010101", 2, field)
	access := ramAccess(t, d)
	ctx := context.Background()

	box := visus.NewBox(visus.Point{2, 2}, visus.Point{4, 6})
	patch := array.New(visus.Point{2, 4}, field.DType)
	patch.Fill(9)
	if err := d.WriteFullResolution(ctx, access, field, 0, box, patch); err != nil {
		t.Fatalf("unable to write: %v", err)
	}
	got, err := d.ReadFullResolution(ctx, access, field, 0, visus.InvalidBox())
	if err != nil {
		t.Fatalf("unable to read: %v", err)
	}
	for y := int64(0); y < 8; y++ {
		for x := int64(0); x < 8; x++ {
			expected := 3.0
			if box.ContainsPoint(visus.Point{x, y}) {
				expected = 9
			}
			if v := got.Get(y*8+x, 0); v != expected {
				t.Errorf("sample (%d,%d): expected %g, got %g", x, y, expected, v)
			}
		}
	}

	wrong := array.New(visus.Point{3, 3}, field.DType)
	err = d.WriteFullResolution(ctx, access, field, 0, box, wrong)
	if !errors.Is(err, ErrWrongNumberOfSamples) {
		t.Errorf("expected wrong number of samples error, got %v", err)
	}
}

func TestProgressiveRefinement(t *testing.T) {
	field := idx.NewField("data", visus.NewDType(visus.T_float32, 1))
	d := testDataset(t, visus.Point{32, 16}, "V010101010", 4, field)
	access := ramAccess(t, d)
	ctx := context.Background()

	data := ramp(visus.Point{32, 16}, field.DType)
	if err := d.WriteFullResolution(ctx, access, field, 0, visus.InvalidBox(), data); err != nil {
		t.Fatalf("unable to write: %v", err)
	}

	box := visus.NewBox(visus.Point{5, 3}, visus.Point{29, 14})
	q := d.CreateBoxQuery(box, field, 0, storage.ModeRead, nil)
	q.EndResolutions = []int{3, 6, d.MaxResolution()}
	passes := 0
	for d.BeginBoxQuery(q); q.Running(); d.NextBoxQuery(q) {
		if err := d.ExecuteBoxQuery(ctx, access, q); err != nil {
			t.Fatalf("unable to execute pass %d: %v", passes, err)
		}
		passes++

		fresh := d.CreateBoxQuery(box, field, 0, storage.ModeRead, nil)
		fresh.EndResolutions = []int{q.EndResolution}
		if err := d.BeginBoxQuery(fresh); err != nil {
			t.Fatalf("unable to begin fresh query: %v", err)
		}
		if err := d.ExecuteBoxQuery(ctx, access, fresh); err != nil {
			t.Fatalf("unable to execute fresh query: %v", err)
		}
		if !fresh.LogicSamples.Equal(q.LogicSamples) {
			t.Fatalf("resolution %d: progressive grid %s differs from %s", q.EndResolution, q.LogicSamples, fresh.LogicSamples)
		}
		sameSamples(t, q.Buffer, fresh.Buffer)
	}
	if passes != 3 || !q.Ok() {
		t.Errorf("expected 3 passes and an ok query, got %d passes and %s", passes, q)
	}
}

func TestStartResolution(t *testing.T) {
	d := testDataset(t, visus.Point{8, 8}, "V010101", 2, uint8Field("data"))
	access := ramAccess(t, d)
	ctx := context.Background()

	buf := ramp(visus.Point{8, 8}, d.File.DefaultField().DType)
	if err := d.WriteFullResolution(ctx, access, d.File.DefaultField(), 0, visus.InvalidBox(), buf); err != nil {
		t.Fatalf("unable to write: %v", err)
	}
	q := d.CreateBoxQuery(d.Box(), d.File.DefaultField(), 0, storage.ModeRead, nil)
	q.StartResolution, q.EndResolutions = 6, []int{6}
	if err := d.BeginBoxQuery(q); err != nil {
		t.Fatalf("unable to begin: %v", err)
	}
	expected := d.LevelBox(6)
	if !q.LogicSamples.Equal(expected) {
		t.Fatalf("expected level grid %s, got %s", expected, q.LogicSamples)
	}
	if err := d.ExecuteBoxQuery(ctx, access, q); err != nil {
		t.Fatalf("unable to execute: %v", err)
	}
	stride := int64(8)
	for i := int64(0); i < q.Buffer.NumSamples(); i++ {
		p := q.LogicSamples.PixelToLogic(visus.Point{i % q.Buffer.Dims[0], i / q.Buffer.Dims[0]})
		if e, g := buf.Get(p[1]*stride+p[0], 0), q.Buffer.Get(i, 0); e != g {
			t.Errorf("sample at %s: expected %g, got %g", p, e, g)
		}
	}

	bad := d.CreateBoxQuery(d.Box(), d.File.DefaultField(), 0, storage.ModeRead, nil)
	bad.StartResolution, bad.EndResolutions = 3, []int{5}
	if err := d.BeginBoxQuery(bad); !errors.Is(err, ErrWrongEndResolution) {
		t.Errorf("expected wrong end resolution, got %v", err)
	}
}

func TestQueryValidation(t *testing.T) {
	d := testDataset(t, visus.Point{4, 4}, "V0101", 2, uint8Field("data"))
	field := d.File.DefaultField()

	q := d.CreateBoxQuery(visus.NewBox(visus.Point{5, 5}, visus.Point{8, 8}), field, 0, storage.ModeRead, nil)
	if err := d.BeginBoxQuery(q); !errors.Is(err, ErrWrongPosition) || !q.Failed() {
		t.Errorf("expected wrong position, got %v", err)
	}
	q = d.CreateBoxQuery(d.Box(), field, 3, storage.ModeRead, nil)
	if err := d.BeginBoxQuery(q); !errors.Is(err, ErrWrongTime) {
		t.Errorf("expected wrong time, got %v", err)
	}
	q = d.CreateBoxQuery(d.Box(), uint8Field("other"), 0, storage.ModeRead, nil)
	if err := d.BeginBoxQuery(q); !errors.Is(err, ErrFieldNotValid) {
		t.Errorf("expected field not valid, got %v", err)
	}
	q = d.CreateBoxQuery(d.Box(), field, 0, storage.ModeRead, nil)
	q.EndResolutions = []int{9}
	if err := d.BeginBoxQuery(q); !errors.Is(err, ErrWrongEndResolution) {
		t.Errorf("expected wrong end resolution, got %v", err)
	}
	q = d.CreateBoxQuery(d.Box(), field, 0, storage.ModeWrite, nil)
	if err := d.BeginBoxQuery(q); err != nil {
		t.Fatalf("unable to begin write: %v", err)
	}
	if err := d.ExecuteBoxQuery(context.Background(), ramAccess(t, d), q); !errors.Is(err, ErrNoWriteBuffer) {
		t.Errorf("expected missing write buffer, got %v", err)
	}
}

// abortingAccess cancels the query context on its first read.
type abortingAccess struct {
	storage.Access
	cancel context.CancelFunc
}

func (a *abortingAccess) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	a.cancel()
	return a.Access.ReadBlock(ctx, q)
}

func TestCancelledQuery(t *testing.T) {
	field := uint8Field("data")
	field.DefaultValue = 9
	d := testDataset(t, visus.Point{16, 16}, "V01010101", 2, field)
	stored := ramAccess(t, d)
	data := ramp(visus.Point{16, 16}, field.DType)
	if err := d.WriteFullResolution(context.Background(), stored, field, 0, visus.InvalidBox(), data); err != nil {
		t.Fatalf("unable to write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	access := &abortingAccess{Access: stored, cancel: cancel}
	q := d.CreateBoxQuery(d.Box(), field, 0, storage.ModeRead, visus.NewAborted(ctx))
	if err := d.BeginBoxQuery(q); err != nil {
		t.Fatalf("unable to begin: %v", err)
	}
	err := d.ExecuteBoxQuery(ctx, access, q)
	if !errors.Is(err, visus.ErrAborted) {
		t.Fatalf("expected aborted query, got %v", err)
	}
	if !q.Failed() {
		t.Errorf("expected failed query, got %s", q)
	}
	// blocks read after the abort are dropped, not merged
	for i := int64(0); i < q.Buffer.NumSamples(); i++ {
		if v := q.Buffer.Get(i, 0); v != 9 {
			t.Fatalf("sample %d changed to %g after abort", i, v)
		}
	}
}

// abortOnReadAccess trips a token on its n-th read and counts the reads
// started once the token tripped.
type abortOnReadAccess struct {
	storage.Access
	aborted *visus.Aborted
	at      int32
	reads   int32
	late    int32
}

func (a *abortOnReadAccess) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	if a.aborted.IsAborted() {
		atomic.AddInt32(&a.late, 1)
	}
	if atomic.AddInt32(&a.reads, 1) == a.at {
		a.aborted.Abort()
	}
	return a.Access.ReadBlock(ctx, q)
}

func TestNoReadsAfterAbort(t *testing.T) {
	field := uint8Field("data")
	d := testDataset(t, visus.Point{16, 16}, "V01010101", 2, field)
	stored := ramAccess(t, d)
	ctx := context.Background()
	if err := d.WriteFullResolution(ctx, stored, field, 0, visus.InvalidBox(), ramp(visus.Point{16, 16}, field.DType)); err != nil {
		t.Fatalf("unable to write: %v", err)
	}
	d.SetMaxConcurrentBlocks(1)

	aborted := visus.NewAborted(ctx)
	access := &abortOnReadAccess{Access: stored, aborted: aborted, at: 5}
	q := d.CreateBoxQuery(d.Box(), field, 0, storage.ModeRead, aborted)
	if err := d.BeginBoxQuery(q); err != nil {
		t.Fatalf("unable to begin: %v", err)
	}
	if err := d.ExecuteBoxQuery(ctx, access, q); !errors.Is(err, visus.ErrAborted) {
		t.Fatalf("expected aborted box query, got %v", err)
	}
	if access.reads != 5 || access.late != 0 {
		t.Errorf("box query: %d reads, %d after abort", access.reads, access.late)
	}

	var points []visus.Point
	visus.ForEachPoint(visus.Point{0, 0}, visus.Point{16, 16}, visus.PointOne(2), func(p visus.Point) bool {
		points = append(points, p.Clone())
		return true
	})
	aborted = visus.NewAborted(ctx)
	access = &abortOnReadAccess{Access: stored, aborted: aborted, at: 3}
	pq := d.CreatePointQueryFromPoints(points, field, 0, aborted)
	if err := d.BeginPointQuery(pq); err != nil {
		t.Fatalf("unable to begin point query: %v", err)
	}
	if err := d.ExecutePointQuery(ctx, access, pq); !errors.Is(err, visus.ErrAborted) {
		t.Fatalf("expected aborted point query, got %v", err)
	}
	if access.reads != 3 || access.late != 0 {
		t.Errorf("point query: %d reads, %d after abort", access.reads, access.late)
	}
}

// A 5D dataset of 65 levels has Hz addresses beyond 64 bits.
func TestDeepDataset(t *testing.T) {
	field := uint8Field("data")
	field.DefaultValue = 200
	n := int64(8192)
	d := testDataset(t, visus.Point{n, n, n, n, n}, "V"+strings.Repeat("01234", 13), 16, field)
	if d.MaxResolution() != 65 || d.HzOrder().Fast() {
		t.Fatalf("expected 65 levels, got %d", d.MaxResolution())
	}
	access := ramAccess(t, d)
	ctx := context.Background()

	p1 := visus.Point{n - 2, n - 2, n - 2, n - 2, n - 2}
	box := visus.NewBox(p1, visus.Point{n, n, n, n, n})
	data := ramp(box.Size(), field.DType)
	if err := d.WriteFullResolution(ctx, access, field, 0, box, data); err != nil {
		t.Fatalf("unable to write: %v", err)
	}
	got, err := d.ReadFullResolution(ctx, access, field, 0, box)
	if err != nil {
		t.Fatalf("unable to read: %v", err)
	}
	sameSamples(t, got, data)

	last := d.CreateBlockQuery(d.File.TotalBlocks()-1, field, 0, storage.ModeRead, nil)
	if last.EndAddress.IsUint64() || !last.EndAddress.Equal(idx.HzPow2(65)) {
		t.Errorf("last block ends at %s, expected 2^65", last.EndAddress)
	}

	points := []visus.Point{{n - 1, n - 1, n - 1, n - 1, n - 1}, p1, {0, 0, 0, 0, 0}}
	q := d.CreatePointQueryFromPoints(points, field, 0, nil)
	if err := d.BeginPointQuery(q); err != nil {
		t.Fatalf("unable to begin point query: %v", err)
	}
	if err := d.ExecutePointQuery(ctx, access, q); err != nil {
		t.Fatalf("unable to execute point query: %v", err)
	}
	for i, expected := range []float64{31, 0, 200} {
		if v := q.Buffer.Get(int64(i), 0); v != expected {
			t.Errorf("point %s: expected %g, got %g", points[i], expected, v)
		}
	}
}

func TestCreateDatasetChecksFirst(t *testing.T) {
	file := idx.NewFile()
	file.Box = visus.NewBox(visus.NewPoint(5, 0), visus.Point{8192, 8192, 8192, 8192, 8192})
	file.Bitmask = idx.MustParseBitmask("V" + strings.Repeat("01234", 13))
	file.BitsPerBlock = 2
	file.Fields = []idx.Field{uint8Field("data")}
	path := filepath.Join(t.TempDir(), "huge.idx")
	if _, err := CreateDataset(path, file); err == nil {
		t.Fatalf("expected error creating a dataset of 2^63 blocks")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("descriptor %q left behind by a failed create", path)
	}
}

func TestMissingBlocksKeepDefault(t *testing.T) {
	field := uint8Field("data")
	field.DefaultValue = 42
	d := testDataset(t, visus.Point{8, 8}, "V010101", 2, field)
	got, err := d.ReadFullResolution(context.Background(), diskAccess(t, d), field, 0, visus.InvalidBox())
	if err != nil {
		t.Fatalf("unable to read empty dataset: %v", err)
	}
	for i := int64(0); i < got.NumSamples(); i++ {
		if v := got.Get(i, 0); v != 42 {
			t.Fatalf("sample %d: expected default 42, got %g", i, v)
		}
	}
}

func TestCompressDataset(t *testing.T) {
	field := idx.NewField("data", visus.NewDType(visus.T_uint8, 1))
	d := testDataset(t, visus.Point{16, 16}, "V01010101", 4, field)
	ctx := context.Background()
	access := diskAccess(t, d)
	expected := ramp(visus.Point{16, 16}, field.DType)
	if err := d.WriteFullResolution(ctx, access, field, 0, visus.InvalidBox(), expected); err != nil {
		t.Fatalf("unable to write: %v", err)
	}
	access.Close()

	if err := d.CompressDataset(ctx, visus.Zstd, nil); err != nil {
		t.Fatalf("unable to compress: %v", err)
	}
	reopened, err := Open(d.URL)
	if err != nil {
		t.Fatalf("unable to reopen: %v", err)
	}
	if c := reopened.File.DefaultField().DefaultCompression; c != visus.Zstd {
		t.Errorf("expected zstd default compression, got %s", c)
	}
	got, err := reopened.ReadFullResolution(ctx, diskAccess(t, reopened), field, 0, visus.InvalidBox())
	if err != nil {
		t.Fatalf("unable to read compressed dataset: %v", err)
	}
	sameSamples(t, got, expected)
}
