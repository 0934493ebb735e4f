package dataset

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// boxServer answers readdataset and boxquery requests for one dataset.
func boxServer(t *testing.T, d *Dataset, access storage.Access) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		if r.URL.Path != RemotePath || params.Get("dataset") != "test" {
			http.NotFound(w, r)
			return
		}
		switch params.Get("action") {
		case "readdataset":
			w.Write([]byte(d.File.String()))
		case "boxquery":
			box, err := visus.ParseOldFormatBox(params.Get("box"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			field, err := d.File.Field(params.Get("field"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			fromh, _ := strconv.Atoi(params.Get("fromh"))
			toh, _ := strconv.Atoi(params.Get("toh"))
			compression, err := visus.ParseCompression(params.Get("compression"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			q := d.CreateBoxQuery(box, field, 0, storage.ModeRead, nil)
			q.StartResolution, q.EndResolutions = fromh, []int{toh}
			if err := d.BeginBoxQuery(q); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := d.ExecuteBoxQuery(r.Context(), access, q); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			data, header, err := EncodeSamples(q.Buffer, compression)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			for k := range header {
				w.Header().Set(k, header.Get(k))
			}
			w.Write(data)
		default:
			http.Error(w, "bad action", http.StatusBadRequest)
		}
	}))
}

func TestRemoteBoxQuery(t *testing.T) {
	field := uint8Field("data")
	d := testDataset(t, visus.Point{16, 16}, "V01010101", 4, field)
	access := ramAccess(t, d)
	ctx := context.Background()
	data := ramp(visus.Point{16, 16}, field.DType)
	if err := d.WriteFullResolution(ctx, access, field, 0, visus.InvalidBox(), data); err != nil {
		t.Fatalf("unable to write: %v", err)
	}

	server := boxServer(t, d, access)
	defer server.Close()

	if _, err := OpenRemote(server.URL+RemotePath, server.Client()); err == nil {
		t.Errorf("expected error opening a remote dataset without name")
	}
	remote, err := OpenRemote(server.URL+RemotePath+"?dataset=test", server.Client())
	if err != nil {
		t.Fatalf("unable to open remote dataset: %v", err)
	}
	if !remote.IsRemote() || !remote.Box().Equal(d.Box()) || remote.MaxResolution() != d.MaxResolution() {
		t.Fatalf("remote dataset does not match local one:\n%s", remote)
	}
	if _, err := remote.CreateAccess(nil); err == nil {
		t.Errorf("expected no default access for a remote dataset")
	}

	box := visus.NewBox(visus.Point{2, 3}, visus.Point{13, 9})
	for _, end := range []int{5, remote.MaxResolution()} {
		q := remote.CreateBoxQuery(box, remote.File.DefaultField(), 0, storage.ModeRead, nil)
		q.EndResolutions = []int{end}
		if err := remote.BeginBoxQuery(q); err != nil {
			t.Fatalf("unable to begin remote query: %v", err)
		}
		if err := remote.ExecuteBoxQuery(ctx, nil, q); err != nil {
			t.Fatalf("unable to execute remote query: %v", err)
		}

		local := d.CreateBoxQuery(box, field, 0, storage.ModeRead, nil)
		local.EndResolutions = []int{end}
		d.BeginBoxQuery(local)
		if err := d.ExecuteBoxQuery(ctx, access, local); err != nil {
			t.Fatalf("unable to execute local query: %v", err)
		}
		sameSamples(t, q.Buffer, local.Buffer)
	}

	w := remote.CreateBoxQuery(box, remote.File.DefaultField(), 0, storage.ModeWrite, nil)
	remote.BeginBoxQuery(w)
	w.Buffer = array.New(w.NumSamples(), field.DType)
	if err := remote.ExecuteBoxQuery(ctx, nil, w); !errors.Is(err, ErrNoAccess) {
		t.Errorf("expected remote writes to fail, got %v", err)
	}
}

func TestEncodeSamples(t *testing.T) {
	buf := ramp(visus.Point{5, 3, 2}, visus.NewDType(visus.T_float32, 3))
	for _, compression := range []visus.Compression{visus.Uncompressed, visus.Zip, visus.LZ4, visus.Zstd, visus.Snappy} {
		data, header, err := EncodeSamples(buf, compression)
		if err != nil {
			t.Fatalf("unable to encode with %s: %v", compression, err)
		}
		if header.Get(HeaderCompression) != compression.String() {
			t.Errorf("bad compression header %q", header.Get(HeaderCompression))
		}
		got, err := DecodeSamples(header, data)
		if err != nil {
			t.Fatalf("unable to decode with %s: %v", compression, err)
		}
		if got.DType != buf.DType || got.Layout != buf.Layout {
			t.Errorf("decoded %s, expected %s", got, buf)
		}
		sameSamples(t, got, buf)
	}

	header := make(http.Header)
	header.Set(HeaderDims, "0 4")
	if _, err := DecodeSamples(header, nil); err == nil {
		t.Errorf("expected error for empty dims")
	}
}

func TestMatrixFormat(t *testing.T) {
	m := []float64{1, 0, 0.5, -2, 1e-3, 4}
	got, err := ParseMatrix(FormatMatrix(m))
	if err != nil {
		t.Fatal(err)
	}
	for i := range m {
		if got[i] != m[i] {
			t.Errorf("element %d: expected %g, got %g", i, m[i], got[i])
		}
	}
	if _, err := ParseMatrix("1 x 3"); err == nil {
		t.Errorf("expected error for bad matrix")
	}
}
