package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// RemotePath is the server endpoint of every remote action.
const RemotePath = "/mod_visus"

// Response headers describing an encoded sample array.
const (
	HeaderDims        = "visus-dims"
	HeaderDType       = "visus-dtype"
	HeaderCompression = "visus-compression"
	HeaderLayout      = "visus-layout"
)

// DefaultRemoteCompression is requested when none is given.
var DefaultRemoteCompression = visus.Zip

// OpenRemote loads a dataset descriptor from a visus server.  location is
// either the server URL with a "dataset" parameter or the full readdataset
// request.  A nil client uses http.DefaultClient.
func OpenRemote(location string, client *http.Client) (*Dataset, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("bad remote dataset url %q: %v", location, err)
	}
	params := u.Query()
	name := params.Get("dataset")
	if name == "" {
		return nil, fmt.Errorf("remote dataset url %q has no dataset parameter", location)
	}
	if client == nil {
		client = http.DefaultClient
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: RemotePath}
	req := url.Values{}
	req.Set("action", "readdataset")
	req.Set("dataset", name)
	base.RawQuery = req.Encode()

	body, _, err := remoteGet(context.Background(), client, base.String())
	if err != nil {
		return nil, err
	}
	file, err := idx.Parse(string(body))
	if err != nil {
		return nil, fmt.Errorf("unable to parse remote dataset %q: %v", location, err)
	}
	if err := file.Validate(location); err != nil {
		return nil, err
	}
	d, err := New(file, location)
	if err != nil {
		return nil, err
	}
	base.RawQuery = url.Values{"dataset": {name}}.Encode()
	d.remote = base
	d.client = client
	return d, nil
}

func remoteGet(ctx context.Context, client *http.Client, request string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("remote request %q failed (%s): %s", request, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, resp.Header, nil
}

func (d *Dataset) remoteRequest(action string) (*url.URL, url.Values) {
	u := *d.remote
	params := u.Query()
	params.Set("action", action)
	params.Set("compression", DefaultRemoteCompression.String())
	return &u, params
}

// CreateBoxQueryRequest returns the server request executing q.
func (d *Dataset) CreateBoxQueryRequest(q *BoxQuery) (string, error) {
	if d.remote == nil {
		return "", fmt.Errorf("dataset %q is not remote", d.URL)
	}
	u, params := d.remoteRequest("boxquery")
	params.Set("time", strconv.FormatFloat(q.Time, 'g', -1, 64))
	params.Set("field", q.Field.Name)
	params.Set("fromh", strconv.Itoa(q.StartResolution))
	params.Set("toh", strconv.Itoa(q.EndResolution))
	params.Set("maxh", strconv.Itoa(d.maxh))
	params.Set("box", q.Box.ToOldFormatString())
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// CreatePointQueryRequest returns the server request executing q.
func (d *Dataset) CreatePointQueryRequest(q *PointQuery) (string, error) {
	if d.remote == nil {
		return "", fmt.Errorf("dataset %q is not remote", d.URL)
	}
	if q.explicit {
		return "", fmt.Errorf("%w: explicit points cannot be sent to a server", ErrWrongPosition)
	}
	u, params := d.remoteRequest("pointquery")
	params.Set("time", strconv.FormatFloat(q.Time, 'g', -1, 64))
	params.Set("field", q.Field.Name)
	params.Set("toh", strconv.Itoa(q.EndResolution))
	params.Set("maxh", strconv.Itoa(d.maxh))
	if len(q.Position.Matrix) > 0 {
		params.Set("matrix", FormatMatrix(q.Position.Matrix))
	}
	params.Set("box", q.Position.Box.ToOldFormatString())
	params.Set("nsamples", q.NSamples.ToString())
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (d *Dataset) executeRemoteBoxQuery(ctx context.Context, q *BoxQuery) error {
	if q.Mode != storage.ModeRead {
		return q.setFailed(fmt.Errorf("%w: remote datasets are read-only", ErrNoAccess))
	}
	request, err := d.CreateBoxQueryRequest(q)
	if err != nil {
		return q.setFailed(err)
	}
	buf, err := d.fetchSamples(ctx, request, q.Field)
	if err != nil {
		return q.setFailed(err)
	}
	if !buf.Dims.Equal(q.NumSamples()) {
		return q.setFailed(fmt.Errorf("%w: server sent %s, expected %s", ErrWrongNumberOfSamples, buf.Dims, q.NumSamples()))
	}
	q.Buffer = buf
	q.CurResolution = q.EndResolution
	return nil
}

func (d *Dataset) executeRemotePointQuery(ctx context.Context, q *PointQuery) error {
	request, err := d.CreatePointQueryRequest(q)
	if err != nil {
		return q.setFailed(err)
	}
	buf, err := d.fetchSamples(ctx, request, q.Field)
	if err != nil {
		return q.setFailed(err)
	}
	if buf.NumSamples() != q.NSamples.Prod() {
		return q.setFailed(fmt.Errorf("%w: server sent %s, expected %s", ErrWrongNumberOfSamples, buf.Dims, q.NSamples))
	}
	buf.Dims = q.NSamples.Clone()
	q.Buffer = buf
	q.CurResolution = q.EndResolution
	return nil
}

func (d *Dataset) fetchSamples(ctx context.Context, request string, field idx.Field) (*array.Array, error) {
	visus.Debugf("Remote request %s\n", request)
	body, header, err := remoteGet(ctx, d.client, request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, visus.ErrAborted
		}
		return nil, err
	}
	buf, err := DecodeSamples(header, body)
	if err != nil {
		return nil, err
	}
	if buf.DType != field.DType {
		return nil, fmt.Errorf("server sent %s samples for field %q of %s", buf.DType, field.Name, field.DType)
	}
	return buf, nil
}

// EncodeSamples compresses the samples of buf and returns the headers
// describing them.
func EncodeSamples(buf *array.Array, compression visus.Compression) ([]byte, http.Header, error) {
	data, err := visus.Compress(buf.Heap[:buf.NumBytes()], compression)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	header.Set(HeaderDims, buf.Dims.ToString())
	header.Set(HeaderDType, buf.DType.String())
	header.Set(HeaderCompression, compression.String())
	header.Set(HeaderLayout, buf.Layout.String())
	return data, header, nil
}

// DecodeSamples is the inverse of EncodeSamples.
func DecodeSamples(header http.Header, body []byte) (*array.Array, error) {
	dims, err := visus.ParsePoint(header.Get(HeaderDims))
	if err != nil || !dims.AllPositive() {
		return nil, fmt.Errorf("bad %s header %q", HeaderDims, header.Get(HeaderDims))
	}
	dtype, err := visus.ParseDType(header.Get(HeaderDType))
	if err != nil {
		return nil, err
	}
	compression, err := visus.ParseCompression(header.Get(HeaderCompression))
	if err != nil {
		return nil, err
	}
	layout, err := array.ParseLayout(header.Get(HeaderLayout))
	if err != nil {
		return nil, err
	}
	data, err := visus.Decompress(body, compression, int(dtype.ByteSize(dims.Prod())))
	if err != nil {
		return nil, err
	}
	buf, err := array.FromBytes(dims, dtype, data)
	if err != nil {
		return nil, err
	}
	buf.Layout = layout
	return buf, nil
}

// FormatMatrix writes a matrix as space separated values.
func FormatMatrix(m []float64) string {
	s := make([]string, len(m))
	for i, v := range m {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(s, " ")
}

// ParseMatrix is the inverse of FormatMatrix.
func ParseMatrix(s string) ([]float64, error) {
	fields := strings.Fields(s)
	m := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad matrix %q: %v", s, err)
		}
		m[i] = v
	}
	return m, nil
}
