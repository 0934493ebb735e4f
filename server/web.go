package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/dataset"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

func (s *Server) newMux() *web.Mux {
	mux := web.New()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(logHTTP)
	if len(s.config.Server.AllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.config.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
			ExposedHeaders: []string{
				dataset.HeaderDims, dataset.HeaderDType, dataset.HeaderCompression, dataset.HeaderLayout,
			},
		})
		mux.Use(c.Handler)
	}
	mux.Get(dataset.RemotePath, s.visusHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFound(w, r, "no handler for %s", r.URL.Path)
	})
	return mux
}

// logHTTP is middleware that logs the duration of each request.
func logHTTP(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		visus.Debugf("[%s] %s %s (%s)\n", middleware.GetReqID(*c), r.Method, r.URL, time.Since(start))
	}
	return http.HandlerFunc(fn)
}

// BadRequest writes an error message to the server log and a 400 Bad Request to the client.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	visus.Errorf("%s (%s)\n", msg, r.URL)
	http.Error(w, msg, http.StatusBadRequest)
}

// NotFound is like BadRequest for missing datasets and blocks.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	visus.Infof("%s (%s)\n", msg, r.URL)
	http.Error(w, msg, http.StatusNotFound)
}

// visusHandler dispatches on the "action" parameter.
func (s *Server) visusHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch action {
	case "list":
		s.handleList(w, r)
	case "readdataset":
		s.handleReadDataset(w, r)
	case "boxquery":
		s.handleBoxQuery(w, r)
	case "pointquery":
		s.handlePointQuery(w, r)
	case "readblock":
		s.handleReadBlock(w, r)
	case "load":
		s.handleLoad(w, r)
	case "":
		BadRequest(w, r, "no action given")
	default:
		BadRequest(w, r, "unknown action %q", action)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Datasets()); err != nil {
		visus.Errorf("Unable to write dataset list: %v\n", err)
	}
}

// handleLoad returns the block traffic of the last second per opened
// dataset.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.monitor.Loads()); err != nil {
		visus.Errorf("Unable to write load: %v\n", err)
	}
}

// requestDataset returns the dataset named by the "dataset" parameter or
// writes the error response.
func (s *Server) requestDataset(w http.ResponseWriter, r *http.Request) (*published, bool) {
	name := r.URL.Query().Get("dataset")
	if name == "" {
		BadRequest(w, r, "no dataset given")
		return nil, false
	}
	p, err := s.dataset(name)
	if err != nil {
		if errors.Is(err, ErrUnknownDataset) {
			NotFound(w, r, "%v", err)
		} else {
			BadRequest(w, r, "%v", err)
		}
		return nil, false
	}
	return p, true
}

func (s *Server) handleReadDataset(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requestDataset(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, p.ds.File.String())
}

// queryParams holds the parameters shared by sample queries.
type queryParams struct {
	field       idx.Field
	time        float64
	toh         int
	compression visus.Compression
}

func parseQueryParams(ds *dataset.Dataset, r *http.Request) (qp queryParams, err error) {
	params := r.URL.Query()
	qp.field = ds.File.DefaultField()
	if name := params.Get("field"); name != "" {
		if qp.field, err = ds.File.Field(name); err != nil {
			return
		}
	}
	qp.time = ds.File.Timesteps.Default()
	if s := params.Get("time"); s != "" {
		if qp.time, err = strconv.ParseFloat(s, 64); err != nil {
			err = fmt.Errorf("bad time %q", s)
			return
		}
	}
	qp.toh = ds.MaxResolution()
	if s := params.Get("toh"); s != "" {
		if qp.toh, err = strconv.Atoi(s); err != nil {
			err = fmt.Errorf("bad toh %q", s)
			return
		}
	}
	if s := params.Get("maxh"); s != "" {
		maxh, perr := strconv.Atoi(s)
		if perr != nil || maxh != ds.MaxResolution() {
			err = fmt.Errorf("maxh %q does not match dataset max resolution %d", s, ds.MaxResolution())
			return
		}
	}
	qp.compression = dataset.DefaultRemoteCompression
	if s := params.Get("compression"); s != "" {
		qp.compression, err = visus.ParseCompression(s)
	}
	return
}

func (s *Server) handleBoxQuery(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requestDataset(w, r)
	if !ok {
		return
	}
	qp, err := parseQueryParams(p.ds, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	params := r.URL.Query()
	box := p.ds.Box()
	if s := params.Get("box"); s != "" {
		if box, err = visus.ParseOldFormatBox(s); err != nil {
			BadRequest(w, r, "%v", err)
			return
		}
	}
	fromh := 0
	if s := params.Get("fromh"); s != "" {
		if fromh, err = strconv.Atoi(s); err != nil {
			BadRequest(w, r, "bad fromh %q", s)
			return
		}
	}

	ctx := r.Context()
	q := p.ds.CreateBoxQuery(box, qp.field, qp.time, storage.ModeRead, visus.NewAborted(ctx))
	q.StartResolution = fromh
	q.EndResolutions = []int{qp.toh}
	if err := p.ds.BeginBoxQuery(q); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if err := p.ds.ExecuteBoxQuery(ctx, p.access, q); err != nil {
		BadRequest(w, r, "box query on dataset %q failed: %v", p.name, err)
		return
	}
	writeSamples(w, r, q.Buffer, qp.compression)
}

func (s *Server) handlePointQuery(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requestDataset(w, r)
	if !ok {
		return
	}
	qp, err := parseQueryParams(p.ds, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	params := r.URL.Query()
	var pos dataset.Position
	if params.Get("box") == "" {
		BadRequest(w, r, "no box given")
		return
	}
	if pos.Box, err = visus.ParseOldFormatBox(params.Get("box")); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if s := params.Get("matrix"); s != "" {
		if pos.Matrix, err = dataset.ParseMatrix(s); err != nil {
			BadRequest(w, r, "%v", err)
			return
		}
	}

	ctx := r.Context()
	q := p.ds.CreatePointQuery(pos, qp.field, qp.time, visus.NewAborted(ctx))
	q.EndResolutions = []int{qp.toh}
	if s := params.Get("nsamples"); s != "" {
		if q.NSamples, err = visus.ParsePoint(s); err != nil {
			BadRequest(w, r, "bad nsamples %q", s)
			return
		}
	}
	if err := p.ds.BeginPointQuery(q); err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	if err := p.ds.ExecutePointQuery(ctx, p.access, q); err != nil {
		BadRequest(w, r, "point query on dataset %q failed: %v", p.name, err)
		return
	}
	writeSamples(w, r, q.Buffer, qp.compression)
}

func (s *Server) handleReadBlock(w http.ResponseWriter, r *http.Request) {
	p, ok := s.requestDataset(w, r)
	if !ok {
		return
	}
	if p.access == nil {
		BadRequest(w, r, "dataset %q has no block access", p.name)
		return
	}
	qp, err := parseQueryParams(p.ds, r)
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	s0 := r.URL.Query().Get("block")
	blockid, err := strconv.ParseInt(s0, 10, 64)
	if err != nil || blockid < 0 || blockid >= p.ds.File.TotalBlocks() {
		BadRequest(w, r, "bad block %q", s0)
		return
	}

	ctx := r.Context()
	q := p.ds.CreateBlockQuery(blockid, qp.field, qp.time, storage.ModeRead, visus.NewAborted(ctx))
	if err := p.ds.ReadBlock(ctx, p.access, q); err != nil {
		if errors.Is(err, storage.ErrBlockNotFound) {
			NotFound(w, r, "block %d of dataset %q not found", blockid, p.name)
		} else {
			BadRequest(w, r, "%v", err)
		}
		return
	}
	writeSamples(w, r, q.Buffer, qp.compression)
}

func writeSamples(w http.ResponseWriter, r *http.Request, buf *array.Array, compression visus.Compression) {
	data, header, err := dataset.EncodeSamples(buf, compression)
	if err != nil {
		BadRequest(w, r, "unable to encode samples: %v", err)
		return
	}
	for k := range header {
		w.Header().Set(k, header.Get(k))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		visus.Errorf("Unable to write %d bytes of samples: %v\n", len(data), err)
	}
}
