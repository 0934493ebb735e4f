package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/janelia-flyem/visus/dataset"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"

	// engines a dataset access can be configured with
	_ "github.com/janelia-flyem/visus/storage/cloud"
	_ "github.com/janelia-flyem/visus/storage/disk"
	_ "github.com/janelia-flyem/visus/storage/kv"
	_ "github.com/janelia-flyem/visus/storage/mandelbrot"
	_ "github.com/janelia-flyem/visus/storage/multiplex"
	_ "github.com/janelia-flyem/visus/storage/ram"
)

var (
	// ErrUnknownDataset is returned for names not in the configuration.
	ErrUnknownDataset = errors.New("unknown dataset")
)

// Server publishes the datasets of a configuration.  Datasets are opened
// on first use and stay open until Close.
type Server struct {
	config  *Config
	handler http.Handler
	monitor *storage.Monitor

	loading singleflight.Group

	mu     sync.RWMutex
	loaded map[string]*published
}

type published struct {
	name   string
	ds     *dataset.Dataset
	access storage.Access // nil forwards queries to a remote server
}

// New returns a server for the configuration.  Nothing is opened yet.
func New(config *Config) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server needs a configuration")
	}
	if config.Server.HTTPAddress == "" {
		config.Server.HTTPAddress = DefaultWebAddress
	}
	s := &Server{
		config:  config,
		monitor: storage.NewMonitor(storage.DefaultMonitorInterval),
		loaded:  make(map[string]*published),
	}
	s.handler = s.newMux()
	return s, nil
}

// Handler returns the HTTP handler of every route.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Datasets returns the published dataset names.
func (s *Server) Datasets() []string {
	return s.config.Names()
}

// dataset returns the named dataset, opening it once even under concurrent
// requests.
func (s *Server) dataset(name string) (*published, error) {
	s.mu.RLock()
	p, found := s.loaded[name]
	s.mu.RUnlock()
	if found {
		return p, nil
	}
	dsConfig, found := s.config.Dataset[name]
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownDataset, name)
	}
	v, err, _ := s.loading.Do(name, func() (interface{}, error) {
		s.mu.RLock()
		p, found := s.loaded[name]
		s.mu.RUnlock()
		if found {
			return p, nil
		}
		p, err := s.open(name, dsConfig)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.loaded[name] = p
		s.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*published), nil
}

func (s *Server) open(name string, config DatasetConfig) (*published, error) {
	timedLog := visus.NewTimeLog()
	ds, err := dataset.Open(config.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open dataset %q: %v", name, err)
	}
	if n := s.config.Server.MaxConcurrentBlocks; n > 0 {
		ds.SetMaxConcurrentBlocks(n)
	}
	p := &published{name: name, ds: ds}
	access := config.AccessConfig()
	if !ds.IsRemote() || access != nil {
		if p.access, err = ds.CreateAccess(access); err != nil {
			return nil, fmt.Errorf("unable to open access for dataset %q: %v", name, err)
		}
		s.monitor.Add(name, p.access)
	}
	timedLog.Infof("Opened dataset %q from %s\n", name, config.Path)
	return p, nil
}

// Serve listens on the configured address until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.HTTPAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		visus.Infof("Web server listening at %s ...\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close closes every opened access.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, p := range s.loaded {
		if p.access == nil {
			continue
		}
		visus.Infof("Closing dataset %q: %s\n", name, p.access.Stats())
		s.monitor.Remove(name)
		if err := p.access.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.loaded = make(map[string]*published)
	return firstErr
}
