package storage

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/visus"
)

// Engine is a storage engine that can open block accesses for a dataset.
type Engine interface {
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// NewAccess opens an access for the dataset described by file.  The
	// config always has "url" set to the location of the descriptor.
	NewAccess(file *idx.File, config visus.Config) (Access, error)
}

var (
	enginesMu        sync.RWMutex
	availableEngines = make(map[string]Engine)
)

// RegisterEngine makes an engine available by name.  Engines call it from init().
func RegisterEngine(e Engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if old, found := availableEngines[e.GetName()]; found {
		if !e.GetSemVer().GT(old.GetSemVer()) {
			return
		}
	}
	availableEngines[e.GetName()] = e
}

// GetEngine returns the named engine.
func GetEngine(name string) (Engine, bool) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, found := availableEngines[name]
	return e, found
}

// EnginesAvailable returns a description of the registered engines.
func EnginesAvailable() string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	var names []string
	for _, e := range availableEngines {
		names = append(names, fmt.Sprintf("%s [%s]", e.GetName(), e.GetSemVer()))
	}
	sort.Strings(names)
	return strings.Join(names, "; ")
}

// engineForURL picks an engine from the scheme of a location.
func engineForURL(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return "disk"
	}
	switch u.Scheme {
	case "s3", "gs", "gcs", "mem", "azblob":
		return "cloud"
	case "mandelbrot":
		return "mandelbrot"
	}
	return "disk"
}

// NewAccess opens an access through the engine named by config "type".
// Without a type the engine is guessed from config "url".
func NewAccess(file *idx.File, config visus.Config) (Access, error) {
	if config == nil {
		config = visus.NewConfig()
	}
	location, _, err := config.GetString("url")
	if err != nil {
		return nil, err
	}
	name, found, err := config.GetString("type")
	if err != nil {
		return nil, err
	}
	if !found || name == "" {
		name = engineForURL(location)
	}
	e, found := GetEngine(name)
	if !found {
		return nil, fmt.Errorf("no storage engine %q available (have %s)", name, EnginesAvailable())
	}
	access, err := e.NewAccess(file, config)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s access: %v", name, err)
	}
	visus.Debugf("Opened %s access %q for %s\n", e.GetName(), access.Name(), location)
	return access, nil
}

// CanReadWrite parses the "chmod" setting, "rw" by default.
func CanReadWrite(config visus.Config) (canRead, canWrite bool, err error) {
	chmod, found, err := config.GetString("chmod")
	if err != nil {
		return false, false, err
	}
	if !found {
		chmod = "rw"
	}
	return strings.Contains(chmod, "r"), strings.Contains(chmod, "w"), nil
}
