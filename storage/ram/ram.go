// Package ram implements a bounded in-memory block cache on top of freecache.
// Old blocks are evicted when the cache is full, so a ram access is usually
// the first child of a multiplex access.
package ram

import (
	"context"
	"errors"
	"fmt"

	"github.com/blang/semver"
	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

// DefaultCacheSize in bytes.
const DefaultCacheSize = 64 << 20

func init() {
	ver, err := semver.Make("0.2.0")
	if err != nil {
		visus.Errorf("Unable to make semver in ram: %v\n", err)
	}
	storage.RegisterEngine(Engine{"ram", "bounded in-memory block cache", ver})
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

// NewAccess returns a cache of "size" bytes (or a humanized size like "512MB").
// Blocks are compressed with "compression" before storage, lz4 by default.
func (e Engine) NewAccess(file *idx.File, config visus.Config) (storage.Access, error) {
	base, err := storage.NewBase("ram", file, config)
	if err != nil {
		return nil, err
	}
	size, err := parseSize(config)
	if err != nil {
		return nil, err
	}
	compression := visus.LZ4
	if s, found, err := config.GetString("compression"); err != nil {
		return nil, err
	} else if found {
		if compression, err = visus.ParseCompression(s); err != nil {
			return nil, err
		}
	}
	visus.Infof("Created freecache of ~ %s for block access %q.\n", humanize.Bytes(uint64(size)), base.Name())
	return &Access{
		Base:        base,
		cache:       freecache.NewCache(size),
		compression: compression,
	}, nil
}

func parseSize(config visus.Config) (int, error) {
	s, found, err := config.GetString("size")
	if err != nil {
		return 0, err
	}
	if !found || s == "" {
		return DefaultCacheSize, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("bad ram cache size %q: %v", s, err)
	}
	return int(n), nil
}

// Access keeps encoded blocks in a freecache.Cache.
type Access struct {
	*storage.Base
	cache       *freecache.Cache
	compression visus.Compression
}

func (a *Access) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckRead(q); err != nil {
		return a.ReadFailed(q, err)
	}
	value, err := a.cache.Get([]byte(q.Key()))
	if errors.Is(err, freecache.ErrNotFound) {
		return a.ReadFailed(q, fmt.Errorf("%w: %s not cached", storage.ErrBlockNotFound, q.Key()))
	}
	if err != nil {
		return a.ReadFailed(q, err)
	}
	if err := storage.DecodeBlock(q, value); err != nil {
		return a.ReadFailed(q, err)
	}
	return a.ReadOk(q, len(value))
}

func (a *Access) WriteBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckWrite(q); err != nil {
		return a.WriteFailed(q, err)
	}
	value, err := storage.EncodeBlock(q, a.compression)
	if err != nil {
		return a.WriteFailed(q, err)
	}
	if err := a.cache.Set([]byte(q.Key()), value, 0); err != nil {
		return a.WriteFailed(q, fmt.Errorf("cannot cache %s: %v", q.Key(), err))
	}
	return a.WriteOk(q, len(value))
}

// Len returns the number of cached blocks.
func (a *Access) Len() int64 {
	return a.cache.EntryCount()
}

func (a *Access) Close() error {
	a.cache.Clear()
	return nil
}
