// Package multiplex chains several accesses.  Reads walk the children in
// order until one has the block, then copy the block back into every earlier
// writable child, so a typical chain is a ram cache followed by a disk or
// cloud access.  Writes go to the last writable child.
package multiplex

import (
	"context"
	"errors"
	"fmt"

	"github.com/blang/semver"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		visus.Errorf("Unable to make semver in multiplex: %v\n", err)
	}
	storage.RegisterEngine(Engine{"multiplex", "chain of accesses with read-through caching", ver})
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

// NewAccess opens every config in "children".  Children inherit "url" when
// they do not set their own.
func (e Engine) NewAccess(file *idx.File, config visus.Config) (storage.Access, error) {
	base, err := storage.NewBase("multiplex", file, config)
	if err != nil {
		return nil, err
	}
	configs, err := config.GetConfigs("children")
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("multiplex access needs at least one child")
	}
	location, _, err := config.GetString("url")
	if err != nil {
		return nil, err
	}
	a := &Access{Base: base, writer: -1}
	for i, c := range configs {
		if _, found, _ := c.GetString("url"); !found {
			c.Set("url", location)
		}
		child, err := storage.NewAccess(file, c)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("multiplex child %d: %v", i, err)
		}
		if child.BitsPerBlock() != base.BitsPerBlock() {
			child.Close()
			a.Close()
			return nil, fmt.Errorf("multiplex child %q has %d bits per block, expected %d",
				child.Name(), child.BitsPerBlock(), base.BitsPerBlock())
		}
		a.children = append(a.children, child)
		if child.CanWrite() {
			a.writer = i
		}
	}
	return a, nil
}

// New returns a multiplex access over already opened children.
func New(file *idx.File, children ...storage.Access) (*Access, error) {
	base, err := storage.NewBase("multiplex", file, visus.NewConfig())
	if err != nil {
		return nil, err
	}
	a := &Access{Base: base, children: children, writer: -1}
	for i, child := range children {
		if child.CanWrite() {
			a.writer = i
		}
	}
	return a, nil
}

// Access dispatches block I/O to its children.
type Access struct {
	*storage.Base
	children []storage.Access
	writer   int // last writable child or -1
}

// Children returns the chained accesses.
func (a *Access) Children() []storage.Access {
	return a.children
}

func (a *Access) CanWrite() bool {
	return a.Base.CanWrite() && a.writer >= 0
}

// childMode is the mode a child runs in.  Writable children always run in
// write mode so reads can be cached into them.
func childMode(child storage.Access) storage.Mode {
	if child.CanWrite() {
		return storage.ModeWrite
	}
	return storage.ModeRead
}

func (a *Access) BeginIO(mode storage.Mode) error {
	if err := a.Base.BeginIO(mode); err != nil {
		return err
	}
	for i, child := range a.children {
		if !child.CanRead() && !child.CanWrite() {
			continue
		}
		if err := child.BeginIO(childMode(child)); err != nil {
			for _, prev := range a.children[:i] {
				if prev.CanRead() || prev.CanWrite() {
					prev.EndIO()
				}
			}
			a.Base.EndIO()
			return err
		}
	}
	return nil
}

func (a *Access) EndIO() error {
	var firstErr error
	for _, child := range a.children {
		if !child.CanRead() && !child.CanWrite() {
			continue
		}
		if err := child.EndIO(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.Base.EndIO()
	return firstErr
}

func (a *Access) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckRead(q); err != nil {
		return a.ReadFailed(q, err)
	}
	var lastErr error
	for i, child := range a.children {
		if !child.CanRead() {
			continue
		}
		err := child.ReadBlock(ctx, q)
		if err == nil {
			a.cacheBlock(ctx, q, i)
			return a.ReadOk(q, int(q.Buffer.NumBytes()))
		}
		if errors.Is(err, visus.ErrAborted) {
			return a.ReadFailed(q, err)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no readable child", storage.ErrBlockNotFound)
	}
	return a.ReadFailed(q, lastErr)
}

// cacheBlock writes a block read from child found into earlier writable children.
func (a *Access) cacheBlock(ctx context.Context, q *storage.BlockQuery, found int) {
	for _, child := range a.children[:found] {
		if !child.CanWrite() {
			continue
		}
		w := *q
		w.Mode = storage.ModeWrite
		if err := child.WriteBlock(ctx, &w); err != nil {
			visus.Debugf("Unable to cache block %d in %q: %v\n", q.BlockID, child.Name(), err)
		}
	}
	q.SetOk()
}

func (a *Access) WriteBlock(ctx context.Context, q *storage.BlockQuery) error {
	if a.writer < 0 {
		return a.WriteFailed(q, fmt.Errorf("%w: no writable child", storage.ErrNotSupported))
	}
	if err := a.CheckWrite(q); err != nil {
		return a.WriteFailed(q, err)
	}
	if err := a.children[a.writer].WriteBlock(ctx, q); err != nil {
		return a.WriteFailed(q, err)
	}
	// keep caches coherent
	for _, child := range a.children[:a.writer] {
		if child.CanWrite() {
			w := *q
			if err := child.WriteBlock(ctx, &w); err != nil {
				visus.Debugf("Unable to update block %d in %q: %v\n", q.BlockID, child.Name(), err)
			}
		}
	}
	return a.WriteOk(q, int(q.Buffer.NumBytes()))
}

func (a *Access) AcquireWriteLock(q *storage.BlockQuery) error {
	if a.writer < 0 {
		return fmt.Errorf("%w: no writable child", storage.ErrNotSupported)
	}
	return a.children[a.writer].AcquireWriteLock(q)
}

func (a *Access) ReleaseWriteLock(q *storage.BlockQuery) error {
	if a.writer < 0 {
		return fmt.Errorf("%w: no writable child", storage.ErrNotSupported)
	}
	return a.children[a.writer].ReleaseWriteLock(q)
}

// ChildStats returns the statistics of every child.
func (a *Access) ChildStats() []storage.Statistics {
	stats := make([]storage.Statistics, len(a.children))
	for i, child := range a.children {
		stats[i] = child.Stats()
	}
	return stats
}

func (a *Access) Close() error {
	var firstErr error
	for _, child := range a.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
