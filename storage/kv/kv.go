// Package kv stores blocks in an embedded BadgerDB key-value store.  Keys are
// "field/time/blockid" and values are msgpack block records.
package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

const (
	// DefaultSyncWrites is true if all writes are synced to disk, thereby making db resilient
	// at cost of speed.
	DefaultSyncWrites = false

	syncInterval = 30 * time.Second
)

func init() {
	ver, err := semver.Make("0.3.0")
	if err != nil {
		visus.Errorf("Unable to make semver in kv: %v\n", err)
	}
	storage.RegisterEngine(Engine{"kv", "BadgerDB block store", ver})
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

// badgerLogger sends badger messages to the visus log.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { visus.Errorf(format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { visus.Warningf(format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { visus.Debugf(format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { visus.Debugf(format, args...) }

// parseConfig returns the database directory, "path" if given or else the
// descriptor url with its extension replaced by ".badger".
func parseConfig(config visus.Config) (path string, inMemory bool, err error) {
	if inMemory, _, err = config.GetBool("in_memory"); err != nil || inMemory {
		return
	}
	var found bool
	if path, found, err = config.GetString("path"); err != nil {
		return
	}
	if found && path != "" {
		return
	}
	location, _, err := config.GetString("url")
	if err != nil {
		return
	}
	location = strings.TrimPrefix(location, "file://")
	if location == "" {
		err = fmt.Errorf("%q or %q must be specified for kv access", "path", "url")
		return
	}
	path = strings.TrimSuffix(location, filepath.Ext(location)) + ".badger"
	return
}

func getOptions(path string, inMemory, readOnly bool, config visus.Config) (badger.Options, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{}).
		WithNumVersionsToKeep(1).
		WithSyncWrites(DefaultSyncWrites)
	if inMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if readOnly {
		opts = opts.WithReadOnly(true)
	}
	valueSizeThresh, found, err := config.GetInt("value_threshold")
	if err != nil {
		return opts, err
	}
	if found {
		opts = opts.WithValueThreshold(int64(valueSizeThresh))
	}
	return opts, nil
}

// NewAccess opens, creating if needed, the badger database of a dataset.
func (e Engine) NewAccess(file *idx.File, config visus.Config) (storage.Access, error) {
	base, err := storage.NewBase("kv", file, config)
	if err != nil {
		return nil, err
	}
	path, inMemory, err := parseConfig(config)
	if err != nil {
		return nil, err
	}
	compression := visus.Zstd
	if s, found, err := config.GetString("compression"); err != nil {
		return nil, err
	} else if found {
		if compression, err = visus.ParseCompression(s); err != nil {
			return nil, err
		}
	}
	if !inMemory {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			visus.Infof("Database not already at path (%s). Creating directory...\n", path)
			if err := os.MkdirAll(path, 0755); err != nil {
				return nil, fmt.Errorf("can't make directory at %s: %v", path, err)
			}
		}
	}
	opts, err := getOptions(path, inMemory, !base.CanWrite(), config)
	if err != nil {
		return nil, err
	}
	timedLog := visus.NewTimeLog()
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger @ %q: %v", path, err)
	}
	timedLog.Infof("Opened badger @ path %q\n", path)

	a := &Access{
		Base:        base,
		db:          db,
		directory:   path,
		compression: compression,
		stopSyncCh:  make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
	if base.CanWrite() && !inMemory {
		go a.syncPeriodically()
	} else {
		close(a.stoppedCh)
	}
	return a, nil
}

// Access stores encoded blocks in badger.
type Access struct {
	*storage.Base
	db          *badger.DB
	directory   string
	compression visus.Compression

	stopSyncCh chan struct{}
	stoppedCh  chan struct{}
}

// Periodically sync to prevent too many writes from being buffered
// if the process crashes.
func (a *Access) syncPeriodically() {
	defer close(a.stoppedCh)
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopSyncCh:
			visus.Debugf("Stopping sync goroutine for badger @ %s\n", a.directory)
			return
		case <-ticker.C:
			if err := a.db.Sync(); err != nil {
				visus.Errorf("Unable to sync badger @ %s: %v\n", a.directory, err)
			}
		}
	}
}

func blockKey(q *storage.BlockQuery) []byte {
	return []byte(q.Key())
}

func (a *Access) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckRead(q); err != nil {
		return a.ReadFailed(q, err)
	}
	var value []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(q))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return a.ReadFailed(q, fmt.Errorf("%w: key %q", storage.ErrBlockNotFound, q.Key()))
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
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(q), value)
	})
	if err != nil {
		return a.WriteFailed(q, err)
	}
	return a.WriteOk(q, len(value))
}

// NumBlocks counts the stored blocks of a field at a time.
func (a *Access) NumBlocks(field string, time float64) (int, error) {
	prefix := []byte(fmt.Sprintf("%s/%g/", field, time))
	n := 0
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// DeleteBlock removes a block.
func (a *Access) DeleteBlock(q *storage.BlockQuery) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(blockKey(q))
	})
}

func (a *Access) Close() error {
	select {
	case <-a.stopSyncCh:
		return nil
	default:
		close(a.stopSyncCh)
	}
	<-a.stoppedCh
	return a.db.Close()
}
