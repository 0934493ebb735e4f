/*
	Package disk implements IDX binary block files.

	A block file starts with a file header of 10 big-endian uint32 followed by
	one block header of 10 big-endian uint32 per (field, block slot):

		prefix0 prefix1 offset_low offset_high size flags suffix0..3

	and then the encoded blocks.  The low 4 bits of flags hold the codec and
	bit 0x10 is set for row-major blocks.  A block with zero offset or size was
	never written.
*/
package disk

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blang/semver"
	"github.com/golang/groupcache/lru"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

const (
	// DefaultMaxOpenFiles is the number of block files kept open.
	DefaultMaxOpenFiles = 64

	headerWords      = 10
	compressionMask  = 0x0f
	flagRowMajor     = 0x10
	lockPollInterval = 10 * time.Millisecond
)

func init() {
	ver, err := semver.Make("6.0.0")
	if err != nil {
		visus.Errorf("Unable to make semver in disk: %v\n", err)
	}
	storage.RegisterEngine(Engine{"disk", "IDX binary block files", ver})
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

// NewAccess returns an access to the block files of the dataset whose
// descriptor is at config "url".  Optional settings:
//
//	compression          codec for new blocks, default is the field default
//	disable_write_locks  skip the <file>.lock advisory lock files
//	max_open_files       number of block files kept open
func (e Engine) NewAccess(file *idx.File, config visus.Config) (storage.Access, error) {
	base, err := storage.NewBase("disk", file, config)
	if err != nil {
		return nil, err
	}
	location, _, err := config.GetString("url")
	if err != nil {
		return nil, err
	}
	location = strings.TrimPrefix(location, "file://")
	dir := filepath.Dir(location)

	a := &Access{
		Base:         base,
		file:         file,
		template:     resolveAlias(file.FilenameTemplate, dir),
		timeTemplate: resolveAlias(file.TimeTemplate, dir),
	}
	if s, found, err := config.GetString("compression"); err != nil {
		return nil, err
	} else if found {
		if a.compression, err = visus.ParseCompression(s); err != nil {
			return nil, err
		}
		a.hasCompression = true
	}
	if a.disableLocks, _, err = config.GetBool("disable_write_locks"); err != nil {
		return nil, err
	}
	maxOpen, found, err := config.GetInt("max_open_files")
	if err != nil {
		return nil, err
	}
	if !found || maxOpen <= 0 {
		maxOpen = DefaultMaxOpenFiles
	}
	a.files = lru.New(maxOpen)
	a.files.OnEvicted = func(key lru.Key, value interface{}) {
		bf := value.(*blockFile)
		bf.evicted = true
		if bf.users == 0 {
			if err := bf.close(); err != nil {
				visus.Errorf("Unable to close block file %s: %v\n", bf.name, err)
			}
		}
	}
	a.headerSize = int64(headerWords * (1 + file.BlocksPerFile*len(file.Fields)))
	return a, nil
}

// resolveAlias makes "./" templates relative to the descriptor directory.
func resolveAlias(template, dir string) string {
	if dir == "" {
		return template
	}
	if strings.HasPrefix(template, "./") {
		template = dir + template[1:]
	}
	return strings.ReplaceAll(template, "$(CurrentFileDirectory)", dir)
}

// Access stores blocks in IDX binary files.
type Access struct {
	*storage.Base

	file           *idx.File
	template       string
	timeTemplate   string
	compression    visus.Compression
	hasCompression bool
	disableLocks   bool
	headerSize     int64 // in uint32 words

	mu    sync.Mutex // guards files and blockFile.users/evicted
	files *lru.Cache
}

// blockFile is an open block file with its headers in memory.
type blockFile struct {
	mu       sync.Mutex
	name     string
	f        *os.File
	writable bool
	headers  []uint32
	dirty    bool

	users   int
	evicted bool
}

// Filename returns the block file holding q.
func (a *Access) Filename(q *storage.BlockQuery) string {
	return idx.ExpandFilenameTemplate(a.template, a.timeTemplate, q.Time, a.file.FirstBlockInFile(q.BlockID))
}

func (a *Access) headerIndex(q *storage.BlockQuery) int {
	slot := int64(q.Field.Index)*int64(a.file.BlocksPerFile) + a.file.BlockPositionInFile(q.BlockID)
	return int(headerWords * (1 + slot))
}

func openBlockFile(name string, write bool, nwords int64) (*blockFile, error) {
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	bf := &blockFile{name: name, writable: write, headers: make([]uint32, nwords)}
	f, err := os.OpenFile(name, flag, 0)
	if err == nil {
		buf := make([]byte, 4*nwords)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("cannot read headers of %s: %v", name, err)
		}
		for i := range bf.headers {
			bf.headers[i] = binary.BigEndian.Uint32(buf[4*i:])
		}
		bf.f = f
		return bf, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if !write {
		return nil, fmt.Errorf("%w: cannot open file %s", storage.ErrBlockNotFound, name)
	}
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return nil, err
	}
	if f, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644); err != nil {
		return nil, fmt.Errorf("cannot create file %s: %v", name, err)
	}
	bf.f = f
	bf.dirty = true
	if err := bf.flush(); err != nil {
		f.Close()
		os.Remove(name)
		return nil, err
	}
	return bf, nil
}

// flush writes the headers if they changed.
func (bf *blockFile) flush() error {
	if !bf.writable || !bf.dirty {
		return nil
	}
	buf := make([]byte, 4*len(bf.headers))
	for i, v := range bf.headers {
		binary.BigEndian.PutUint32(buf[4*i:], v)
	}
	if _, err := bf.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("cannot write headers of %s: %v", bf.name, err)
	}
	bf.dirty = false
	return nil
}

func (bf *blockFile) close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	err := bf.flush()
	if cerr := bf.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (bf *blockFile) blockHeader(i int) (offset int64, size int, flags uint32) {
	h := bf.headers[i : i+headerWords]
	offset = int64(uint64(h[3])<<32 | uint64(h[2]))
	return offset, int(h[4]), h[5]
}

func (bf *blockFile) setBlockHeader(i int, offset int64, size int, flags uint32) {
	h := bf.headers[i : i+headerWords]
	h[2] = uint32(uint64(offset) & 0xffffffff)
	h[3] = uint32(uint64(offset) >> 32)
	h[4] = uint32(size)
	h[5] = flags
	bf.dirty = true
}

// acquire returns an open block file, reopening it for writing if needed.
// Readers share whatever handle is cached.
func (a *Access) acquire(name string, write bool) (*blockFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, found := a.files.Get(name); found {
		bf := v.(*blockFile)
		if !write || bf.writable {
			bf.users++
			return bf, nil
		}
		a.files.Remove(name)
	}
	bf, err := openBlockFile(name, write, a.headerSize)
	if err != nil {
		return nil, err
	}
	bf.users = 1
	a.files.Add(name, bf)
	return bf, nil
}

func (a *Access) release(bf *blockFile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bf.users--
	if bf.users == 0 && bf.evicted {
		if err := bf.close(); err != nil {
			visus.Errorf("Unable to close block file %s: %v\n", bf.name, err)
		}
	}
}

// closeAll flushes and closes every open file.
func (a *Access) closeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files.Clear()
}

func (a *Access) ReadBlock(ctx context.Context, q *storage.BlockQuery) error {
	if err := a.CheckRead(q); err != nil {
		return a.ReadFailed(q, err)
	}
	bf, err := a.acquire(a.Filename(q), false)
	if err != nil {
		return a.ReadFailed(q, err)
	}
	defer a.release(bf)

	bf.mu.Lock()
	offset, size, flags := bf.blockHeader(a.headerIndex(q))
	bf.mu.Unlock()
	if offset == 0 || size == 0 {
		return a.ReadFailed(q, fmt.Errorf("%w: block %d not stored in %s", storage.ErrBlockNotFound, q.BlockID, bf.name))
	}
	if q.Aborted.IsAborted() || ctx.Err() != nil {
		return a.ReadFailed(q, visus.ErrAborted)
	}
	encoded := make([]byte, size)
	if _, err := bf.f.ReadAt(encoded, offset); err != nil && err != io.EOF {
		return a.ReadFailed(q, fmt.Errorf("cannot read block %d from %s: %v", q.BlockID, bf.name, err))
	}
	expected := q.Field.DType.ByteSize(q.NumSamples().Prod())
	data, err := visus.Decompress(encoded, visus.Compression(flags&compressionMask), int(expected))
	if err != nil {
		return a.ReadFailed(q, fmt.Errorf("cannot decode block %d: %v", q.BlockID, err))
	}
	buf, err := array.FromBytes(q.NumSamples(), q.Field.DType, data)
	if err != nil {
		return a.ReadFailed(q, err)
	}
	if flags&flagRowMajor != 0 {
		buf.Layout = array.RowMajor
	} else {
		buf.Layout = array.HzOrder
	}
	q.Buffer = buf
	return a.ReadOk(q, size)
}

func (a *Access) WriteBlock(ctx context.Context, q *storage.BlockQuery) error {
	if a.file.Version < 6 {
		return a.WriteFailed(q, fmt.Errorf("%w: writing version %d files", storage.ErrNotSupported, a.file.Version))
	}
	if err := a.CheckWrite(q); err != nil {
		return a.WriteFailed(q, err)
	}
	compression := q.Field.DefaultCompression
	if a.hasCompression {
		compression = a.compression
	}
	encoded, err := visus.Compress(q.Buffer.Heap[:q.Buffer.NumBytes()], compression)
	if err != nil {
		return a.WriteFailed(q, fmt.Errorf("failed to encode block: %v", err))
	}
	flags := uint32(compression) & compressionMask
	if q.Buffer.Layout != array.HzOrder {
		flags |= flagRowMajor
	}

	bf, err := a.acquire(a.Filename(q), true)
	if err != nil {
		return a.WriteFailed(q, err)
	}
	defer a.release(bf)

	bf.mu.Lock()
	defer bf.mu.Unlock()
	i := a.headerIndex(q)
	offset, size, _ := bf.blockHeader(i)
	if offset == 0 || size == 0 || len(encoded) > size {
		fi, err := bf.f.Stat()
		if err != nil {
			return a.WriteFailed(q, err)
		}
		if fi.Size() <= 0 {
			return a.WriteFailed(q, fmt.Errorf("file %s has no headers", bf.name))
		}
		offset = fi.Size()
	}
	if _, err := bf.f.WriteAt(encoded, offset); err != nil {
		return a.WriteFailed(q, fmt.Errorf("failed to write block %d: %v", q.BlockID, err))
	}
	bf.setBlockHeader(i, offset, len(encoded), flags)
	return a.WriteOk(q, len(encoded))
}

// AcquireWriteLock locks the block file in-process and, unless disabled,
// across processes through a <file>.lock file.  The key lock admits one
// holder per file, so the lock file is created once per hold.
func (a *Access) AcquireWriteLock(q *storage.BlockQuery) error {
	if a.disableLocks {
		return nil
	}
	name := a.Filename(q)
	a.LockKey(name)
	if err := lockFile(name+".lock", q.Aborted); err != nil {
		a.UnlockKey(name)
		return err
	}
	return nil
}

// ReleaseWriteLock flushes the block file headers and unlocks it.
func (a *Access) ReleaseWriteLock(q *storage.BlockQuery) error {
	if a.disableLocks {
		return nil
	}
	name := a.Filename(q)
	a.mu.Lock()
	if v, found := a.files.Get(name); found {
		bf := v.(*blockFile)
		bf.mu.Lock()
		if err := bf.flush(); err != nil {
			visus.Errorf("%v\n", err)
		}
		bf.mu.Unlock()
	}
	a.mu.Unlock()

	if err := os.Remove(name + ".lock"); err != nil && !errors.Is(err, os.ErrNotExist) {
		visus.Errorf("Unable to remove lock file for %s: %v\n", name, err)
	}
	return a.UnlockKey(name)
}

// lockFile creates lockname exclusively, waiting while another process holds it.
func lockFile(lockname string, aborted *visus.Aborted) error {
	if err := os.MkdirAll(filepath.Dir(lockname), 0755); err != nil {
		return err
	}
	for {
		f, err := os.OpenFile(lockname, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("cannot lock %s: %v", lockname, err)
		}
		if aborted.IsAborted() {
			return visus.ErrAborted
		}
		time.Sleep(lockPollInterval)
	}
}

func (a *Access) EndIO() error {
	if a.EndIOLast() {
		a.closeAll()
	}
	return nil
}

func (a *Access) Close() error {
	a.closeAll()
	return nil
}
