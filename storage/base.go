package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/visus"
)

// Statistics counts the block traffic of an access.
type Statistics struct {
	Reads         int64
	ReadFailures  int64
	Writes        int64
	WriteFailures int64
	BytesRead     int64
	BytesWritten  int64
}

func (s Statistics) String() string {
	return fmt.Sprintf("%d reads (%d failed, %s), %d writes (%d failed, %s)",
		s.Reads, s.ReadFailures, humanize.Bytes(uint64(s.BytesRead)),
		s.Writes, s.WriteFailures, humanize.Bytes(uint64(s.BytesWritten)))
}

// Add returns the sum of two statistics.
func (s Statistics) Add(o Statistics) Statistics {
	return Statistics{
		Reads:         s.Reads + o.Reads,
		ReadFailures:  s.ReadFailures + o.ReadFailures,
		Writes:        s.Writes + o.Writes,
		WriteFailures: s.WriteFailures + o.WriteFailures,
		BytesRead:     s.BytesRead + o.BytesRead,
		BytesWritten:  s.BytesWritten + o.BytesWritten,
	}
}

// LockTable gives exclusive access per key.  Entries are removed when unused.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

// Lock blocks until the key is free.
func (t *LockTable) Lock(key string) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*lockEntry)
	}
	e, found := t.locks[key]
	if !found {
		e = &lockEntry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()
	e.Lock()
}

// Unlock releases a key locked with Lock.
func (t *LockTable) Unlock(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, found := t.locks[key]
	if !found {
		return fmt.Errorf("key %q is not locked", key)
	}
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
	e.Unlock()
	return nil
}

// Base holds what every access shares: permissions, I/O mode, statistics
// and an in-process block lock table.  Engines embed it.
type Base struct {
	name         string
	file         *idx.File
	bitsPerBlock int
	canRead      bool
	canWrite     bool

	mu     sync.Mutex
	mode   Mode
	ionest int

	reads, readFailures, writes, writeFailures atomic.Int64
	bytesRead, bytesWritten                     atomic.Int64

	locks LockTable
}

// NewBase reads "name" and "chmod" from the config.
func NewBase(defaultName string, file *idx.File, config visus.Config) (*Base, error) {
	name, found, err := config.GetString("name")
	if err != nil {
		return nil, err
	}
	if !found || name == "" {
		name = defaultName
	}
	canRead, canWrite, err := CanReadWrite(config)
	if err != nil {
		return nil, err
	}
	b := &Base{name: name, file: file, canRead: canRead, canWrite: canWrite}
	if file != nil {
		b.bitsPerBlock = file.BitsPerBlock
	}
	return b, nil
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) File() *idx.File {
	return b.file
}

func (b *Base) BitsPerBlock() int {
	return b.bitsPerBlock
}

func (b *Base) CanRead() bool {
	return b.canRead
}

func (b *Base) CanWrite() bool {
	return b.canWrite
}

// Mode returns the current I/O mode.
func (b *Base) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// BeginIO enters an I/O batch.  Batches nest: a read batch may start inside
// a write batch, and the mode is reset when the outermost batch ends.
func (b *Base) BeginIO(mode Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch mode {
	case ModeRead:
		if !b.canRead {
			return fmt.Errorf("access %q cannot read", b.name)
		}
	case ModeWrite:
		if !b.canWrite {
			return fmt.Errorf("access %q cannot write", b.name)
		}
	default:
		return fmt.Errorf("bad I/O mode %d", mode)
	}
	switch {
	case b.mode == ModeNone:
		b.mode = mode
	case b.mode == mode, b.mode == ModeWrite && mode == ModeRead:
	default:
		return fmt.Errorf("access %q already doing I/O in mode %s", b.name, b.mode)
	}
	b.ionest++
	return nil
}

func (b *Base) EndIO() error {
	b.EndIOLast()
	return nil
}

// EndIOLast ends an I/O batch and returns true if it was the outermost one.
func (b *Base) EndIOLast() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ionest == 0 {
		return false
	}
	b.ionest--
	if b.ionest == 0 {
		b.mode = ModeNone
		return true
	}
	return false
}

func (b *Base) Stats() Statistics {
	return Statistics{
		Reads:         b.reads.Load(),
		ReadFailures:  b.readFailures.Load(),
		Writes:        b.writes.Load(),
		WriteFailures: b.writeFailures.Load(),
		BytesRead:     b.bytesRead.Load(),
		BytesWritten:  b.bytesWritten.Load(),
	}
}

// ReadOk records a successful read of nbytes stored bytes.
func (b *Base) ReadOk(q *BlockQuery, nbytes int) error {
	b.reads.Add(1)
	b.bytesRead.Add(int64(nbytes))
	q.SetOk()
	return nil
}

// ReadFailed records a failed read and returns the error.
func (b *Base) ReadFailed(q *BlockQuery, err error) error {
	b.reads.Add(1)
	b.readFailures.Add(1)
	q.SetFailed(err)
	return err
}

// WriteOk records a successful write of nbytes stored bytes.
func (b *Base) WriteOk(q *BlockQuery, nbytes int) error {
	b.writes.Add(1)
	b.bytesWritten.Add(int64(nbytes))
	q.SetOk()
	return nil
}

// WriteFailed records a failed write and returns the error.
func (b *Base) WriteFailed(q *BlockQuery, err error) error {
	b.writes.Add(1)
	b.writeFailures.Add(1)
	q.SetFailed(err)
	visus.Errorf("access %q unable to write %s: %v\n", b.name, q, err)
	return err
}

// CheckRead returns an error if a read cannot start.
func (b *Base) CheckRead(q *BlockQuery) error {
	if !b.canRead {
		return fmt.Errorf("access %q cannot read", b.name)
	}
	if q.Aborted.IsAborted() {
		return visus.ErrAborted
	}
	return nil
}

// CheckWrite returns an error if q cannot be written.
func (b *Base) CheckWrite(q *BlockQuery) error {
	if !b.canWrite {
		return fmt.Errorf("access %q cannot write", b.name)
	}
	if b.file != nil {
		return checkWrite(b.file, q)
	}
	return nil
}

// LockKey locks an arbitrary key of the access lock table.
func (b *Base) LockKey(key string) {
	b.locks.Lock(key)
}

// UnlockKey unlocks a key locked with LockKey.
func (b *Base) UnlockKey(key string) error {
	return b.locks.Unlock(key)
}

// AcquireWriteLock locks the block in-process.
func (b *Base) AcquireWriteLock(q *BlockQuery) error {
	b.locks.Lock(q.Key())
	return nil
}

// ReleaseWriteLock unlocks a block locked by AcquireWriteLock.
func (b *Base) ReleaseWriteLock(q *BlockQuery) error {
	return b.locks.Unlock(q.Key())
}
