/*
	Package storage provides a unified interface to the engines that store
	IDX blocks.  Each engine registers itself at init time and is selected
	by the "type" setting of an access configuration:

		disk        IDX binary block files next to the descriptor
		ram         bounded in-memory block cache
		kv          embedded badger key-value store
		cloud       gocloud blob bucket (file://, mem://, s3://, gs://)
		mandelbrot  synthetic read-only fractal
		multiplex   chain of accesses with read-through caching

	Blocks are always exchanged as decoded arrays inside a BlockQuery.  Encoding
	and compression happen below this interface.
*/
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/visus"
)

var (
	// ErrBlockNotFound is returned when a block was never written.
	ErrBlockNotFound = errors.New("block not found")

	// ErrNotSupported is returned for operations an engine cannot do.
	ErrNotSupported = errors.New("operation not supported")
)

// Mode is the I/O mode of an access or block query.
type Mode uint8

const (
	ModeNone  Mode = 0
	ModeRead  Mode = 'r'
	ModeWrite Mode = 'w'
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	}
	return "none"
}

// Status is the lifecycle state of a block or dataset query.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusOk
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusOk:
		return "ok"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Access reads and writes whole blocks.  Implementations must allow
// concurrent ReadBlock calls.
type Access interface {
	Name() string
	BitsPerBlock() int
	CanRead() bool
	CanWrite() bool

	// BeginIO and EndIO bracket a batch of reads or writes.
	BeginIO(mode Mode) error
	EndIO() error

	// ReadBlock fills q.Buffer or returns an error, e.g., ErrBlockNotFound.
	ReadBlock(ctx context.Context, q *BlockQuery) error

	// WriteBlock stores q.Buffer.
	WriteBlock(ctx context.Context, q *BlockQuery) error

	// AcquireWriteLock and ReleaseWriteLock give exclusive access to the
	// storage holding q's block across a read-merge-write cycle.
	AcquireWriteLock(q *BlockQuery) error
	ReleaseWriteLock(q *BlockQuery) error

	Stats() Statistics
	Close() error
}

// BlockQuery is a request for one block of one field and timestep.
type BlockQuery struct {
	Field   idx.Field
	Time    float64
	BlockID int64

	// Hz address range [StartAddress, EndAddress) covered by the block.
	StartAddress idx.HzAddr
	EndAddress   idx.HzAddr

	// LogicSamples is the grid of the block samples.
	LogicSamples idx.LogicSamples

	Buffer  *array.Array
	Mode    Mode
	Aborted *visus.Aborted

	Status Status
	Err    error
}

// NumSamples returns the dims of the block buffer.
func (q *BlockQuery) NumSamples() visus.Point {
	return q.LogicSamples.NSamples
}

// Key returns a string unique to field, time and block.
func (q *BlockQuery) Key() string {
	return fmt.Sprintf("%s/%g/%d", q.Field.Name, q.Time, q.BlockID)
}

// SetOk marks the query as done.
func (q *BlockQuery) SetOk() {
	q.Status = StatusOk
	q.Err = nil
}

// SetFailed marks the query as failed.
func (q *BlockQuery) SetFailed(err error) {
	q.Status = StatusFailed
	q.Err = err
}

func (q *BlockQuery) Ok() bool {
	return q.Status == StatusOk
}

func (q *BlockQuery) Failed() bool {
	return q.Status == StatusFailed
}

// AllocBuffer sets a new buffer with the block dims filled with the field default value.
func (q *BlockQuery) AllocBuffer(layout array.Layout) {
	q.Buffer = array.New(q.NumSamples(), q.Field.DType)
	q.Buffer.Layout = layout
	if q.Field.DefaultValue != 0 {
		q.Buffer.Fill(q.Field.DefaultValue)
	}
}

func (q *BlockQuery) String() string {
	return fmt.Sprintf("block %d of field %q time %g [%s,%s) %s", q.BlockID, q.Field.Name, q.Time, q.StartAddress, q.EndAddress, q.Status)
}

// checkWrite validates a block to be written.
func checkWrite(file *idx.File, q *BlockQuery) error {
	if !q.Field.Valid() || q.BlockID < 0 {
		return fmt.Errorf("bad block query %s", q)
	}
	if q.Buffer == nil || !q.Buffer.Valid() {
		return fmt.Errorf("no buffer to write for %s", q)
	}
	expected := q.Field.DType.ByteSize(file.SamplesPerBlock())
	if q.Buffer.NumBytes() != expected {
		return fmt.Errorf("block %d has %d bytes, expected %d", q.BlockID, q.Buffer.NumBytes(), expected)
	}
	return nil
}
