/*
	Package array implements N-dimensional sample buffers and the strided
	copy routines used to merge blocks into query results.
*/
package array

import (
	"fmt"

	"github.com/janelia-flyem/visus/visus"
)

// Layout tells how samples are ordered inside the heap.
type Layout string

const (
	// RowMajor is the standard strided layout with the first axis fastest.
	RowMajor Layout = ""

	// HzOrder means samples are ordered by increasing Hz address within a block.
	HzOrder Layout = "hzorder"
)

// ParseLayout converts descriptor strings like "rowmajor" or "hzorder".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "", "rowmajor", "row_major", "1":
		return RowMajor, nil
	case "hzorder", "0":
		return HzOrder, nil
	}
	return RowMajor, fmt.Errorf("unknown layout %q", s)
}

func (l Layout) String() string {
	if l == RowMajor {
		return "rowmajor"
	}
	return string(l)
}

// Array is an N-d buffer of samples.  The heap holds at least
// DType.ByteSize(Dims.Prod()) bytes.
type Array struct {
	Dims   visus.Point
	DType  visus.DType
	Heap   []byte
	Layout Layout
}

// New allocates a zeroed row-major array.
func New(dims visus.Point, dtype visus.DType) *Array {
	return &Array{
		Dims:  dims.Clone(),
		DType: dtype,
		Heap:  make([]byte, dtype.ByteSize(dims.Prod())),
	}
}

// FromBytes wraps an existing heap without copying.
func FromBytes(dims visus.Point, dtype visus.DType, heap []byte) (*Array, error) {
	need := dtype.ByteSize(dims.Prod())
	if int64(len(heap)) < need {
		return nil, fmt.Errorf("heap of %d bytes too small for %s samples of %s (%d bytes)", len(heap), dims, dtype, need)
	}
	return &Array{Dims: dims.Clone(), DType: dtype, Heap: heap[:need]}, nil
}

// Valid returns true if the array has samples and a large enough heap.
func (a *Array) Valid() bool {
	if a == nil || !a.Dims.AllPositive() || !a.DType.Valid() {
		return false
	}
	return int64(len(a.Heap)) >= a.DType.ByteSize(a.Dims.Prod())
}

// NumSamples returns the number of samples.
func (a *Array) NumSamples() int64 {
	return a.Dims.Prod()
}

// NumBytes returns the number of bytes used by the samples.
func (a *Array) NumBytes() int64 {
	return a.DType.ByteSize(a.Dims.Prod())
}

func (a *Array) Clone() *Array {
	heap := make([]byte, len(a.Heap))
	copy(heap, a.Heap)
	return &Array{Dims: a.Dims.Clone(), DType: a.DType, Heap: heap, Layout: a.Layout}
}

// Sample returns the bytes of the i-th sample.
func (a *Array) Sample(i int64) []byte {
	sb := int64(a.DType.SampleBytes())
	return a.Heap[i*sb : (i+1)*sb]
}

// Get returns component c of sample i as a float64.
func (a *Array) Get(i int64, c int) float64 {
	return a.DType.GetComponent(a.Heap, i*int64(a.DType.NComponents)+int64(c))
}

// Set stores v into component c of sample i.
func (a *Array) Set(i int64, c int, v float64) {
	a.DType.SetComponent(a.Heap, i*int64(a.DType.NComponents)+int64(c), v)
}

// Fill sets every component of every sample to v.
func (a *Array) Fill(v float64) {
	n := a.NumSamples()
	if n == 0 {
		return
	}
	sb := int64(a.DType.SampleBytes())
	for c := 0; c < a.DType.NComponents; c++ {
		a.Set(0, c, v)
	}
	// double the filled region each time
	filled := sb
	total := n * sb
	for filled < total {
		filled += int64(copy(a.Heap[filled:total], a.Heap[:filled]))
	}
}

// Offset returns the linear sample index of a pixel position.
func (a *Array) Offset(pos visus.Point) int64 {
	return pos.Dot(a.Dims.Stride())
}

func (a *Array) String() string {
	return fmt.Sprintf("array %s of %s (%s)", a.Dims, a.DType, a.Layout)
}
