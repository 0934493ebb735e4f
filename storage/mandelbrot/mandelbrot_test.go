package mandelbrot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

func openAccess(t *testing.T, dtype visus.DType) (*idx.File, storage.Access) {
	file := idx.NewFile()
	file.Box = visus.NewBox(visus.Point{0, 0}, visus.Point{32, 32})
	file.Fields = []idx.Field{idx.NewField("data", dtype)}
	file.BitsPerBlock = 4
	require.NoError(t, file.Validate("mandelbrot://"))
	config := visus.NewConfig()
	config.Set("url", "mandelbrot://")
	access, err := storage.NewAccess(file, config)
	require.NoError(t, err)
	return file, access
}

func TestReadBlock(t *testing.T) {
	file, access := openAccess(t, visus.NewDType(visus.T_float32, 1))
	defer access.Close()
	require.Equal(t, "mandelbrot", access.Name())
	require.False(t, access.CanWrite())

	// a coarse grid over the whole box
	q := &storage.BlockQuery{
		Field:        file.Fields[0],
		LogicSamples: idx.NewLogicSamples(file.Box, visus.Point{8, 8}),
	}
	require.NoError(t, access.ReadBlock(context.Background(), q))
	require.Equal(t, array.RowMajor, q.Buffer.Layout)
	require.EqualValues(t, 16, q.Buffer.NumSamples())

	m := access.(*Access)
	// (16,16) maps to c = -0.5+0i which is inside the set
	require.Equal(t, float32(1), m.Value(16, 16))
	// (0,0) maps to c = -2-1.5i which escapes at once
	require.Less(t, m.Value(0, 0), float32(0.1))
	// sample (2,2) of the grid is logic point (16,16)
	require.Equal(t, float64(1), q.Buffer.Get(2+2*4, 0))

	q.Buffer.Layout = array.HzOrder
	require.Error(t, access.WriteBlock(context.Background(), q))
}

func TestWrongType(t *testing.T) {
	file, access := openAccess(t, visus.NewDType(visus.T_uint8, 1))
	defer access.Close()
	q := &storage.BlockQuery{
		Field:        file.Fields[0],
		LogicSamples: idx.NewLogicSamples(file.Box, visus.Point{8, 8}),
	}
	err := access.ReadBlock(context.Background(), q)
	require.True(t, errors.Is(err, storage.ErrNotSupported))
}

func TestAborted(t *testing.T) {
	file, access := openAccess(t, visus.NewDType(visus.T_float32, 1))
	defer access.Close()
	aborted := visus.NewAborted(context.Background())
	aborted.Abort()
	q := &storage.BlockQuery{
		Field:        file.Fields[0],
		LogicSamples: idx.NewLogicSamples(file.Box, visus.Point{1, 1}),
		Aborted:      aborted,
	}
	require.ErrorIs(t, access.ReadBlock(context.Background(), q), visus.ErrAborted)
}
