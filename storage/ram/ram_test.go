package ram

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

func testFile(t *testing.T) *idx.File {
	file := idx.NewFile()
	file.Box = visus.NewBox(visus.Point{0, 0}, visus.Point{16, 16})
	file.Fields = []idx.Field{idx.NewField("data", visus.NewDType(visus.T_float32, 1))}
	file.BitsPerBlock = 4
	require.NoError(t, file.Validate("mem.idx"))
	return file
}

func blockQuery(file *idx.File, blockid int64) *storage.BlockQuery {
	box := visus.NewBox(visus.Point{0, 0}, visus.Point{4, 4})
	return &storage.BlockQuery{
		Field:        file.Fields[0],
		Time:         1,
		BlockID:      blockid,
		LogicSamples: idx.NewLogicSamples(box, visus.Point{1, 1}),
	}
}

func TestCache(t *testing.T) {
	file := testFile(t)
	config := visus.NewConfig()
	config.Set("type", "ram")
	config.Set("size", "1MB")
	access, err := storage.NewAccess(file, config)
	require.NoError(t, err)
	defer access.Close()
	ctx := context.Background()

	q := blockQuery(file, 5)
	err = access.ReadBlock(ctx, q)
	require.True(t, errors.Is(err, storage.ErrBlockNotFound))

	w := blockQuery(file, 5)
	w.AllocBuffer(array.HzOrder)
	for i := int64(0); i < 16; i++ {
		w.Buffer.Set(i, 0, float64(i)/2)
	}
	require.NoError(t, access.WriteBlock(ctx, w))
	require.EqualValues(t, 1, access.(*Access).Len())

	q = blockQuery(file, 5)
	require.NoError(t, access.ReadBlock(ctx, q))
	require.Equal(t, array.HzOrder, q.Buffer.Layout)
	require.Equal(t, 7.5, q.Buffer.Get(15, 0))

	// other timestep is a different block
	other := blockQuery(file, 5)
	other.Time = 2
	require.Error(t, access.ReadBlock(ctx, other))
}

func TestBadSize(t *testing.T) {
	config := visus.NewConfig()
	config.Set("size", "lots")
	_, err := Engine{}.NewAccess(testFile(t), config)
	require.Error(t, err)
}
