package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

func testFile(t *testing.T) *idx.File {
	file := idx.NewFile()
	file.Box = visus.NewBox(visus.Point{0, 0, 0}, visus.Point{8, 8, 8})
	file.Fields = []idx.Field{idx.NewField("labels", visus.NewDType(visus.T_uint64, 1))}
	file.BitsPerBlock = 3
	require.NoError(t, file.Validate(""))
	return file
}

func blockQuery(blockid int64, field idx.Field) *storage.BlockQuery {
	box := visus.NewBox(visus.Point{0, 0, 0}, visus.Point{2, 2, 2})
	return &storage.BlockQuery{
		Field:        field,
		BlockID:      blockid,
		LogicSamples: idx.NewLogicSamples(box, visus.Point{1, 1, 1}),
	}
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	file := testFile(t)
	config := visus.NewConfig()
	config.Set("type", "kv")
	config.Set("url", filepath.Join(dir, "labels.idx"))

	access, err := storage.NewAccess(file, config)
	require.NoError(t, err)
	ctx := context.Background()

	for blockid := int64(0); blockid < 3; blockid++ {
		q := blockQuery(blockid, file.Fields[0])
		q.AllocBuffer(array.RowMajor)
		q.Buffer.Fill(float64(blockid + 100))
		require.NoError(t, access.WriteBlock(ctx, q))
	}
	n, err := access.(*Access).NumBlocks("labels", 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, access.Close())

	_, err = os.Stat(filepath.Join(dir, "labels.badger"))
	require.NoError(t, err)

	config.Set("chmod", "r")
	access, err = storage.NewAccess(file, config)
	require.NoError(t, err)
	defer access.Close()

	q := blockQuery(2, file.Fields[0])
	require.NoError(t, access.ReadBlock(ctx, q))
	require.Equal(t, array.RowMajor, q.Buffer.Layout)
	require.Equal(t, float64(102), q.Buffer.Get(7, 0))

	q = blockQuery(5, file.Fields[0])
	require.True(t, errors.Is(access.ReadBlock(ctx, q), storage.ErrBlockNotFound))
}

func TestInMemory(t *testing.T) {
	file := testFile(t)
	config := visus.NewConfig()
	config.Set("in_memory", true)
	access, err := Engine{name: "kv"}.NewAccess(file, config)
	require.NoError(t, err)
	defer access.Close()
	ctx := context.Background()

	q := blockQuery(1, file.Fields[0])
	q.AllocBuffer(array.HzOrder)
	q.Buffer.Set(0, 0, 1<<40)
	require.NoError(t, access.WriteBlock(ctx, q))

	r := blockQuery(1, file.Fields[0])
	require.NoError(t, access.ReadBlock(ctx, r))
	require.Equal(t, float64(1<<40), r.Buffer.Get(0, 0))

	require.NoError(t, access.(*Access).DeleteBlock(r))
	require.Error(t, access.ReadBlock(ctx, blockQuery(1, file.Fields[0])))
}

func TestBadConfig(t *testing.T) {
	_, err := Engine{}.NewAccess(testFile(t), visus.NewConfig())
	require.Error(t, err)
}
