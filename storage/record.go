package storage

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/visus"
)

// BlockRecord is the envelope of a block stored as an opaque value by the
// ram, kv and cloud engines.  Data is the serialized form with a format byte
// and a CRC32 of the compressed samples.
type BlockRecord struct {
	Compression visus.Compression
	Layout      array.Layout
	DType       string
	Dims        []int64
	Data        []byte
}

// MarshalMsg implements msgp.Marshaler
func (z *BlockRecord) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "compression")
	o = msgp.AppendUint8(o, uint8(z.Compression))
	o = msgp.AppendString(o, "layout")
	o = msgp.AppendString(o, string(z.Layout))
	o = msgp.AppendString(o, "dtype")
	o = msgp.AppendString(o, z.DType)
	o = msgp.AppendString(o, "dims")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Dims)))
	for _, d := range z.Dims {
		o = msgp.AppendInt64(o, d)
	}
	o = msgp.AppendString(o, "data")
	o = msgp.AppendBytes(o, z.Data)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *BlockRecord) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var sz uint32
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return
	}
	for ; sz > 0; sz-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return
		}
		switch msgp.UnsafeString(field) {
		case "compression":
			var c uint8
			c, bts, err = msgp.ReadUint8Bytes(bts)
			z.Compression = visus.Compression(c)
		case "layout":
			var s string
			s, bts, err = msgp.ReadStringBytes(bts)
			z.Layout = array.Layout(s)
		case "dtype":
			z.DType, bts, err = msgp.ReadStringBytes(bts)
		case "dims":
			var n uint32
			n, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return
			}
			z.Dims = make([]int64, n)
			for i := range z.Dims {
				z.Dims[i], bts, err = msgp.ReadInt64Bytes(bts)
				if err != nil {
					return
				}
			}
		case "data":
			z.Data, bts, err = msgp.ReadBytesBytes(bts, z.Data)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the serialized size.
func (z *BlockRecord) Msgsize() (s int) {
	s = msgp.MapHeaderSize +
		msgp.StringPrefixSize + 11 + msgp.Uint8Size +
		msgp.StringPrefixSize + 6 + msgp.StringPrefixSize + len(z.Layout) +
		msgp.StringPrefixSize + 5 + msgp.StringPrefixSize + len(z.DType) +
		msgp.StringPrefixSize + 4 + msgp.ArrayHeaderSize + len(z.Dims)*msgp.Int64Size +
		msgp.StringPrefixSize + 4 + msgp.BytesPrefixSize + len(z.Data)
	return
}

// EncodeBlock compresses the buffer of q into a serialized BlockRecord.
func EncodeBlock(q *BlockQuery, compression visus.Compression) ([]byte, error) {
	buf := q.Buffer
	data, err := visus.SerializeData(buf.Heap[:buf.NumBytes()], compression, visus.CRC32)
	if err != nil {
		return nil, fmt.Errorf("unable to compress %s: %v", q, err)
	}
	rec := BlockRecord{
		Compression: compression,
		Layout:      buf.Layout,
		DType:       buf.DType.String(),
		Dims:        []int64(buf.Dims),
		Data:        data,
	}
	return rec.MarshalMsg(nil)
}

// DecodeBlock sets the buffer of q from a serialized BlockRecord.
func DecodeBlock(q *BlockQuery, value []byte) error {
	var rec BlockRecord
	if _, err := rec.UnmarshalMsg(value); err != nil {
		return fmt.Errorf("bad block record for %s: %v", q, err)
	}
	dtype, err := visus.ParseDType(rec.DType)
	if err != nil {
		return err
	}
	if dtype != q.Field.DType {
		return fmt.Errorf("stored dtype %s does not match field %s", dtype, q.Field)
	}
	dims := visus.Point(rec.Dims)
	if !dims.Equal(q.NumSamples()) {
		return fmt.Errorf("stored dims %s do not match block dims %s", dims, q.NumSamples())
	}
	data, _, err := visus.DeserializeData(rec.Data, true)
	if err != nil {
		return fmt.Errorf("unable to decompress %s: %v", q, err)
	}
	if expected := dtype.ByteSize(dims.Prod()); int64(len(data)) != expected {
		return fmt.Errorf("stored %s has %d bytes, expected %d", q, len(data), expected)
	}
	buf, err := array.FromBytes(dims, dtype, data)
	if err != nil {
		return err
	}
	buf.Layout = rec.Layout
	q.Buffer = buf
	return nil
}
