/*
	This file supports serialization/deserialization and compression of sample data.
*/

package visus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the codec used for a block payload.  The numeric values are the
// ones stored in the low nibble of the block header flags of IDX binary files.
type Compression uint8

const (
	Uncompressed Compression = 0
	Zip          Compression = 3
	LZ4          Compression = 7
	Zstd         Compression = 9
	Snappy       Compression = 10
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "raw"
	case Zip:
		return "zip"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	default:
		return fmt.Sprintf("unknown compression %d", uint8(compress))
	}
}

// ParseCompression returns the Compression for a codec name.  An empty name
// means no compression.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "raw", "none", "uncompressed":
		return Uncompressed, nil
	case "zip", "zlib":
		return Zip, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	}
	return Uncompressed, fmt.Errorf("unsupported compression %q", name)
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Compress encodes data with the given codec.
func Compress(data []byte, compress Compression) ([]byte, error) {
	switch compress {
	case Uncompressed:
		return data, nil
	case Zip:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case LZ4:
		origSize := uint32(len(data))
		byteData := make([]byte, lz4.CompressBlockBound(len(data))+4)
		binary.LittleEndian.PutUint32(byteData[0:4], origSize)
		var c lz4.Compressor
		outSize, err := c.CompressBlock(data, byteData[4:])
		if err != nil {
			return nil, err
		}
		return byteData[:4+outSize], nil
	case Zstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	}
	return nil, fmt.Errorf("illegal compression (%s) during encoding", compress)
}

// Decompress decodes data encoded with the given codec.  If expected is
// positive, the decoded length must match it.
func Decompress(data []byte, compress Compression, expected int) ([]byte, error) {
	var out []byte
	var err error
	switch compress {
	case Uncompressed:
		out = data
	case Zip:
		var r io.ReadCloser
		if r, err = zlib.NewReader(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		out, err = io.ReadAll(r)
		r.Close()
	case LZ4:
		if len(data) < 4 {
			return nil, fmt.Errorf("lz4 payload too short (%d bytes)", len(data))
		}
		origSize := binary.LittleEndian.Uint32(data[0:4])
		out = make([]byte, int(origSize))
		var n int
		n, err = lz4.UncompressBlock(data[4:], out)
		if err == nil {
			out = out[:n]
		}
	case Zstd:
		var dec *zstd.Decoder
		if _, dec, err = zstdCodec(); err != nil {
			return nil, err
		}
		out, err = dec.DecodeAll(data, nil)
	case Snappy:
		out, err = snappy.Decode(nil, data)
	default:
		return nil, fmt.Errorf("illegal compression (%d) during decoding", compress)
	}
	if err != nil {
		return nil, fmt.Errorf("%s decoding failed: %v", compress, err)
	}
	if expected > 0 && len(out) != expected {
		return nil, fmt.Errorf("%s decoding produced %d bytes, expected %d", compress, len(out), expected)
	}
	return out, nil
}

// Checksum is the type of checksum employed for error checking stored data.
type Checksum uint8

const (
	NoChecksum Checksum = 0
	CRC32      Checksum = 1
)

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "No checksum"
	case CRC32:
		return "CRC32 checksum"
	default:
		return "Unknown checksum"
	}
}

// SerializationFormat is a single byte combining both compression and checksum methods.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	a := (uint8(compress) & 0x0f) << 4
	b := (uint8(checksum) & 0x03) << 2
	return SerializationFormat(a | b)
}

func DecodeSerializationFormat(s SerializationFormat) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(s) >> 4)
	checksum = Checksum((uint8(s) >> 2) & 0x03)
	return
}

// SerializeData compresses a slice of bytes and prefixes it with the format
// byte and an optional checksum of the compressed bytes.
func SerializeData(data []byte, compress Compression, checksum Checksum) ([]byte, error) {
	byteData, err := Compress(data, compress)
	if err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	buffer.WriteByte(byte(EncodeSerializationFormat(compress, checksum)))
	switch checksum {
	case NoChecksum:
	case CRC32:
		var crc [4]byte
		binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(byteData))
		buffer.Write(crc[:])
	default:
		return nil, fmt.Errorf("illegal checksum (%s) in SerializeData()", checksum)
	}
	// Note the actual data is written last, after any checksum so we don't have to
	// worry about length when deserializing.
	buffer.Write(byteData)
	return buffer.Bytes(), nil
}

// DeserializeData reverses SerializeData.  If uncompress is false, the data is
// returned still compressed together with its codec.
func DeserializeData(s []byte, uncompress bool) (data []byte, compress Compression, err error) {
	if len(s) == 0 {
		err = fmt.Errorf("cannot deserialize empty data")
		return
	}
	var checksum Checksum
	compress, checksum = DecodeSerializationFormat(SerializationFormat(s[0]))
	cdata := s[1:]
	switch checksum {
	case NoChecksum:
	case CRC32:
		if len(cdata) < 4 {
			err = fmt.Errorf("serialized data too short for checksum")
			return
		}
		storedCrc32 := binary.LittleEndian.Uint32(cdata[0:4])
		cdata = cdata[4:]
		if crcChecksum := crc32.ChecksumIEEE(cdata); crcChecksum != storedCrc32 {
			err = fmt.Errorf("bad checksum.  Stored %x got %x", storedCrc32, crcChecksum)
			return
		}
	default:
		err = fmt.Errorf("illegal checksum in deserializing data")
		return
	}
	if !uncompress {
		data = cdata
		return
	}
	data, err = Decompress(cdata, compress, 0)
	return
}
