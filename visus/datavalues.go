/*
   This file handles layout of a sample, e.g., a voxel with several components,
   and routines that extract data from a slice of bytes.
*/

package visus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"
)

// DataType is a unique ID for each type of component within a sample, e.g., a uint8 or a float32.
type DataType uint8

const (
	T_uint8 DataType = iota
	T_int8
	T_uint16
	T_int16
	T_uint32
	T_int32
	T_uint64
	T_int64
	T_float16
	T_float32
	T_float64
)

var typeBytes = map[DataType]int{
	T_uint8:   1,
	T_int8:    1,
	T_uint16:  2,
	T_int16:   2,
	T_uint32:  4,
	T_int32:   4,
	T_uint64:  8,
	T_int64:   8,
	T_float16: 2,
	T_float32: 4,
	T_float64: 8,
}

var typeNames = map[DataType]string{
	T_uint8:   "uint8",
	T_int8:    "int8",
	T_uint16:  "uint16",
	T_int16:   "int16",
	T_uint32:  "uint32",
	T_int32:   "int32",
	T_uint64:  "uint64",
	T_int64:   "int64",
	T_float16: "float16",
	T_float32: "float32",
	T_float64: "float64",
}

// DataTypeBytes returns the # of bytes for a given type.
func DataTypeBytes(t DataType) int {
	return typeBytes[t]
}

func (t DataType) String() string {
	if s, found := typeNames[t]; found {
		return s
	}
	return fmt.Sprintf("unknown type %d", t)
}

// IsFloat returns true for the floating point types.
func (t DataType) IsFloat() bool {
	return t == T_float16 || t == T_float32 || t == T_float64
}

// IsUnsigned returns true for the unsigned integer types.
func (t DataType) IsUnsigned() bool {
	return t == T_uint8 || t == T_uint16 || t == T_uint32 || t == T_uint64
}

// ParseDataType converts a type name like "uint16" into a DataType.
func ParseDataType(s string) (DataType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// DType describes a sample as a number of components sharing one DataType.
type DType struct {
	T           DataType
	NComponents int
}

// NewDType returns a DType with n components of type t.
func NewDType(t DataType, n int) DType {
	return DType{T: t, NComponents: n}
}

// ParseDType parses "uint8", "uint8[3]" or "3*uint8".
func ParseDType(s string) (DType, error) {
	s = strings.TrimSpace(s)
	n := 1
	name := s
	if i := strings.Index(s, "["); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return DType{}, fmt.Errorf("bad dtype %q", s)
		}
		v, err := strconv.Atoi(s[i+1 : len(s)-1])
		if err != nil {
			return DType{}, fmt.Errorf("bad dtype %q: %v", s, err)
		}
		n = v
		name = s[:i]
	} else if i := strings.Index(s, "*"); i >= 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil {
			return DType{}, fmt.Errorf("bad dtype %q: %v", s, err)
		}
		n = v
		name = s[i+1:]
	}
	if n <= 0 {
		return DType{}, fmt.Errorf("bad dtype %q: number of components must be positive", s)
	}
	t, err := ParseDataType(name)
	if err != nil {
		return DType{}, err
	}
	return DType{T: t, NComponents: n}, nil
}

// Valid returns true if the DType has at least one component of a known type.
func (d DType) Valid() bool {
	_, found := typeBytes[d.T]
	return found && d.NComponents > 0
}

// ComponentBytes is the number of bytes of one component.
func (d DType) ComponentBytes() int {
	return typeBytes[d.T]
}

// SampleBytes is the number of bytes of one sample.
func (d DType) SampleBytes() int {
	return typeBytes[d.T] * d.NComponents
}

// ByteSize returns the number of bytes needed for nsamples samples.
func (d DType) ByteSize(nsamples int64) int64 {
	return int64(d.SampleBytes()) * nsamples
}

// WithComponents returns the same type with a different number of components.
func (d DType) WithComponents(n int) DType {
	return DType{T: d.T, NComponents: n}
}

func (d DType) String() string {
	if d.NComponents == 1 {
		return d.T.String()
	}
	return fmt.Sprintf("%s[%d]", d.T, d.NComponents)
}

// MarshalJSON implements the json.Marshaler interface.
func (d DType) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *DType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDType(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// GetComponent returns the i-th component stored in buf as a float64.
// Samples are little endian.
func (d DType) GetComponent(buf []byte, i int64) float64 {
	switch d.T {
	case T_uint8:
		return float64(buf[i])
	case T_int8:
		return float64(int8(buf[i]))
	case T_uint16:
		return float64(binary.LittleEndian.Uint16(buf[i*2:]))
	case T_int16:
		return float64(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	case T_uint32:
		return float64(binary.LittleEndian.Uint32(buf[i*4:]))
	case T_int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	case T_uint64:
		return float64(binary.LittleEndian.Uint64(buf[i*8:]))
	case T_int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[i*8:])))
	case T_float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32())
	case T_float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
	case T_float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return 0
}

// SetComponent stores v as the i-th component of buf, converting to the
// component type.  Integer types are rounded and clamped to their range.
func (d DType) SetComponent(buf []byte, i int64, v float64) {
	switch d.T {
	case T_uint8:
		buf[i] = uint8(clampRound(v, 0, math.MaxUint8))
	case T_int8:
		buf[i] = uint8(int8(clampRound(v, math.MinInt8, math.MaxInt8)))
	case T_uint16:
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(clampRound(v, 0, math.MaxUint16)))
	case T_int16:
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
	case T_uint32:
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(clampRound(v, 0, math.MaxUint32)))
	case T_int32:
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
	case T_uint64:
		if v <= 0 {
			binary.LittleEndian.PutUint64(buf[i*8:], 0)
		} else if v >= math.MaxUint64 {
			binary.LittleEndian.PutUint64(buf[i*8:], math.MaxUint64)
		} else {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(math.Round(v)))
		}
	case T_int64:
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(int64(clampRound(v, math.MinInt64, math.MaxInt64))))
	case T_float16:
		binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(float32(v)).Bits())
	case T_float32:
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	case T_float64:
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
}

func clampRound(v, lo, hi float64) float64 {
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
