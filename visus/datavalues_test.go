package visus

import (
	"encoding/json"
	"testing"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		s        string
		expected DType
		bytes    int
	}{
		{"uint8", DType{T_uint8, 1}, 1},
		{"uint8[3]", DType{T_uint8, 3}, 3},
		{"3*uint16", DType{T_uint16, 3}, 6},
		{"float16", DType{T_float16, 1}, 2},
		{"float64[2]", DType{T_float64, 2}, 16},
	}
	for _, tc := range tests {
		d, err := ParseDType(tc.s)
		if err != nil {
			t.Fatalf("unable to parse %q: %v", tc.s, err)
		}
		if d != tc.expected {
			t.Errorf("%q: expected %v, got %v", tc.s, tc.expected, d)
		}
		if d.SampleBytes() != tc.bytes {
			t.Errorf("%q: expected %d bytes, got %d", tc.s, tc.bytes, d.SampleBytes())
		}
	}
	for _, bad := range []string{"uint9", "uint8[0]", "uint8[", "x*int8"} {
		if _, err := ParseDType(bad); err == nil {
			t.Errorf("expected error parsing %q", bad)
		}
	}
}

func TestDTypeComponents(t *testing.T) {
	for _, name := range []string{"uint8", "int8", "uint16", "int16", "uint32", "int32", "uint64", "int64", "float16", "float32", "float64"} {
		d, err := ParseDType(name + "[2]")
		if err != nil {
			t.Fatalf("unable to parse %s: %v", name, err)
		}
		buf := make([]byte, d.SampleBytes())
		d.SetComponent(buf, 0, 42)
		d.SetComponent(buf, 1, 3)
		if v := d.GetComponent(buf, 0); v != 42 {
			t.Errorf("%s: expected 42, got %v", name, v)
		}
		if v := d.GetComponent(buf, 1); v != 3 {
			t.Errorf("%s: expected 3, got %v", name, v)
		}
	}

	d := DType{T_uint8, 1}
	buf := make([]byte, 1)
	d.SetComponent(buf, 0, 300)
	if buf[0] != 255 {
		t.Errorf("expected clamping to 255, got %d", buf[0])
	}

	h := DType{T_float16, 1}
	hbuf := make([]byte, 2)
	h.SetComponent(hbuf, 0, 0.5)
	if v := h.GetComponent(hbuf, 0); v != 0.5 {
		t.Errorf("expected float16 0.5, got %v", v)
	}
}

func TestDTypeJSON(t *testing.T) {
	d := DType{T_uint16, 3}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("unable to marshal: %v", err)
	}
	if string(b) != `"uint16[3]"` {
		t.Errorf("bad JSON: %s", b)
	}
	var d2 DType
	if err := json.Unmarshal(b, &d2); err != nil {
		t.Fatalf("unable to unmarshal: %v", err)
	}
	if d2 != d {
		t.Errorf("expected %v, got %v", d, d2)
	}
}
