package array

import (
	"testing"

	"github.com/janelia-flyem/visus/visus"
)

func uint8Array(dims visus.Point) *Array {
	a := New(dims, visus.NewDType(visus.T_uint8, 1))
	for i := range a.Heap {
		a.Heap[i] = byte(i)
	}
	return a
}

func TestFill(t *testing.T) {
	a := New(visus.Point{3, 5}, visus.NewDType(visus.T_uint16, 2))
	a.Fill(7)
	for i := int64(0); i < a.NumSamples(); i++ {
		for c := 0; c < 2; c++ {
			if v := a.Get(i, c); v != 7 {
				t.Fatalf("sample %d component %d: expected 7, got %v", i, c, v)
			}
		}
	}
	if a.NumBytes() != 3*5*4 {
		t.Errorf("bad number of bytes: %d", a.NumBytes())
	}
}

func TestInsert(t *testing.T) {
	r := uint8Array(visus.Point{4, 4})
	w := New(visus.Point{2, 2}, r.DType)

	// every other sample of r into w
	ok := Insert(w, visus.Point{0, 0}, visus.Point{2, 2}, visus.Point{1, 1},
		r, visus.Point{0, 0}, visus.Point{4, 4}, visus.Point{2, 2}, nil)
	if !ok {
		t.Fatalf("insert failed")
	}
	expected := []byte{0, 2, 8, 10}
	for i, v := range expected {
		if w.Heap[i] != v {
			t.Errorf("sample %d: expected %d, got %d", i, v, w.Heap[i])
		}
	}

	// scatter back with a stride in w
	w2 := New(visus.Point{4, 4}, r.DType)
	ok = Insert(w2, visus.Point{1, 1}, visus.Point{4, 4}, visus.Point{2, 2},
		w, visus.Point{0, 0}, visus.Point{2, 2}, visus.Point{1, 1}, nil)
	if !ok {
		t.Fatalf("insert failed")
	}
	if w2.Heap[5] != 0 || w2.Heap[7] != 2 || w2.Heap[13] != 8 || w2.Heap[15] != 10 {
		t.Errorf("bad scatter: %v", w2.Heap)
	}
	if w2.Heap[0] != 0 || w2.Heap[6] != 0 {
		t.Errorf("unexpected write outside grid: %v", w2.Heap)
	}
}

func TestInsertAborted(t *testing.T) {
	r := uint8Array(visus.Point{4, 4})
	w := New(visus.Point{4, 4}, r.DType)
	aborted := visus.NewAborted(nil)
	aborted.Abort()
	one := visus.Point{1, 1}
	if Insert(w, visus.Point{0, 0}, w.Dims, one, r, visus.Point{0, 0}, r.Dims, one, aborted) {
		t.Errorf("expected aborted insert to fail")
	}
	if Insert(w, visus.Point{4, 0}, w.Dims, one, r, visus.Point{0, 0}, r.Dims, one, nil) {
		t.Errorf("expected empty insert to fail")
	}
}

func TestInterpolate(t *testing.T) {
	// coarse 2x2 grid with spacing 2, fine 4x4 with spacing 1
	r := uint8Array(visus.Point{2, 2})
	w := New(visus.Point{4, 4}, r.DType)
	err := Interpolate(w, visus.Point{0, 0}, visus.Point{0, 0}, r, visus.Point{0, 0}, visus.Point{1, 1}, nil)
	if err != nil {
		t.Fatalf("interpolate failed: %v", err)
	}
	expected := []byte{
		0, 0, 1, 1,
		0, 0, 1, 1,
		2, 2, 3, 3,
		2, 2, 3, 3,
	}
	for i, v := range expected {
		if w.Heap[i] != v {
			t.Fatalf("sample %d: expected %d, got %d (%v)", i, v, w.Heap[i], w.Heap)
		}
	}
}

func TestResample(t *testing.T) {
	a := uint8Array(visus.Point{2, 1})
	b, err := Resample(a, visus.Point{4, 1})
	if err != nil {
		t.Fatalf("resample failed: %v", err)
	}
	expected := []byte{0, 0, 1, 1}
	for i, v := range expected {
		if b.Heap[i] != v {
			t.Errorf("sample %d: expected %d, got %d", i, v, b.Heap[i])
		}
	}
	if _, err := Resample(a, visus.Point{4}); err == nil {
		t.Errorf("expected error resampling to different pdim")
	}
}

func TestParseLayout(t *testing.T) {
	for s, expected := range map[string]Layout{"": RowMajor, "rowmajor": RowMajor, "hzorder": HzOrder, "0": HzOrder, "1": RowMajor} {
		l, err := ParseLayout(s)
		if err != nil || l != expected {
			t.Errorf("ParseLayout(%q) = %q, %v", s, l, err)
		}
	}
	if _, err := ParseLayout("zorder"); err == nil {
		t.Errorf("expected error")
	}
}
