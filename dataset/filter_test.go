package dataset

import (
	"context"
	"testing"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/idx"
	"github.com/janelia-flyem/visus/storage"
	"github.com/janelia-flyem/visus/visus"
)

func TestFilterPairs(t *testing.T) {
	tests := []struct {
		filter string
		dtype  visus.DType
		a, b   []float64
	}{
		{"discretedehaar", visus.NewDType(visus.T_uint8, 2), []float64{200, 0}, []float64{17, 0}},
		{"discretedehaar", visus.NewDType(visus.T_uint8, 2), []float64{17, 0}, []float64{200, 0}},
		{"DeHaarDiscreteFilter", visus.NewDType(visus.T_uint16, 3), []float64{1000, 3}, []float64{999, 60000}},
		{"continuousdehaar", visus.NewDType(visus.T_float32, 1), []float64{3}, []float64{-8}},
		{"min", visus.NewDType(visus.T_uint8, 3), []float64{5, 9, 0}, []float64{7, 2, 0}},
		{"max", visus.NewDType(visus.T_uint8, 3), []float64{5, 9, 0}, []float64{7, 2, 0}},
		{"identity", visus.NewDType(visus.T_float64, 1), []float64{1.5}, []float64{2.5}},
	}
	for _, tc := range tests {
		field := idx.NewField("data", tc.dtype)
		field.Filter = tc.filter
		filter, err := NewFilter(field)
		if err != nil {
			t.Fatalf("unable to create filter %q: %v", tc.filter, err)
		}
		buf := array.New(visus.Point{2}, tc.dtype)
		for c := range tc.a {
			buf.Set(0, c, tc.a[c])
			buf.Set(1, c, tc.b[c])
		}
		filter.Direct(buf, 0, 1)
		filter.Inverse(buf, 0, 1)
		for c := range tc.a {
			if buf.Get(0, c) != tc.a[c] || buf.Get(1, c) != tc.b[c] {
				t.Errorf("filter %q component %d: expected %g %g, got %g %g",
					tc.filter, c, tc.a[c], tc.b[c], buf.Get(0, c), buf.Get(1, c))
			}
		}
	}

	bad := idx.NewField("data", visus.NewDType(visus.T_int32, 1))
	bad.Filter = "discretedehaar"
	if _, err := NewFilter(bad); err == nil {
		t.Errorf("expected no discrete filter for int32 samples")
	}
}

func TestMinFilterKeepsMinimum(t *testing.T) {
	field := idx.NewField("data", visus.NewDType(visus.T_uint8, 3))
	field.Filter = "min"
	filter, err := NewFilter(field)
	if err != nil {
		t.Fatal(err)
	}
	buf := array.New(visus.Point{2}, field.DType)
	buf.Set(0, 0, 5)
	buf.Set(0, 1, 9)
	buf.Set(1, 0, 7)
	buf.Set(1, 1, 2)
	filter.Direct(buf, 0, 1)
	if buf.Get(0, 0) != 5 || buf.Get(0, 1) != 2 {
		t.Errorf("expected coarse sample (5, 2), got (%g, %g)", buf.Get(0, 0), buf.Get(0, 1))
	}
}

func TestFilterStep(t *testing.T) {
	d := testDataset(t, visus.Point{8}, "V000", 1, uint8Field("data"))
	for H, expected := range []int64{16, 8, 4, 2} {
		if step := d.FilterStep(H); step[0] != expected {
			t.Errorf("level %d: expected filter step %d, got %s", H, expected, step)
		}
	}
}

func TestComputeFilterInverse(t *testing.T) {
	field := idx.NewField("data", visus.NewDType(visus.T_float64, 1))
	field.Filter = "continuousdehaar"
	d := testDataset(t, visus.Point{8, 8}, "V010101", 2, field)
	filter, err := NewFilter(field)
	if err != nil {
		t.Fatal(err)
	}
	for H := 1; H <= d.MaxResolution(); H++ {
		q := d.CreateBoxQuery(d.Box(), field, 0, storage.ModeRead, nil)
		q.Filter.Enabled = false
		q.EndResolutions = []int{H}
		if err := d.BeginBoxQuery(q); err != nil {
			t.Fatalf("unable to begin query at %d: %v", H, err)
		}
		original := ramp(q.NumSamples(), field.DType)
		q.Buffer = original.Clone()
		q.CurResolution = H
		if err := d.ComputeFilter(q, filter, false); err != nil {
			t.Fatalf("unable to filter level %d: %v", H, err)
		}
		changed := false
		for i := int64(0); i < original.NumSamples(); i++ {
			if q.Buffer.Get(i, 0) != original.Get(i, 0) {
				changed = true
				break
			}
		}
		if !changed {
			t.Errorf("filter at level %d changed nothing", H)
		}
		if err := d.ComputeFilter(q, filter, true); err != nil {
			t.Fatalf("unable to invert level %d: %v", H, err)
		}
		sameSamples(t, q.Buffer, original)
	}
}

func TestFilterOnDataset(t *testing.T) {
	for _, name := range []string{"identity", "continuousdehaar"} {
		t.Run(name, func(t *testing.T) {
			field := idx.NewField("data", visus.NewDType(visus.T_float64, 1))
			field.Filter = name
			d := testDataset(t, visus.Point{8, 8}, "V010101", 2, field)
			access := ramAccess(t, d)
			ctx := context.Background()

			expected := ramp(visus.Point{8, 8}, field.DType)
			if err := d.WriteFullResolution(ctx, access, field, 0, visus.InvalidBox(), expected); err != nil {
				t.Fatalf("unable to write: %v", err)
			}
			if err := d.ComputeFilterOnDataset(ctx, access, field, 0, nil); err != nil {
				t.Fatalf("unable to filter dataset: %v", err)
			}

			raw := d.CreateBoxQuery(d.Box(), field, 0, storage.ModeRead, nil)
			raw.Filter.Enabled = false
			if err := d.BeginBoxQuery(raw); err != nil {
				t.Fatal(err)
			}
			if err := d.ExecuteBoxQuery(ctx, access, raw); err != nil {
				t.Fatalf("unable to read stored samples: %v", err)
			}
			differs := false
			for i := int64(0); i < expected.NumSamples(); i++ {
				if raw.Buffer.Get(i, 0) != expected.Get(i, 0) {
					differs = true
					break
				}
			}
			if differs != (name != "identity") {
				t.Errorf("filter %q: stored samples differ from input: %t", name, differs)
			}

			got, err := d.ReadFullResolution(ctx, access, field, 0, visus.InvalidBox())
			if err != nil {
				t.Fatalf("unable to read filtered dataset: %v", err)
			}
			sameSamples(t, got, expected)
		})
	}
}
