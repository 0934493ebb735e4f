package idx

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/visus"
)

const testDescriptor = `
(version)
6
(box)
0 3 0 3
(fields)
data uint8 default_compression(zip) format(0) default_value(7) min(0) max(255)
+ rgb uint8[3] format(1) filter(min)
(bits)
V0101
(bitsperblock)
2
(blocksperfile)
-1
(interleave block)
0
(time)
0 2 time%02d/
(filename_template)
./test/%04x.bin
`

func TestParseFile(t *testing.T) {
	f, err := Parse(testDescriptor)
	if err != nil {
		t.Fatalf("unable to parse descriptor: %v", err)
	}
	if err := f.Validate("/tmp/test.idx"); err != nil {
		t.Fatalf("unable to validate descriptor: %v", err)
	}
	if !f.Box.Equal(visus.NewBox(visus.Point{0, 0}, visus.Point{4, 4})) {
		t.Errorf("bad box %s", f.Box)
	}
	if f.BlocksPerFile != 4 || f.TotalBlocks() != 4 || f.SamplesPerBlock() != 4 {
		t.Errorf("bad blocks: %d per file, %d total", f.BlocksPerFile, f.TotalBlocks())
	}
	if len(f.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(f.Fields))
	}
	data := f.Fields[0]
	if data.DefaultCompression != visus.Zip || data.DefaultLayout != array.HzOrder || data.DefaultValue != 7 {
		t.Errorf("bad data field: %+v", data)
	}
	if len(data.Min) != 1 || data.Max[0] != 255 {
		t.Errorf("bad data range: %v %v", data.Min, data.Max)
	}
	rgb, err := f.Field("rgb")
	if err != nil {
		t.Fatalf("no rgb field: %v", err)
	}
	if rgb.DType.NComponents != 3 || rgb.DefaultLayout != array.RowMajor || rgb.Filter != "min" || rgb.Index != 1 {
		t.Errorf("bad rgb field: %+v", rgb)
	}
	if _, err := f.Field("missing"); err == nil {
		t.Errorf("expected error for missing field")
	}
	for _, tm := range []float64{0, 1, 2} {
		if !f.Timesteps.Contains(tm) {
			t.Errorf("expected timestep %v", tm)
		}
	}
	if f.Timesteps.Contains(3) || f.Timesteps.Contains(0.5) {
		t.Errorf("unexpected timesteps")
	}
	if name := f.Filename(1, 3); name != "./test/time01/0000.bin" {
		t.Errorf("bad filename %q", name)
	}
}

func TestSaveLoad(t *testing.T) {
	f, err := Parse(testDescriptor)
	if err != nil {
		t.Fatalf("unable to parse descriptor: %v", err)
	}
	path := filepath.Join(t.TempDir(), "round.idx")
	if err := f.Validate(path); err != nil {
		t.Fatalf("unable to validate: %v", err)
	}
	if err := f.Save(path); err != nil {
		t.Fatalf("unable to save: %v", err)
	}
	g, err := Load(path)
	if err != nil {
		t.Fatalf("unable to load: %v", err)
	}
	if f.String() != g.String() {
		t.Errorf("descriptor changed on round trip:\n%s\nvs\n%s", f, g)
	}
}

func TestValidateDefaults(t *testing.T) {
	f := NewFile()
	f.Box = visus.NewBox(visus.Point{0, 0, 0}, visus.Point{1024, 1024, 512})
	f.Fields = []Field{NewField("density", visus.NewDType(visus.T_float32, 1))}
	if err := f.Validate("/data/volume.idx"); err != nil {
		t.Fatalf("unable to validate: %v", err)
	}
	if f.Version != DefaultVersion || f.BitsPerBlock != 16 {
		t.Errorf("bad defaults: version %d bitsperblock %d", f.Version, f.BitsPerBlock)
	}
	if f.MaxResolution() != 29 {
		t.Errorf("expected max resolution 29, got %d (%s)", f.MaxResolution(), f.Bitmask)
	}
	// 13 block bits: no extra directory
	if f.FilenameTemplate != "./volume/%04x.bin" {
		t.Errorf("bad filename template %q", f.FilenameTemplate)
	}
	// 32 MiB of uncompressed float32 blocks of 64K samples
	if f.BlocksPerFile != 128 {
		t.Errorf("expected 128 blocks per file, got %d", f.BlocksPerFile)
	}
	if f.Timesteps.Default() != 0 || len(f.Timesteps.Values()) != 1 {
		t.Errorf("bad default timesteps")
	}

	deep := NewFile()
	deep.Box = visus.NewBox(visus.Point{0, 0}, visus.Point{1 << 20, 1 << 20})
	deep.Fields = []Field{NewField("v", visus.NewDType(visus.T_uint8, 1))}
	if err := deep.Validate(""); err != nil {
		t.Fatalf("unable to validate: %v", err)
	}
	if deep.FilenameTemplate != "./visus_data/%02x/%04x.bin" {
		t.Errorf("bad filename template %q", deep.FilenameTemplate)
	}

	// 65 levels are fine, 2^63 blocks are not
	wide := NewFile()
	wide.Box = visus.NewBox(visus.NewPoint(5, 0), visus.Point{8192, 8192, 8192, 8192, 8192})
	wide.Bitmask = MustParseBitmask("V" + strings.Repeat("01234", 13))
	wide.Fields = []Field{NewField("v", visus.NewDType(visus.T_uint8, 1))}
	if err := wide.Validate(""); err != nil {
		t.Fatalf("unable to validate 65 levels: %v", err)
	}
	if wide.MaxResolution() != 65 || wide.TotalBlocks() != int64(1)<<49 {
		t.Errorf("bad deep descriptor: maxres %d blocks %d", wide.MaxResolution(), wide.TotalBlocks())
	}
	wide.Version, wide.BitsPerBlock, wide.BlocksPerFile = 0, 2, 0
	if err := wide.Validate(""); err == nil {
		t.Errorf("expected error with 2^63 blocks")
	}

	bad := NewFile()
	bad.Box = visus.NewBox(visus.Point{0, 0}, visus.Point{4, 4})
	if err := bad.Validate(""); err == nil {
		t.Errorf("expected error without fields")
	}
}

func TestFilenameTemplate(t *testing.T) {
	tests := []struct {
		template, timeTemplate string
		time                   float64
		address                int64
		expected               string
	}{
		{"./foo/%04x.bin", "", 0, 0x12, "./foo/0012.bin"},
		{"./foo/%02x/%04x.bin", "", 0, 0x123456, "./foo/12/3456.bin"},
		{"./foo/%04x.bin", "", 0, 0x123456, "./foo/0012/3456.bin"},
		{"./foo/%04x.bin", "t%d/", 5, 0, "./foo/t5/0000.bin"},
		{"./single.bin", "", 0, 99, "./single.bin"},
		{"./foo/%04x.bin", "", 0, -1, ""},
	}
	for _, tc := range tests {
		if s := ExpandFilenameTemplate(tc.template, tc.timeTemplate, tc.time, tc.address); s != tc.expected {
			t.Errorf("template %q address %x: expected %q, got %q", tc.template, tc.address, tc.expected, s)
		}
	}
}

func TestTimesteps(t *testing.T) {
	ts, template, err := parseTime("t%04d (0,4,2) (10,10,1)")
	if err != nil {
		t.Fatalf("unable to parse time: %v", err)
	}
	if template != "t%04d" {
		t.Errorf("bad time template %q", template)
	}
	values := ts.Values()
	expected := []float64{0, 2, 4, 10}
	if len(values) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, values)
	}
	for i := range values {
		if values[i] != expected[i] {
			t.Errorf("expected %v, got %v", expected, values)
		}
	}
	if ts.Contains(1) || !ts.Contains(10) {
		t.Errorf("bad Contains")
	}
	if s := formatTime(ts, template); s != "t%04d (0,4,2) (10,10,1)" {
		t.Errorf("bad time format %q", s)
	}

	star, _, err := parseTime("* * t%d")
	if err != nil || !star.IsStar() || !star.Contains(12345) {
		t.Errorf("bad star timesteps: %v", err)
	}
	if _, _, err := parseTime("* 1 t%d"); err == nil {
		t.Errorf("expected error")
	}
}
