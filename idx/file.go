package idx

import (
	"bufio"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/janelia-flyem/visus/visus"
)

const (
	// DefaultVersion is the descriptor version written for new datasets.
	DefaultVersion = 6

	// target size of a compressed block file when guessing blocks per file
	targetCompressedFileSize = 16 << 20
	likelyCompressionRatio   = 0.5

	// MaxBlockBits bounds maxresolution - bitsperblock so block ids fit an
	// int64 together with the block count.  Hz addresses have no bound.
	MaxBlockBits = 62
)

// File is the IDX text descriptor of a dataset.
type File struct {
	Version int

	// Box is the logic box with exclusive upper corner.
	Box visus.Box

	// LogicToPhysic is an optional transform kept verbatim.
	LogicToPhysic string

	Bitmask           *Bitmask
	Fields            []Field
	BitsPerBlock      int
	BlocksPerFile     int
	BlockInterleaving int
	Timesteps         Timesteps
	TimeTemplate      string
	FilenameTemplate  string
}

// NewFile returns a descriptor with the single timestep 0.
func NewFile() *File {
	return &File{Timesteps: DefaultTimesteps()}
}

// Load reads and validates a descriptor.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read idx file %q: %v", path, err)
	}
	f, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("unable to parse idx file %q: %v", path, err)
	}
	if err := f.Validate(path); err != nil {
		return nil, err
	}
	return f, nil
}

// Parse reads a descriptor made of "(key)" lines each followed by value lines.
// The result is not validated.
func Parse(content string) (*File, error) {
	values := make(map[string]string)
	var key string
	var value []string
	flush := func() {
		if key != "" {
			values[key] = strings.TrimSpace(strings.Join(value, " "))
		}
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "(") {
			flush()
			key, value = line, nil
			continue
		}
		value = append(value, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	f := NewFile()
	var err error
	if s, found := values["(version)"]; found {
		if f.Version, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("bad (version) %q", s)
		}
	}
	if f.Version < 1 || f.Version > 6 {
		return nil, fmt.Errorf("invalid version %d", f.Version)
	}
	if s, found := values["(bits)"]; found && s != "" {
		if f.Bitmask, err = ParseBitmask(s); err != nil {
			return nil, err
		}
	}
	box, err := visus.ParseOldFormatBox(values["(box)"])
	if err != nil {
		return nil, fmt.Errorf("bad (box): %v", err)
	}
	if f.Bitmask != nil {
		box = box.WithPointDim(f.Bitmask.PointDim())
	}
	f.Box = box
	f.LogicToPhysic = values["(logic_to_physic)"]

	if s, found := values["(fields)"]; found {
		if f.Fields, err = ParseFields(s); err != nil {
			return nil, err
		}
	}
	for _, k := range []struct {
		key string
		dst *int
	}{
		{"(bitsperblock)", &f.BitsPerBlock},
		{"(blocksperfile)", &f.BlocksPerFile},
		{"(interleave block)", &f.BlockInterleaving},
		{"(interleave)", &f.BlockInterleaving},
	} {
		if s, found := values[k.key]; found && s != "" {
			if *k.dst, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("bad %s %q", k.key, s)
			}
		}
	}
	f.FilenameTemplate = values["(filename_template)"]
	if s, found := values["(time)"]; found {
		if f.Timesteps, f.TimeTemplate, err = parseTime(s); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Validate fills defaults and checks the descriptor.  The url is used to
// guess the filename template.
func (f *File) Validate(url string) error {
	if f.Version == 0 {
		f.Version = DefaultVersion
	}
	if f.Version < 0 {
		return fmt.Errorf("wrong version %d", f.Version)
	}
	if !f.Box.IsFullDim() {
		return fmt.Errorf("wrong box %s", f.Box)
	}
	if f.Bitmask == nil {
		b, err := GuessBitmask(f.Box.P2)
		if err != nil {
			return err
		}
		f.Bitmask = b
		if b.PointDim() < f.Box.NumDims() {
			f.Box = f.Box.WithPointDim(b.PointDim())
		}
	}
	if f.Bitmask.PointDim() != f.Box.NumDims() {
		return fmt.Errorf("bitmask %s does not match box %s", f.Bitmask, f.Box)
	}
	maxres := f.Bitmask.MaxResolution()
	if f.BitsPerBlock == 0 {
		f.BitsPerBlock = min(maxres, 16)
	}
	if f.BitsPerBlock <= 0 {
		return fmt.Errorf("wrong bitsperblock %d", f.BitsPerBlock)
	}
	if f.BitsPerBlock > maxres {
		visus.Warningf("bitsperblock %d is greater than max resolution %d\n", f.BitsPerBlock, maxres)
		f.BitsPerBlock = maxres
	}
	if nbits := maxres - f.BitsPerBlock; nbits > MaxBlockBits {
		return fmt.Errorf("bitsperblock %d leaves 2^%d blocks, block ids only address 2^%d",
			f.BitsPerBlock, nbits, MaxBlockBits)
	}
	if len(f.Fields) == 0 {
		return fmt.Errorf("no fields")
	}

	totblocks := new(big.Int).Lsh(big.NewInt(1), uint(maxres-f.BitsPerBlock))
	switch f.BlocksPerFile {
	case -1:
		if !totblocks.IsInt64() || totblocks.Int64() > int64(^uint32(0)>>1) {
			return fmt.Errorf("cannot store %s blocks in a single file", totblocks)
		}
		f.BlocksPerFile = int(totblocks.Int64())
	case 0:
		overall := 0
		for _, field := range f.Fields {
			overall += int(field.DType.ByteSize(int64(1) << uint(f.BitsPerBlock)))
		}
		f.BlocksPerFile = int(targetCompressedFileSize/likelyCompressionRatio) / max(overall, 1)
		if totblocks.IsInt64() && int64(f.BlocksPerFile) > totblocks.Int64() {
			f.BlocksPerFile = int(totblocks.Int64())
		}
	}
	if f.BlocksPerFile <= 0 {
		return fmt.Errorf("wrong blocksperfile %d", f.BlocksPerFile)
	}
	for i := range f.Fields {
		f.Fields[i].Index = i
		if !f.Fields[i].Valid() {
			return fmt.Errorf("wrong field %q", f.Fields[i].Name)
		}
	}
	if f.Timesteps.Empty() {
		f.Timesteps = DefaultTimesteps()
	}
	if f.FilenameTemplate == "" {
		f.FilenameTemplate = f.GuessFilenameTemplate(url)
	}
	return nil
}

// GuessFilenameTemplate returns "./<basename>" followed by one "/%02x"
// directory per 8 block bits beyond 16 and a "/%04x.bin" file name.
func (f *File) GuessFilenameTemplate(url string) string {
	nbits := f.Bitmask.MaxResolution() - f.BitsPerBlock
	basename := ""
	if url != "" && !strings.Contains(url, "://") {
		basename = strings.TrimSuffix(filepath.Base(url), filepath.Ext(url))
	}
	if basename == "" || basename == "." || basename == string(filepath.Separator) {
		basename = "visus_data"
	}
	var sb strings.Builder
	sb.WriteString("./" + basename)
	for ; nbits > 16; nbits -= 8 {
		sb.WriteString("/%02x")
	}
	sb.WriteString("/%04x.bin")
	return sb.String()
}

// String returns the descriptor text.
func (f *File) String() string {
	var sb strings.Builder
	write := func(key, value string) {
		sb.WriteString("(" + key + ")\n" + value + "\n")
	}
	write("version", strconv.Itoa(f.Version))
	write("box", f.Box.ToOldFormatString())
	if f.LogicToPhysic != "" {
		write("logic_to_physic", f.LogicToPhysic)
	}
	sb.WriteString("(fields)\n")
	for i, field := range f.Fields {
		if i > 0 {
			sb.WriteString("+ ")
		}
		sb.WriteString(field.descriptor(f.Version) + "\n")
	}
	if f.Bitmask != nil {
		write("bits", f.Bitmask.String())
	}
	write("bitsperblock", strconv.Itoa(f.BitsPerBlock))
	write("blocksperfile", strconv.Itoa(f.BlocksPerFile))
	write("interleave block", strconv.Itoa(f.BlockInterleaving))
	if f.TimeTemplate != "" {
		write("time", formatTime(f.Timesteps, f.TimeTemplate))
	}
	write("filename_template", f.FilenameTemplate)
	return sb.String()
}

// Save validates a new descriptor if needed and writes it to path.
func (f *File) Save(path string) error {
	if f.Version == 0 {
		if err := f.Validate(path); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(f.String()), 0644); err != nil {
		return fmt.Errorf("unable to write idx file %q: %v", path, err)
	}
	return os.Rename(tmp, path)
}

// Clone returns a deep enough copy to change fields and templates.
func (f *File) Clone() *File {
	c := *f
	c.Box = f.Box.Clone()
	c.Fields = append([]Field(nil), f.Fields...)
	c.Timesteps = Timesteps{ranges: append([]TimeRange(nil), f.Timesteps.ranges...)}
	return &c
}

func (f *File) PointDim() int {
	return f.Box.NumDims()
}

// MaxResolution returns the bitmask max resolution.
func (f *File) MaxResolution() int {
	return f.Bitmask.MaxResolution()
}

// SamplesPerBlock returns 2^BitsPerBlock.
func (f *File) SamplesPerBlock() int64 {
	return int64(1) << uint(f.BitsPerBlock)
}

// TotalBlocks returns the number of blocks per field and timestep.
func (f *File) TotalBlocks() int64 {
	return int64(1) << uint(f.MaxResolution()-f.BitsPerBlock)
}

// BlockPositionInFile returns the slot of a block inside its file.
func (f *File) BlockPositionInFile(blockid int64) int64 {
	return (blockid / int64(max(1, f.BlockInterleaving))) % int64(f.BlocksPerFile)
}

// FirstBlockInFile returns the id of the first block stored in the same file.
func (f *File) FirstBlockInFile(blockid int64) int64 {
	if blockid < 0 {
		return -1
	}
	return blockid - int64(max(1, f.BlockInterleaving))*f.BlockPositionInFile(blockid)
}

// Field returns the named field.
func (f *File) Field(name string) (Field, error) {
	for _, field := range f.Fields {
		if field.Name == name {
			return field, nil
		}
	}
	return Field{}, fmt.Errorf("field %q not found", name)
}

// DefaultField returns the first field.
func (f *File) DefaultField() Field {
	if len(f.Fields) == 0 {
		return Field{}
	}
	return f.Fields[0]
}

// MaxFieldSize returns the largest sample size among fields.
func (f *File) MaxFieldSize() int {
	n := 0
	for _, field := range f.Fields {
		n = max(n, field.DType.SampleBytes())
	}
	return n
}

// Filename returns the block file, relative to the descriptor directory when
// the template starts with "./", that stores blockid at the given time.
func (f *File) Filename(time float64, blockid int64) string {
	return ExpandFilenameTemplate(f.FilenameTemplate, f.TimeTemplate, time, f.FirstBlockInFile(blockid))
}
