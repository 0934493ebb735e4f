package idx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/janelia-flyem/visus/array"
	"github.com/janelia-flyem/visus/visus"
)

// Field is one named variable of a dataset.
type Field struct {
	Name        string
	DType       visus.DType
	Description string

	// DefaultCompression is used when writing new blocks.
	DefaultCompression visus.Compression

	// DefaultLayout is the layout of new blocks.
	DefaultLayout array.Layout

	// DefaultValue fills samples that have no stored block.
	DefaultValue float64

	// Filter names the transform applied between levels, if any.
	Filter string

	// Min and Max are per component ranges, empty if unknown.
	Min, Max []float64

	// Index is the position of the field inside block files.
	Index int
}

// NewField returns a field with hzorder layout and no compression.
func NewField(name string, dtype visus.DType) Field {
	return Field{Name: name, DType: dtype, DefaultLayout: array.HzOrder}
}

// Valid returns true if the field has a name and a valid dtype.
func (f Field) Valid() bool {
	return f.Name != "" && f.DType.Valid()
}

func (f Field) String() string {
	return f.Name + " " + f.DType.String()
}

// roundBracketArg returns what is inside "name(...)" or "".
func roundBracketArg(s, name string) string {
	i := strings.Index(s, name+"(")
	if i < 0 {
		return ""
	}
	rest := s[i+len(name)+1:]
	j := strings.Index(rest, ")")
	if j < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:j])
}

// splitFields splits a (fields) value on '+' that are not nested in brackets.
func splitFields(s string) []string {
	var out []string
	var cur strings.Builder
	nopen := 0
	flush := func() {
		if v := strings.TrimSpace(cur.String()); v != "" {
			out = append(out, v)
		}
		cur.Reset()
	}
	for _, ch := range s {
		switch ch {
		case '+':
			if nopen == 0 {
				flush()
				continue
			}
		case '(', '[', '{':
			nopen++
		case ')', ']', '}':
			nopen--
		}
		cur.WriteRune(ch)
	}
	flush()
	return out
}

// ParseFields parses the value of a (fields) descriptor entry.
func ParseFields(s string) ([]Field, error) {
	var fields []Field
	for _, sfield := range splitFields(s) {
		tokens := strings.Fields(sfield)
		if len(tokens) < 2 {
			return nil, fmt.Errorf("bad field %q: expected name and dtype", sfield)
		}
		dtype, err := visus.ParseDType(tokens[1])
		if err != nil {
			return nil, fmt.Errorf("bad field %q: %v", sfield, err)
		}
		f := Field{Name: tokens[0], DType: dtype}
		f.Description = roundBracketArg(sfield, "description")

		codec := roundBracketArg(sfield, "default_compression")
		if codec == "" {
			codec = roundBracketArg(sfield, "compressed")
		}
		if codec == "" && strings.Contains(sfield, "compressed") {
			codec = "zip"
		}
		if f.DefaultCompression, err = visus.ParseCompression(codec); err != nil {
			return nil, fmt.Errorf("bad field %q: %v", sfield, err)
		}

		layout := roundBracketArg(sfield, "default_layout")
		if layout == "" {
			layout = roundBracketArg(sfield, "format")
		}
		if layout == "" {
			f.DefaultLayout = array.HzOrder
		} else if f.DefaultLayout, err = array.ParseLayout(layout); err != nil {
			return nil, fmt.Errorf("bad field %q: %v", sfield, err)
		}

		if v := roundBracketArg(sfield, "default_value"); v != "" {
			if f.DefaultValue, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("bad field %q default value: %v", sfield, err)
			}
		}
		f.Filter = roundBracketArg(sfield, "filter")

		vmin := strings.Fields(roundBracketArg(sfield, "min"))
		vmax := strings.Fields(roundBracketArg(sfield, "max"))
		if len(vmin) > 0 && len(vmax) > 0 {
			for c := 0; c < dtype.NComponents; c++ {
				lo, _ := strconv.ParseFloat(vmin[min(c, len(vmin)-1)], 64)
				hi, _ := strconv.ParseFloat(vmax[min(c, len(vmax)-1)], 64)
				f.Min = append(f.Min, lo)
				f.Max = append(f.Max, hi)
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// descriptor returns the field entry as written in a descriptor.
func (f Field) descriptor(version int) string {
	var sb strings.Builder
	sb.WriteString(f.Name + " " + f.DType.String() + " ")
	if f.DefaultCompression != visus.Uncompressed {
		if version < 6 {
			sb.WriteString("compressed ")
		} else {
			sb.WriteString("default_compression(" + f.DefaultCompression.String() + ") ")
		}
	}
	if f.DefaultLayout == array.RowMajor {
		sb.WriteString("format(1) ")
	} else {
		sb.WriteString("format(0) ")
	}
	sb.WriteString("default_value(" + strconv.FormatFloat(f.DefaultValue, 'g', -1, 64) + ") ")
	if f.Filter != "" {
		sb.WriteString("filter(" + f.Filter + ") ")
	}
	if f.Description != "" {
		sb.WriteString("description(" + f.Description + ") ")
	}
	vmin := make([]string, f.DType.NComponents)
	vmax := make([]string, f.DType.NComponents)
	for c := range vmin {
		vmin[c], vmax[c] = "0", "0"
		if c < len(f.Min) && c < len(f.Max) && f.Max[c] > f.Min[c] {
			vmin[c] = strconv.FormatFloat(f.Min[c], 'g', -1, 64)
			vmax[c] = strconv.FormatFloat(f.Max[c], 'g', -1, 64)
		}
	}
	sb.WriteString("min(" + strings.Join(vmin, " ") + ") max(" + strings.Join(vmax, " ") + ")")
	return sb.String()
}
