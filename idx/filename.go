package idx

import (
	"fmt"
	"strings"
)

// ExpandFilenameTemplate fills the "%0Nx" placeholders of a template with the
// hex digits of address, going from right to left: the rightmost placeholder
// gets the least significant 4*N bits.  Bits left over after the leftmost
// placeholder are written as extra "/"-separated directories using its width.
// A time template, formatted with the integer time, is inserted just before
// the leftmost placeholder.  Templates without "%" are returned unchanged.
func ExpandFilenameTemplate(template, timeTemplate string, time float64, address int64) string {
	if !strings.Contains(template, "%") {
		return template
	}
	if address < 0 {
		return ""
	}
	addr := uint64(address)

	// pieces are collected right to left
	var pieces []string
	S := len(template) - 1
	lastDigits := 0
	for C := S; C >= 0; C-- {
		if template[C] != '%' || C+3 >= len(template) || template[C+3] != 'x' {
			continue
		}
		digits := int(template[C+2] - '0')
		if digits <= 0 || digits > 9 {
			continue
		}
		lastDigits = digits
		pieces = append(pieces, template[C+4:S+1])
		pieces = append(pieces, hexDigits(&addr, digits))
		S = C - 1
	}
	for lastDigits > 0 && addr != 0 {
		pieces = append(pieces, "/")
		pieces = append(pieces, hexDigits(&addr, lastDigits))
	}
	if timeTemplate != "" {
		if strings.Contains(timeTemplate, "%") {
			pieces = append(pieces, fmt.Sprintf(timeTemplate, int(time)))
		} else {
			pieces = append(pieces, timeTemplate)
		}
	}
	pieces = append(pieces, template[:S+1])

	var sb strings.Builder
	for i := len(pieces) - 1; i >= 0; i-- {
		sb.WriteString(pieces[i])
	}
	return sb.String()
}

// hexDigits formats the low 4*n bits of *addr and shifts them out.
func hexDigits(addr *uint64, n int) string {
	numbits := uint(4 * n)
	var part uint64
	if numbits >= 64 {
		part, *addr = *addr, 0
	} else {
		part = *addr & (uint64(1)<<numbits - 1)
		*addr >>= numbits
	}
	return fmt.Sprintf("%0*x", n, part)
}
