// Package data defines the cell coordinates shared by the store, the
// notification engine and observers.
package data

import (
	"bytes"
	"fmt"
	"strings"
)

// Column identifies a cell within a row. All components are opaque bytes.
type Column struct {
	Family     []byte
	Qualifier  []byte
	Visibility []byte
}

// NewColumn creates a column with an empty visibility.
func NewColumn(family, qualifier string) Column {
	return Column{Family: []byte(family), Qualifier: []byte(qualifier)}
}

// Equal reports whether two columns are equal by value.
func (c Column) Equal(o Column) bool {
	return bytes.Equal(c.Family, o.Family) &&
		bytes.Equal(c.Qualifier, o.Qualifier) &&
		bytes.Equal(c.Visibility, o.Visibility)
}

// Compare orders columns by family, qualifier, then visibility.
func (c Column) Compare(o Column) int {
	if r := bytes.Compare(c.Family, o.Family); r != 0 {
		return r
	}
	if r := bytes.Compare(c.Qualifier, o.Qualifier); r != 0 {
		return r
	}
	return bytes.Compare(c.Visibility, o.Visibility)
}

// Key returns a canonical string usable as a map key.
func (c Column) Key() string {
	var b []byte
	b = appendEscaped(b, c.Family)
	b = appendEscaped(b, c.Qualifier)
	b = appendEscaped(b, c.Visibility)
	return string(b)
}

// String renders the column with non-printable bytes hex-escaped.
func (c Column) String() string {
	if len(c.Visibility) == 0 {
		return fmt.Sprintf("%s:%s", EscapeNonASCII(c.Family), EscapeNonASCII(c.Qualifier))
	}
	return fmt.Sprintf("%s:%s[%s]", EscapeNonASCII(c.Family), EscapeNonASCII(c.Qualifier), EscapeNonASCII(c.Visibility))
}

// EscapeNonASCII renders printable ASCII as-is and everything else as \xNN.
func EscapeNonASCII(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f && c != '\\' {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "\\x%02x", c)
	}
	return sb.String()
}
