package data

import (
	"bytes"
	"errors"
	"fmt"
)

// Escaped key encoding: 0x00 inside a component is written as 0x00 0xff and
// every component ends with 0x00 0x01. The encoding preserves byte order, so
// encoded keys sort exactly like (row, family, qualifier, visibility).
const (
	escapeByte     = 0x00
	escapedZero    = 0xff
	componentEnd   = 0x01
	componentCount = 4
)

// ErrMalformedKey is returned when an encoded key cannot be decoded.
var ErrMalformedKey = errors.New("malformed row column key")

// RowColumn is the identity under which notifications are tracked.
type RowColumn struct {
	Row    []byte
	Column Column
}

// NewRowColumn creates a RowColumn from a string row.
func NewRowColumn(row string, col Column) RowColumn {
	return RowColumn{Row: []byte(row), Column: col}
}

// Equal reports whether two RowColumns are equal by value.
func (rc RowColumn) Equal(o RowColumn) bool {
	return bytes.Equal(rc.Row, o.Row) && rc.Column.Equal(o.Column)
}

// Compare orders by row and then column.
func (rc RowColumn) Compare(o RowColumn) int {
	if r := bytes.Compare(rc.Row, o.Row); r != 0 {
		return r
	}
	return rc.Column.Compare(o.Column)
}

// EstimatedSize is the admission accounting heuristic for a tracked entry.
func (rc RowColumn) EstimatedSize() int64 {
	return int64(len(rc.Row) + len(rc.Column.Family) + len(rc.Column.Qualifier) + len(rc.Column.Visibility))
}

// Key returns a canonical string suitable as a map key.
func (rc RowColumn) Key() string {
	return string(rc.Encode())
}

// Encode returns the order-preserving byte encoding of the RowColumn.
func (rc RowColumn) Encode() []byte {
	return rc.AppendEncoded(nil)
}

// AppendEncoded appends the order-preserving encoding to dst.
func (rc RowColumn) AppendEncoded(dst []byte) []byte {
	dst = appendEscaped(dst, rc.Row)
	dst = appendEscaped(dst, rc.Column.Family)
	dst = appendEscaped(dst, rc.Column.Qualifier)
	return appendEscaped(dst, rc.Column.Visibility)
}

// EncodeRowPrefix returns the encoded prefix shared by every cell of row.
func EncodeRowPrefix(row []byte) []byte {
	return appendEscaped(nil, row)
}

// DecodeRowColumn decodes a key produced by Encode and returns the remaining bytes.
func DecodeRowColumn(b []byte) (RowColumn, []byte, error) {
	var parts [componentCount][]byte
	rest := b
	for i := 0; i < componentCount; i++ {
		var err error
		parts[i], rest, err = decodeEscaped(rest)
		if err != nil {
			return RowColumn{}, nil, err
		}
	}
	return RowColumn{
		Row: parts[0],
		Column: Column{
			Family:     parts[1],
			Qualifier:  parts[2],
			Visibility: parts[3],
		},
	}, rest, nil
}

// String renders row and column for logs.
func (rc RowColumn) String() string {
	return fmt.Sprintf("%s %s", EscapeNonASCII(rc.Row), rc.Column)
}

func appendEscaped(dst, src []byte) []byte {
	for _, c := range src {
		if c == escapeByte {
			dst = append(dst, escapeByte, escapedZero)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, escapeByte, componentEnd)
}

func decodeEscaped(b []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != escapeByte {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, ErrMalformedKey
		}
		switch b[i+1] {
		case escapedZero:
			out = append(out, escapeByte)
			i++
		case componentEnd:
			return out, b[i+2:], nil
		default:
			return nil, nil, ErrMalformedKey
		}
	}
	return nil, nil, ErrMalformedKey
}
