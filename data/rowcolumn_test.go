package data

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowColumn_EncodeDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rc   RowColumn
	}{
		{"plain", NewRowColumn("row1", NewColumn("stat", "total"))},
		{"empty row", NewRowColumn("", NewColumn("f", "q"))},
		{"embedded zero", RowColumn{Row: []byte{'a', 0x00, 'b'}, Column: Column{Family: []byte{0x00}, Qualifier: []byte{0xff, 0x00}}}},
		{"visibility", RowColumn{Row: []byte("r"), Column: Column{Family: []byte("f"), Qualifier: []byte("q"), Visibility: []byte("A&B")}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			enc := append(tc.rc.Encode(), 'X', 'Y')
			got, rest, err := DecodeRowColumn(enc)
			require.NoError(t, err)
			require.True(t, got.Equal(tc.rc), "got %s want %s", got, tc.rc)
			require.Equal(t, []byte("XY"), rest)
		})
	}
}

func TestRowColumn_EncodingPreservesOrder(t *testing.T) {
	t.Parallel()

	rcs := []RowColumn{
		NewRowColumn("b", NewColumn("f", "q")),
		NewRowColumn("a", NewColumn("f", "q2")),
		NewRowColumn("a", NewColumn("f", "q")),
		{Row: []byte{'a', 0x00}, Column: NewColumn("f", "q")},
		NewRowColumn("ab", NewColumn("a", "a")),
	}

	byValue := append([]RowColumn(nil), rcs...)
	sort.Slice(byValue, func(i, j int) bool { return byValue[i].Compare(byValue[j]) < 0 })

	byKey := append([]RowColumn(nil), rcs...)
	sort.Slice(byKey, func(i, j int) bool { return bytes.Compare(byKey[i].Encode(), byKey[j].Encode()) < 0 })

	for i := range byValue {
		require.True(t, byValue[i].Equal(byKey[i]), "position %d: %s vs %s", i, byValue[i], byKey[i])
	}
}

func TestRowColumn_EstimatedSize(t *testing.T) {
	t.Parallel()

	rc := RowColumn{Row: []byte("row"), Column: Column{Family: []byte("fam"), Qualifier: []byte("qual"), Visibility: []byte("v")}}
	require.Equal(t, int64(11), rc.EstimatedSize())
}

func TestRowColumn_KeyIdentity(t *testing.T) {
	t.Parallel()

	a := NewRowColumn("1", NewColumn("stat", "changed"))
	b := NewRowColumn("1", NewColumn("stat", "changed"))
	c := NewRowColumn("1", NewColumn("stat", "total"))

	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.Key(), c.Key())
	require.Equal(t, a.Column.Key(), b.Column.Key())
}

func TestDecodeRowColumn_Malformed(t *testing.T) {
	t.Parallel()

	_, _, err := DecodeRowColumn([]byte("no-terminator"))
	require.ErrorIs(t, err, ErrMalformedKey)

	_, _, err = DecodeRowColumn([]byte{'a', 0x00, 0x05})
	require.ErrorIs(t, err, ErrMalformedKey)
}

func TestEscapeNonASCII(t *testing.T) {
	t.Parallel()

	require.Equal(t, `abc\x00\xff`, EscapeNonASCII([]byte{'a', 'b', 'c', 0x00, 0xff}))
	require.Equal(t, `stat:changed`, NewColumn("stat", "changed").String())
}
