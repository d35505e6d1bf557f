// Package encoding provides centralized serialization for persisted cells.
// Every value written to the store goes through this package so the on-disk
// format stays consistent between the transaction engine and the scanners.
//
// Thread Safety: all functions are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Struct fields are encoded as arrays so cell values stay compact.
	enc.UseArrayEncodedStructs(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data produced by Marshal.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}
