package db

import (
	"encoding/binary"
	"fmt"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/encoding"
	"github.com/maxpert/ripple/notify"
)

// Key prefixes (sorted for efficient iteration)
const (
	prefixData   = "/d/"       // /d/{rowcolumn}/{^commitTS:8}
	prefixNotify = "/n/"       // /n/{rowcolumn}
	keyOracle    = "/m/oracle" // highest commit timestamp written
)

// dataPrefix returns the prefix shared by every version of rc.
func dataPrefix(rc data.RowColumn) []byte {
	return rc.AppendEncoded([]byte(prefixData))
}

// dataKey encodes a version key. Timestamps are inverted so the newest
// version sorts first.
func dataKey(rc data.RowColumn, ts uint64) []byte {
	return binary.BigEndian.AppendUint64(dataPrefix(rc), ^ts)
}

func versionFromKey(key []byte) uint64 {
	return ^binary.BigEndian.Uint64(key[len(key)-8:])
}

func notifyKey(rc data.RowColumn) []byte {
	return rc.AppendEncoded([]byte(prefixNotify))
}

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// cellValue is one version of a data cell.
type cellValue struct {
	Value      []byte
	Deleted    bool
	Compressed bool
}

func encodeCell(value []byte, deleted bool) ([]byte, error) {
	cell := cellValue{Value: value, Deleted: deleted}
	if len(value) > encoding.CompressThreshold {
		cell.Value = encoding.Compress(value)
		cell.Compressed = true
	}
	return encoding.Marshal(&cell)
}

func decodeCell(b []byte) (cellValue, error) {
	var cell cellValue
	if err := encoding.Unmarshal(b, &cell); err != nil {
		return cell, fmt.Errorf("decode cell: %w", err)
	}
	if cell.Compressed {
		v, err := encoding.Decompress(cell.Value)
		if err != nil {
			return cell, fmt.Errorf("decompress cell: %w", err)
		}
		cell.Value = v
		cell.Compressed = false
	}
	return cell, nil
}

// notificationValue is the persisted body of a notification cell.
type notificationValue struct {
	Type      uint8
	Timestamp uint64
}

func encodeNotification(typ notify.Type, ts uint64) ([]byte, error) {
	return encoding.Marshal(&notificationValue{Type: uint8(typ), Timestamp: ts})
}

func decodeNotification(key, val []byte) (notify.Notification, error) {
	rc, rest, err := data.DecodeRowColumn(key[len(prefixNotify):])
	if err != nil {
		return notify.Notification{}, err
	}
	if len(rest) != 0 {
		return notify.Notification{}, data.ErrMalformedKey
	}

	var nv notificationValue
	if err := encoding.Unmarshal(val, &nv); err != nil {
		return notify.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return notify.New(rc, notify.Type(nv.Type), nv.Timestamp), nil
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
