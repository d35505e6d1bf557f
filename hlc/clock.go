package hlc

import (
	"sync"
	"time"
)

// Packed layout: (physical_ms << 22) | (node_id << 16) | logical
const (
	logicalBits = 16
	nodeIDBits  = 6
	shiftBits   = nodeIDBits + logicalBits

	maxLogical = (1 << logicalBits) - 1
	nodeIDMask = (1 << nodeIDBits) - 1
)

// Clock is a hybrid logical clock. Timestamps it hands out are strictly
// increasing even when the wall clock stalls or steps backwards.
type Clock struct {
	mu      sync.Mutex
	nodeID  uint64
	lastMS  int64
	logical int32
}

// Timestamp is an unpacked clock reading
type Timestamp struct {
	WallMS  int64
	Logical int32
	NodeID  uint64
}

// NewClock creates a clock tagging its timestamps with nodeID.
func NewClock(nodeID uint64) *Clock {
	return &Clock{
		nodeID: nodeID & nodeIDMask,
		lastMS: time.Now().UnixMilli(),
	}
}

// Now returns the next timestamp for a local event
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ms := time.Now().UnixMilli(); ms > c.lastMS {
		c.lastMS = ms
		c.logical = 0
	}

	// Logical counter exhausted for this millisecond: borrow the next one
	if c.logical >= maxLogical {
		c.lastMS++
		c.logical = 0
	}

	c.logical++
	return Timestamp{WallMS: c.lastMS, Logical: c.logical, NodeID: c.nodeID}
}

// Pack converts a timestamp to a single ordered uint64.
func (t Timestamp) Pack() uint64 {
	return uint64(t.WallMS)<<shiftBits | (t.NodeID&nodeIDMask)<<logicalBits | uint64(t.Logical)&maxLogical
}

// Unpack reverses Pack.
func Unpack(ts uint64) Timestamp {
	return Timestamp{
		WallMS:  int64(ts >> shiftBits),
		Logical: int32(ts & maxLogical),
		NodeID:  (ts >> logicalBits) & nodeIDMask,
	}
}

// PhysicalTime returns the wall clock component
func (t Timestamp) PhysicalTime() time.Time {
	return time.UnixMilli(t.WallMS)
}

func (t Timestamp) String() string {
	return t.PhysicalTime().UTC().Format(time.RFC3339Nano)
}
