// Package notify admits, schedules and dispatches pending notifications to
// observers. A notification marks a RowColumn whose observed cell changed;
// the Processor guarantees at most one queued or running task per RowColumn.
package notify

import (
	"fmt"
	"strings"

	"github.com/maxpert/ripple/data"
)

// Type distinguishes notifications that may coalesce (Weak) from those that
// also exclude overlapping observer runs on the observed cell (Strong).
type Type uint8

const (
	Weak Type = iota
	Strong
)

// String returns the lower case type name
func (t Type) String() string {
	switch t {
	case Weak:
		return "weak"
	case Strong:
		return "strong"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType parses "weak" or "strong". An empty string means Weak.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "weak":
		return Weak, nil
	case "strong":
		return Strong, nil
	}
	return Weak, fmt.Errorf("unknown notification type %q", s)
}

// Notification is a pending change. Two notifications with the same RowColumn
// share a slot; Type and Timestamp are metadata.
type Notification struct {
	data.RowColumn
	Type      Type
	Timestamp uint64
}

// New creates a notification.
func New(rc data.RowColumn, typ Type, ts uint64) Notification {
	return Notification{RowColumn: rc, Type: typ, Timestamp: ts}
}

// String renders the notification for logs.
func (n Notification) String() string {
	return fmt.Sprintf("%s %s@%d", n.RowColumn, n.Type, n.Timestamp)
}

// less orders by timestamp ascending, breaking ties by RowColumn.
func (n Notification) less(o Notification) bool {
	if n.Timestamp != o.Timestamp {
		return n.Timestamp < o.Timestamp
	}
	return n.RowColumn.Compare(o.RowColumn) < 0
}
