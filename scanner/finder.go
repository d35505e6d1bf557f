// Package scanner discovers pending notifications and feeds them to the
// processor.
package scanner

import (
	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/notify"
	"github.com/rs/zerolog/log"
)

// NotificationStore is the read side of the notification key space.
type NotificationStore interface {
	GetNotification(rc data.RowColumn) (notify.Notification, bool, error)
	ScanNotifications(fn func(n notify.Notification) error) error
}

// HashFinder partitions rows across workers by hash and confirms, when a
// task is about to run, that its notification is still pending.
type HashFinder struct {
	store NotificationStore
	index uint64
	count uint64
}

// NewHashFinder creates a finder owning partition index of count.
func NewHashFinder(store NotificationStore, index, count int) *HashFinder {
	if count < 1 {
		count = 1
	}
	return &HashFinder{store: store, index: uint64(index), count: uint64(count)}
}

// Owns reports whether row hashes into this worker's partition.
func (f *HashFinder) Owns(row []byte) bool {
	return xxhash.Sum64(row)%f.count == f.index
}

// ShouldProcess implements notify.Finder.
func (f *HashFinder) ShouldProcess(n notify.Notification) bool {
	if !f.Owns(n.Row) {
		return false
	}

	stored, ok, err := f.store.GetNotification(n.RowColumn)
	if err != nil {
		log.Warn().Err(err).Str("row", data.EscapeNonASCII(n.Row)).Msg("Failed to check notification")
		return false
	}
	return ok && stored.Timestamp >= n.Timestamp
}
