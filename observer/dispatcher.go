package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/db"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog"
)

// Dispatcher runs the registered observer for a notification in a fresh
// transaction and commits it. It is the processor's Worker.
type Dispatcher struct {
	store    *db.Store
	oracle   hlc.TimestampSource
	registry *Registry
	logger   zerolog.Logger
}

var _ notify.Worker = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher.
func NewDispatcher(store *db.Store, oracle hlc.TimestampSource, registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		oracle:   oracle,
		registry: registry,
		logger:   logger,
	}
}

// Process implements notify.Worker.
func (d *Dispatcher) Process(ctx context.Context, n notify.Notification) (notify.WorkResult, error) {
	reg, ok := d.registry.Lookup(n.Column)
	if !ok {
		return notify.WorkResult{}, fmt.Errorf("no observer registered for %s", n.Column)
	}

	// Bind the notification as stored now; it may have been superseded
	// since it was queued.
	current, ok, err := d.store.GetNotification(n.RowColumn)
	if err != nil {
		return notify.WorkResult{}, fmt.Errorf("load notification: %w", err)
	}
	if !ok {
		return notify.WorkResult{}, nil
	}

	tx := d.store.Begin(d.oracle.GetStamp().StartTS)
	defer tx.Close()
	tx.ProcessingNotification(current)

	if reg.Rows.Match(current.Row) {
		start := time.Now()
		err := reg.Observer.Process(ctx, tx, current.Row, current.Column)
		telemetry.ObserverDurationSeconds.With(reg.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			return notify.WorkResult{}, fmt.Errorf("observer %q: %w", reg.Name, err)
		}
	} else {
		d.logger.Debug().
			Str("observer", reg.Name).
			Str("row", data.EscapeNonASCII(current.Row)).
			Msg("Row filtered out, consuming notification")
	}

	if err := tx.Commit(ctx, d.oracle); err != nil {
		return notify.WorkResult{}, fmt.Errorf("commit: %w", err)
	}

	return notify.WorkResult{Recreated: tx.Recreated()}, nil
}
