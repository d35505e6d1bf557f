// Package observer binds user logic to observed columns and runs it inside
// the transaction that consumes a notification.
package observer

import (
	"context"

	"github.com/maxpert/ripple/data"
)

// Tx is the transactional surface an observer reads and writes through.
type Tx interface {
	Get(ctx context.Context, rc data.RowColumn) ([]byte, bool, error)
	Set(rc data.RowColumn, value []byte) error
	Delete(rc data.RowColumn) error
	SetWeakNotification(rc data.RowColumn) error
	SetStrongNotification(rc data.RowColumn) error
}

// Observer is invoked when a notification on its observed column is
// processed. Returning an error abandons the transaction and leaves the
// notification in place for a later run.
type Observer interface {
	Process(ctx context.Context, tx Tx, row []byte, col data.Column) error
}

// Func adapts a function to Observer.
type Func func(ctx context.Context, tx Tx, row []byte, col data.Column) error

// Process calls f.
func (f Func) Process(ctx context.Context, tx Tx, row []byte, col data.Column) error {
	return f(ctx, tx, row, col)
}
