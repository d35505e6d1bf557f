package observer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/data"
	"github.com/rs/zerolog"
)

// logObserver logs the observed value. It writes nothing, so its transaction
// only consumes the notification.
type logObserver struct {
	logger zerolog.Logger
	seen   atomic.Uint64
}

func newLogObserver(_ cfg.ObserverConfiguration, logger zerolog.Logger) (Observer, error) {
	return &logObserver{logger: logger}, nil
}

func (o *logObserver) Process(ctx context.Context, tx Tx, row []byte, col data.Column) error {
	v, ok, err := tx.Get(ctx, data.RowColumn{Row: row, Column: col})
	if err != nil {
		return err
	}
	o.seen.Add(1)

	o.logger.Info().
		Str("row", data.EscapeNonASCII(row)).
		Str("column", col.String()).
		Bool("present", ok).
		Int("size", len(v)).
		Msg("Observed change")
	return nil
}

func (o *logObserver) Close() error {
	o.logger.Info().Uint64("seen", o.seen.Load()).Msg("Log observer closed")
	return nil
}

// rollupObserver folds the growth of an integer source cell into a target
// cell on a shared row. It remembers how much of the source it already
// counted in a per-row processed cell.
type rollupObserver struct {
	source    data.Column
	processed data.Column
	targetRow []byte
	target    data.Column
}

func newRollupObserver(conf cfg.ObserverConfiguration, _ zerolog.Logger) (Observer, error) {
	source, err := parseColumn(conf.Params["source"])
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	target, err := parseColumn(conf.Params["target"])
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	targetRow := conf.Params["target_row"]
	if targetRow == "" {
		return nil, fmt.Errorf("target_row is required")
	}

	processed := data.NewColumn(string(source.Family), "processed")
	if p := conf.Params["processed"]; p != "" {
		if processed, err = parseColumn(p); err != nil {
			return nil, fmt.Errorf("processed: %w", err)
		}
	}

	return &rollupObserver{
		source:    source,
		processed: processed,
		targetRow: []byte(targetRow),
		target:    target,
	}, nil
}

func (o *rollupObserver) Process(ctx context.Context, tx Tx, row []byte, _ data.Column) error {
	total, ok, err := readInt(ctx, tx, data.RowColumn{Row: row, Column: o.source})
	if err != nil || !ok {
		return err
	}

	processed, _, err := readInt(ctx, tx, data.RowColumn{Row: row, Column: o.processed})
	if err != nil {
		return err
	}

	if err := tx.Set(data.RowColumn{Row: row, Column: o.processed}, []byte(strconv.FormatInt(total, 10))); err != nil {
		return err
	}

	targetCell := data.RowColumn{Row: o.targetRow, Column: o.target}
	current, _, err := readInt(ctx, tx, targetCell)
	if err != nil {
		return err
	}
	return tx.Set(targetCell, []byte(strconv.FormatInt(current+total-processed, 10)))
}

func readInt(ctx context.Context, tx Tx, rc data.RowColumn) (int64, bool, error) {
	v, ok, err := tx.Get(ctx, rc)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s is not an integer: %w", rc, err)
	}
	return n, true, nil
}

// parseColumn parses "family:qualifier".
func parseColumn(s string) (data.Column, error) {
	family, qualifier, ok := strings.Cut(s, ":")
	if !ok || family == "" || qualifier == "" {
		return data.Column{}, fmt.Errorf("invalid column %q, expected family:qualifier", s)
	}
	return data.NewColumn(family, qualifier), nil
}
