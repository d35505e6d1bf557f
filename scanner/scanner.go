package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Processor admits notifications.
type Processor interface {
	AddNotification(ctx context.Context, finder notify.Finder, n notify.Notification) (bool, error)
}

// Options configures a Scanner
type Options struct {
	Interval time.Duration
	Columns  []data.Column // Observed columns; empty admits every column
	Hub      *notify.Hub   // Optional source of commit signals
	Logger   zerolog.Logger

	// AdmitsPerSecond caps processor admissions, 0 = unlimited
	AdmitsPerSecond int
}

// Scanner walks the notification key space on an interval and admits the
// notifications this worker owns. Commit signals from the hub are admitted
// as they arrive.
type Scanner struct {
	store   NotificationStore
	proc    Processor
	finder  *HashFinder
	opts    Options
	columns map[string]struct{}
	limiter *rate.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scanner.
func New(store NotificationStore, proc Processor, finder *HashFinder, opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}

	columns := make(map[string]struct{}, len(opts.Columns))
	for _, c := range opts.Columns {
		columns[c.Key()] = struct{}{}
	}

	s := &Scanner{
		store:   store,
		proc:    proc,
		finder:  finder,
		opts:    opts,
		columns: columns,
	}
	if opts.AdmitsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.AdmitsPerSecond), opts.AdmitsPerSecond)
	}
	return s
}

// Start runs the scan loop until Stop.
func (s *Scanner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var signals <-chan notify.Notification
	if s.opts.Hub != nil {
		var unsubscribe func()
		signals, unsubscribe = s.opts.Hub.Subscribe(notify.Filter{Columns: s.opts.Columns})
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	}

	s.wg.Add(1)
	go s.loop(ctx, signals)
}

// Stop cancels in-flight admissions and waits for the loop to exit.
func (s *Scanner) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Scanner) loop(ctx context.Context, signals <-chan notify.Notification) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		case n, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if _, err := s.admit(ctx, n); err != nil && !s.stopping(ctx, err) {
				s.opts.Logger.Warn().Err(err).Str("notification", n.String()).Msg("Failed to admit signalled notification")
			}
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	admitted, err := s.ScanOnce(ctx)
	if err != nil && !s.stopping(ctx, err) {
		s.opts.Logger.Warn().Err(err).Msg("Notification scan failed")
		return
	}
	if admitted > 0 {
		s.opts.Logger.Debug().Int("admitted", admitted).Msg("Notification scan complete")
	}
}

// ScanOnce walks the notification key space once and returns how many
// notifications were admitted. It blocks while the processor applies
// backpressure.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	start := time.Now()
	telemetry.ScansTotal.Inc()
	defer func() {
		telemetry.ScanDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	admitted, saturated := 0, 0
	err := s.store.ScanNotifications(func(n notify.Notification) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := s.admit(ctx, n)
		if errors.Is(err, notify.ErrPoolSaturated) {
			// Still persisted, so a later pass picks it up
			saturated++
			return nil
		}
		if err != nil {
			return err
		}
		if ok {
			admitted++
		}
		return nil
	})
	if saturated > 0 {
		s.opts.Logger.Warn().Int("rejected", saturated).Int("admitted", admitted).Msg("Worker queue saturated during scan")
	}
	return admitted, err
}

func (s *Scanner) admit(ctx context.Context, n notify.Notification) (bool, error) {
	if !s.observed(n.Column) || !s.finder.Owns(n.Row) {
		telemetry.ScannedNotificationsTotal.With("skipped").Inc()
		return false, nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	ok, err := s.proc.AddNotification(ctx, s.finder, n)
	if err != nil {
		return false, err
	}
	if ok {
		telemetry.ScannedNotificationsTotal.With("admitted").Inc()
	} else {
		telemetry.ScannedNotificationsTotal.With("skipped").Inc()
	}
	return ok, nil
}

func (s *Scanner) observed(col data.Column) bool {
	if len(s.columns) == 0 {
		return true
	}
	_, ok := s.columns[col.Key()]
	return ok
}

func (s *Scanner) stopping(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, notify.ErrPoolClosed) || errors.Is(err, notify.ErrTrackerClosed)
}
