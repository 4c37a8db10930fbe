package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"activity-ledger/database"
	"activity-ledger/metrics"
	"activity-ledger/repository"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 25
	DefaultMaxAttempts  = 10

	drainTimeout = 10 * time.Second
	maxErrorLen  = 500
)

type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Dispatcher polls the notification outbox and hands events to a Notifier.
// Several dispatchers may run against one database; claimed rows are locked
// so each event goes to one of them at a time.
type Dispatcher struct {
	db       database.Transactor
	outbox   repository.OutboxRepository
	notifier Notifier
	metrics  *metrics.LedgerMetrics
	cfg      DispatcherConfig
	now      func() time.Time

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(db database.Transactor, outbox repository.OutboxRepository, notifier Notifier, m *metrics.LedgerMetrics, cfg DispatcherConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		db:       db,
		outbox:   outbox,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *Dispatcher) Start() {
	d.wg.Go(func() {
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				d.drain()
				return
			case <-ticker.C:
				if _, err := d.DispatchOnce(d.ctx); err != nil && d.ctx.Err() == nil {
					zap.L().Error("Outbox dispatch failed", zap.Error(err))
				}
			}
		}
	})
	zap.L().Info("Outbox dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize))
}

// Shutdown stops polling and waits for a final drain of pending events.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
	zap.L().Info("Outbox dispatcher stopped")
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		n, err := d.DispatchOnce(ctx)
		if err != nil {
			zap.L().Error("Outbox drain failed", zap.Error(err))
			return
		}
		if n < d.cfg.BatchSize {
			return
		}
	}
}

// DispatchOnce claims one batch and attempts delivery of each event. A failed
// delivery is recorded on the row and retried on a later poll until
// MaxAttempts is reached. It returns the number of events claimed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	claimed := 0
	err := d.db.WithTx(ctx, func(q database.Querier) error {
		outbox := d.outbox.WithTx(q)
		events, err := outbox.ClaimPending(ctx, d.cfg.BatchSize, d.cfg.MaxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)
		d.metrics.ObserveBatch(claimed)

		for _, event := range events {
			if err := d.notifier.Notify(ctx, event); err != nil {
				d.metrics.IncDispatched(string(event.Type), "failed")
				zap.L().Warn("Notification delivery failed",
					zap.String("event_id", event.ID),
					zap.String("event_type", string(event.Type)),
					zap.Int("attempt", event.Attempts+1),
					zap.Error(err))
				if err := outbox.MarkFailed(ctx, event.ID, truncate(err.Error(), maxErrorLen)); err != nil {
					return err
				}
				continue
			}
			d.metrics.IncDispatched(string(event.Type), "published")
			if err := outbox.MarkPublished(ctx, event.ID, d.now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("dispatching outbox batch: %w", err)
	}
	if claimed > 0 {
		zap.L().Debug("Outbox batch dispatched", zap.Int("events", claimed))
	}
	return claimed, nil
}

// truncate cuts s to at most n bytes on a rune boundary. Postgres TEXT
// rejects invalid UTF-8 and NUL bytes, so both are dropped first.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
