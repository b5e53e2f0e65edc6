package leave

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Expired int
	// Skipped counts requests decided by someone else mid-sweep.
	Skipped int
	Failed  int
}

// Sweeper force-rejects pending requests whose window lapsed without a decision.
type Sweeper struct {
	store         Store
	notifier      Notifier
	coord         Coordinator
	metrics       Metrics
	log           Logger
	batchSize     int
	recordTimeout time.Duration
}

// SweeperConfig tunes a Sweeper.
type SweeperConfig struct {
	// BatchSize caps the records handled per sweep; the rest wait for the next run.
	BatchSize int
	// RecordTimeout bounds the store work for a single record.
	RecordTimeout time.Duration
	Metrics       Metrics
	Logger        Logger
}

// NewSweeper creates a sweeper. A nil notifier drops every event.
func NewSweeper(store Store, notifier Notifier, cfg SweeperConfig) *Sweeper {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	sw := &Sweeper{
		store:         store,
		notifier:      notifier,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
		batchSize:     cfg.BatchSize,
		recordTimeout: cfg.RecordTimeout,
	}
	if sw.metrics == nil {
		sw.metrics = nopMetrics{}
	}
	if sw.log == nil {
		sw.log = stdLogger{}
	}
	if sw.batchSize <= 0 {
		sw.batchSize = 200
	}
	if sw.recordTimeout <= 0 {
		sw.recordTimeout = 5 * time.Second
	}
	return sw
}

// SweepOnce expires every pending request whose window ended before now.
// Only the initial scan can fail the sweep; record failures are logged and skipped.
func (sw *Sweeper) SweepOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	defer func() { sw.metrics.SweepDuration(time.Since(start)) }()

	due, err := sw.store.ListPendingExpired(ctx, now, sw.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired requests: %w", err)
	}

	res := SweepResult{Scanned: len(due)}
	for _, req := range due {
		if ctx.Err() != nil {
			break
		}
		ev, err := sw.expireOne(ctx, req, now)
		switch {
		case err == nil:
			res.Expired++
			sw.metrics.Expired()
			sw.notifier.Notify(ctx, ev)
		case errors.Is(err, ErrAlreadyFinalized):
			res.Skipped++
		default:
			res.Failed++
			sw.metrics.SweepFailure()
			sw.log.Error(err, "[sweeper] expire request %s", req.ID)
		}
	}
	if res.Scanned > 0 {
		sw.log.Printf("[sweeper] scanned=%d expired=%d skipped=%d failed=%d",
			res.Scanned, res.Expired, res.Skipped, res.Failed)
	}
	return res, nil
}

func (sw *Sweeper) expireOne(ctx context.Context, req Request, now time.Time) (Event, error) {
	ctx, cancel := context.WithTimeout(ctx, sw.recordTimeout)
	defer cancel()

	next, err := Expire(req, now)
	if err != nil {
		return Event{}, err
	}

	var student Student
	err = sw.store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.UpdateRequestIf(ctx, ExpectOf(req), next)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if !ok {
			return newError(ErrAlreadyFinalized, "request %s was decided concurrently", req.ID)
		}
		if err := sw.coord.OnFinalized(ctx, tx, req.StudentID, DecisionRejected); err != nil {
			return err
		}
		student, err = tx.GetStudent(ctx, req.StudentID)
		return err
	})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: EventRejected, Request: next, Student: student}, nil
}
