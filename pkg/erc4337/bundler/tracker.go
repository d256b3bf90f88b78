package bundler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/metrics"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// DefaultPollInterval matches the relay's typical inclusion latency.
const DefaultPollInterval = 25 * time.Second

// ReceiptFetcher is the part of Client the tracker needs.
type ReceiptFetcher interface {
	GetUserOperationReceipt(ctx context.Context, taskID string) (Response, error)
}

// TrackerConfig bounds the settlement wait. Zero MaxAttempts and zero
// MaxWait mean unbounded; the caller's context is then the only way out.
type TrackerConfig struct {
	PollInterval time.Duration
	MaxAttempts  uint64
	MaxWait      time.Duration
}

// Tracker waits for a submitted operation to settle.
type Tracker struct {
	fetcher ReceiptFetcher
	cfg     TrackerConfig
	logger  logger.Logger
	metrics metrics.Recorder
}

func NewTracker(fetcher ReceiptFetcher, cfg TrackerConfig, lgr logger.Logger, recorder metrics.Recorder) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Tracker{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.EnsureLogger(lgr),
		metrics: metrics.EnsureRecorder(recorder),
	}
}

// Wait polls the receipt for taskID until it is settled. Every poll is
// preceded by a wait of PollInterval, so at least one full interval passes
// even if the receipt is already available. Transport errors while polling
// are logged and count as pending.
//
// It returns ErrSettlementTimeout when MaxAttempts or MaxWait is exhausted,
// the context error when ctx is cancelled, or an error wrapping
// ErrMalformedReceipt.
func (t *Tracker) Wait(ctx context.Context, entryPoint common.Address, taskID string) (*Settlement, error) {
	waitCtx := ctx
	if t.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.cfg.MaxWait)
		defer cancel()
	}

	var schedule backoff.BackOff = backoff.NewConstantBackOff(t.cfg.PollInterval)
	if t.cfg.MaxAttempts > 0 {
		schedule = backoff.WithMaxRetries(schedule, t.cfg.MaxAttempts)
	}

	for attempt := 1; ; attempt++ {
		if err := waitCtx.Err(); err != nil {
			return nil, t.stopReason(ctx, err)
		}

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			t.logger.Warn("settlement polling gave up", "taskID", taskID, "attempts", attempt-1)
			return nil, ErrSettlementTimeout
		}

		timer := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			return nil, t.stopReason(ctx, waitCtx.Err())
		case <-timer.C:
		}

		if err := waitCtx.Err(); err != nil {
			return nil, t.stopReason(ctx, err)
		}

		resp, err := t.fetcher.GetUserOperationReceipt(waitCtx, taskID)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, t.stopReason(ctx, waitCtx.Err())
			}
			t.metrics.IncPollAttempt("error")
			t.logger.Warn("receipt poll failed, will retry", "taskID", taskID, "attempt", attempt, "error", err)
			continue
		}

		settlement, err := ParseReceipt(resp, entryPoint)
		if err != nil {
			t.metrics.IncPollAttempt("error")
			return nil, err
		}
		settlement.TaskID = taskID

		if settlement.Status == StatusPending {
			t.metrics.IncPollAttempt("pending")
			t.logger.Debug("user operation still pending", "taskID", taskID, "attempt", attempt, "relayError", settlement.Error)
			continue
		}

		t.metrics.IncPollAttempt("settled")
		t.logger.Info("user operation settled",
			"taskID", taskID,
			"status", string(settlement.Status),
			"transactionHash", settlement.TransactionHash,
			"attempts", attempt)
		return settlement, nil
	}
}

// stopReason tells a deadline set by MaxWait apart from cancellation by the
// caller.
func (t *Tracker) stopReason(parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return ErrSettlementTimeout
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return err
}
