package service

import (
	"context"
	"fmt"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
)

// sweepLockKey serializes corruption sweeps cluster-wide.
const sweepLockKey = "watermark-sweep"

// sweepRetryDelay is the base backoff between retries of one sweep batch.
const sweepRetryDelay = 2 * time.Second

// SweepResult summarizes one corruption sweep run.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// SweepCorruption scans every tracked account for the inconsistent state
// where a watermark is set but no stored posts back it, and clears those
// watermarks so the next fetch starts from scratch. The whole sweep is
// guarded by the distributed lock; contention means skip. Batches that fail
// are retried with backoff and then skipped, never aborting the sweep.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - *SweepResult: scan and repair counts.
//   - error: non-nil only when the lock cannot be acquired.
func (s *SyncService) SweepCorruption(ctx context.Context) (*SweepResult, error) {
	held, err := s.lockRepo.Acquire(ctx, sweepLockKey, s.holderID, s.cfg.SweepLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !held {
		logger.CtxInfo(ctx, "watermark sweep already running elsewhere, skipping this cycle")
		return nil, nil
	}
	defer func() {
		if err := s.lockRepo.Release(context.WithoutCancel(ctx), sweepLockKey, s.holderID); err != nil {
			logger.CtxWarn(ctx, "failed to release sweep lock: %v", err)
		}
	}()

	result := &SweepResult{}
	for _, p := range domain.Platforms() {
		if err := s.sweepPlatform(ctx, p, result); err != nil {
			return result, err
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount: result.Repaired,
	}).Info(ctx, "watermark sweep scanned %d accounts, repaired %d, failed %d",
		result.Scanned, result.Repaired, result.Failed)
	return result, nil
}

// maxConsecutiveBatchFailures stops a platform sweep when paging itself is
// broken, so a dead database does not spin the offset loop forever.
const maxConsecutiveBatchFailures = 3

func (s *SyncService) sweepPlatform(ctx context.Context, p domain.Platform, result *SweepResult) error {
	consecutiveFailures := 0
	for offset := 0; ; {
		accounts, err := s.listSweepBatch(ctx, p, offset)
		if err != nil {
			// The batch keeps failing after retries: skip it rather than
			// abort, the next sweep cycle will revisit.
			logger.With(logger.Fields{
				logger.FieldPlatform: string(p),
			}).Error(ctx, "sweep batch at offset %d failed after retries: %v", offset, err)
			result.Failed += s.cfg.SweepBatchSize
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveBatchFailures {
				return nil
			}
			offset += s.cfg.SweepBatchSize
			continue
		}
		consecutiveFailures = 0
		if len(accounts) == 0 {
			return nil
		}

		// Each repaired account drops out of the watermark filter, shifting
		// later rows left. Advance the offset only by the rows that stayed in
		// the filter, or the shift would leapfrog corrupted accounts.
		remaining := len(accounts)
		for _, account := range accounts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Scanned++
			repaired, err := s.postRepo.RepairWatermark(ctx, account.ID, p)
			if err != nil {
				logger.With(logger.Fields{
					logger.FieldPlatform:  string(p),
					logger.FieldProjectID: account.ProjectID,
				}).Warn(ctx, "watermark repair failed: %v", err)
				result.Failed++
				continue
			}
			if repaired {
				logger.With(logger.Fields{
					logger.FieldPlatform:  string(p),
					logger.FieldProjectID: account.ProjectID,
				}).Warn(ctx, "cleared watermark with no stored posts behind it")
				result.Repaired++
				remaining--
			}
		}
		offset += remaining
	}
}

// listSweepBatch pages accounts that carry a watermark on the platform,
// retrying transient failures with exponential backoff.
func (s *SyncService) listSweepBatch(ctx context.Context, p domain.Platform, offset int) ([]domain.TrackedAccount, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.SweepBatchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sweepRetryDelay << (attempt - 1)):
			}
		}
		accounts, err := s.accountRepo.ListWithWatermark(ctx, p, offset, s.cfg.SweepBatchSize)
		if err == nil {
			return accounts, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
