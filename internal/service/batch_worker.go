// internal/service/batch_worker.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/unclebandit/campaign-dispatch/internal/ledger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// errTransientResults marks a batch where some messages hit transient
// per-message provider errors; the job retry re-delivers only those
// because of the idempotency filter.
var errTransientResults = errors.New("transient per-message provider errors")

// RateGate is the combined rate-limit check the worker consults before a
// provider call.
type RateGate interface {
	CheckAll(ctx context.Context, tenant string) bool
}

// BatchWorker consumes batch jobs: load still-queued messages, rate-limit,
// call the provider, apply per-message results, refund hard failures,
// recompute the aggregate.
type BatchWorker struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	Ledger       ledger.LedgerInterface
	Limiter      RateGate
	Provider     provider.Client
	Projector    *AggregateProjector
	Renderer     TextRenderer
}

// Process handles one delivery of a batch job. A returned error is always
// retryable: the queue re-delivers with backoff, and the idempotency
// filter skips whatever already reached a terminal state.
func (w *BatchWorker) Process(job queue.BatchJob) error {
	ctx := context.Background()

	campaign, err := w.CampaignRepo.GetByID(job.CampaignID)
	if err != nil {
		return err
	}
	if campaign.Status == model.CampaignStatusPaused {
		return queue.ErrPaused
	}

	msgs, err := w.MessageRepo.LoadQueuedByIDs(job.MessageIDs)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		log.Printf("Job %s has no queued messages left, completing as no-op\n", job.JobID)
		return nil
	}

	ids := make([]int, len(msgs))
	bulk := make([]provider.BulkMessage, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		bulk[i] = provider.BulkMessage{
			To:   m.Destination,
			Text: w.Renderer.Finalize(m.RenderedContent, m.ID),
		}
	}

	if !w.Limiter.CheckAll(ctx, campaign.OwnerID) {
		return w.deferRetry(ids, fmt.Errorf("batch %s: %w", job.JobID, provider.ErrRateLimited))
	}

	resp, err := w.Provider.SendBulk(ctx, bulk)
	if err != nil {
		if provider.Retryable(err) {
			return w.deferRetry(ids, err)
		}
		// Whole-call terminal failure: every message in the batch fails
		// and gets its credit back.
		for _, m := range msgs {
			w.failAndRefund(campaign, m.ID, err.Error())
		}
		w.recompute(job.CampaignID)
		return nil
	}

	transient := []int{}
	for _, result := range resp.Results {
		if result.InputIndex < 0 || result.InputIndex >= len(msgs) {
			log.Printf("⚠️ bulk result index %d out of range for job %s\n", result.InputIndex, job.JobID)
			continue
		}
		m := msgs[result.InputIndex]

		if result.ProviderMessageID != "" {
			if err := w.MessageRepo.MarkSent(m.ID, result.ProviderMessageID, resp.BatchID); err != nil {
				log.Println("⚠️ failed to mark message sent:", err)
			}
			continue
		}

		if provider.RetryableCode(result.Code) {
			transient = append(transient, m.ID)
			continue
		}
		w.failAndRefund(campaign, m.ID, result.Error)
	}

	w.recompute(job.CampaignID)

	if len(transient) > 0 {
		return w.deferRetry(transient, fmt.Errorf("%d of %d messages: %w", len(transient), len(msgs), errTransientResults))
	}
	return nil
}

// Exhausted is the terminal path after the queue gives up on a job: every
// message still queued fails with a specific reason and is refunded
// exactly once, so the aggregate and the ledger stay consistent.
func (w *BatchWorker) Exhausted(job queue.BatchJob, lastErr error) {
	campaign, err := w.CampaignRepo.GetByID(job.CampaignID)
	if err != nil {
		log.Println("⚠️ exhausted job for unknown campaign:", err)
		return
	}

	reason := "retry attempts exhausted"
	if lastErr != nil {
		reason = fmt.Sprintf("retry attempts exhausted: %v", lastErr)
	}

	failedIDs, err := w.MessageRepo.FailRemainingQueued(job.MessageIDs, reason)
	if err != nil {
		log.Println("⚠️ failed to fail remaining queued messages:", err)
		return
	}

	for _, id := range failedIDs {
		if _, err := w.Ledger.Refund(campaign.OwnerID, 1, "refund: retry attempts exhausted", ledger.ForMessage(campaign.ID, id)); err != nil {
			log.Println("⚠️ refund failed for message", id, ":", err)
		}
	}

	w.recompute(job.CampaignID)
}

// deferRetry bumps the retry counter on the still-queued messages and
// propagates the error so the queue's backoff re-delivers the job.
func (w *BatchWorker) deferRetry(ids []int, err error) error {
	if repoErr := w.MessageRepo.IncrementRetryQueued(ids); repoErr != nil {
		log.Println("⚠️ failed to increment retry count:", repoErr)
	}
	return err
}

func (w *BatchWorker) failAndRefund(campaign *model.Campaign, messageID int, reason string) {
	if reason == "" {
		reason = "send failure"
	}
	if err := w.MessageRepo.MarkFailed(messageID, reason); err != nil {
		log.Println("⚠️ failed to mark message failed:", err)
		return
	}
	if _, err := w.Ledger.Refund(campaign.OwnerID, 1, "refund: send failure", ledger.ForMessage(campaign.ID, messageID)); err != nil {
		log.Println("⚠️ refund failed for message", messageID, ":", err)
	}
}

func (w *BatchWorker) recompute(campaignID int) {
	if _, err := w.Projector.Recompute(campaignID); err != nil {
		log.Println("⚠️ aggregate recompute failed:", err)
	}
}
