// internal/service/dispatch_service.go
package service

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/ledger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// DispatchService turns a campaign's recipient set into enqueued batch
// jobs: entitlement gate, upfront credit debit, message-record creation
// (debit and creation in one transaction), partitioning, enqueue.
type DispatchService struct {
	DB           *sql.DB
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	Ledger       ledger.LedgerInterface
	Resolver     RecipientResolver
	Entitlements EntitlementChecker
	Publisher    queue.BatchPublisher
	BatchSize    int

	// Now is overridable in tests.
	Now func() time.Time
}

// DispatchResult is reported synchronously to the caller; everything after
// enqueue surfaces only through the campaign aggregate.
type DispatchResult struct {
	CampaignID int    `json:"campaign_id"`
	Total      int    `json:"total"`
	Batches    int    `json:"batches"`
	Debited    int    `json:"debited"`
	Status     string `json:"status"`
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DispatchService) Dispatch(campaignID int) (*DispatchResult, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	switch campaign.Status {
	case model.CampaignStatusDraft, model.CampaignStatusScheduled:
	case model.CampaignStatusSending:
		// Enqueue failures leave rows queued with their credit already
		// debited; dispatching again re-enqueues only those rows.
		return s.redispatch(campaign)
	default:
		return nil, fmt.Errorf("campaign cannot be dispatched in status: %s", campaign.Status)
	}

	eligible, err := s.Entitlements.IsEligible(campaign.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("entitlement check failed: %w", err)
	}
	if !eligible {
		return nil, appErrors.NewDispatchBlocked(appErrors.ReasonInactiveEntitlement)
	}

	recipients, err := s.Resolver.Resolve(campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("campaign %d has no recipients", campaignID)
	}

	msgs := make([]*model.Message, len(recipients))
	for i, contact := range recipients {
		msgs[i] = &model.Message{
			CampaignID:      campaignID,
			Destination:     contact.Phone,
			RenderedContent: RenderTemplate(campaign.BaseTemplate, contact.MergeFields()),
		}
	}

	// Debit and message creation commit or roll back together, so the
	// ledger can never hold a debit for messages that were never created.
	tx, err := s.DB.Begin()
	if err != nil {
		return nil, err
	}
	_, err = s.Ledger.DebitTx(tx, campaign.OwnerID, len(msgs), "campaign dispatch", ledger.ForCampaign(campaignID))
	if err != nil {
		tx.Rollback()
		var insufficient *appErrors.ErrInsufficientCredits
		if errors.As(err, &insufficient) {
			return nil, appErrors.NewDispatchBlocked(appErrors.ReasonInsufficientCredits)
		}
		return nil, err
	}
	if err := s.MessageRepo.InsertQueuedTx(tx, msgs); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to create message records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ids := make([]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	batches := s.enqueue(campaignID, ids)

	if err := s.CampaignRepo.MarkDispatched(campaignID, len(ids)); err != nil {
		return nil, err
	}

	return &DispatchResult{
		CampaignID: campaignID,
		Total:      len(ids),
		Batches:    batches,
		Debited:    len(ids),
		Status:     model.CampaignStatusSending,
	}, nil
}

// redispatch re-enqueues the rows still queued on a sending campaign.
// Their credits were debited when they were created, so no ledger calls
// happen here; rows already sent or failed are excluded by the query.
func (s *DispatchService) redispatch(campaign *model.Campaign) (*DispatchResult, error) {
	ids, err := s.MessageRepo.ListQueuedIDs(campaign.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("campaign %d has no queued messages to re-enqueue", campaign.ID)
	}

	batches := s.enqueue(campaign.ID, ids)
	return &DispatchResult{
		CampaignID: campaign.ID,
		Total:      len(ids),
		Batches:    batches,
		Debited:    0,
		Status:     model.CampaignStatusSending,
	}, nil
}

func (s *DispatchService) enqueue(campaignID int, ids []int) int {
	enqueuedAt := s.now()
	batches := PartitionIDs(ids, s.BatchSize)
	for i, batch := range batches {
		job := queue.BatchJob{
			JobID:      queue.JobID(campaignID, i, enqueuedAt),
			CampaignID: campaignID,
			BatchIndex: i,
			MessageIDs: batch,
			Attempt:    0,
			EnqueuedAt: enqueuedAt.Unix(),
		}
		if err := s.Publisher.PublishBatch(job); err != nil {
			// Messages stay queued; dispatching the campaign again once
			// the broker is back re-enqueues exactly these rows.
			log.Printf("⚠️ failed to enqueue batch %d of campaign %d: %v\n", i, campaignID, err)
		}
	}
	return len(batches)
}

// PartitionIDs slices ids into consecutive chunks of the given size; the
// last chunk may be smaller.
func PartitionIDs(ids []int, size int) [][]int {
	if size < 1 {
		size = 1
	}
	batches := [][]int{}
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
