// internal/service/single_send.go
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/ledger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// SingleSendService is the synchronous low-volume path outside the bulk
// pipeline: one recipient, one credit, one provider call.
type SingleSendService struct {
	DB           *sql.DB
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Ledger       ledger.LedgerInterface
	Entitlements EntitlementChecker
	Limiter      RateGate
	Provider     provider.Client
	Projector    *AggregateProjector
	Renderer     TextRenderer
}

func (s *SingleSendService) SendOne(ctx context.Context, campaignID, contactID int) (*model.Message, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	eligible, err := s.Entitlements.IsEligible(campaign.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("entitlement check failed: %w", err)
	}
	if !eligible {
		return nil, appErrors.NewDispatchBlocked(appErrors.ReasonInactiveEntitlement)
	}

	contact, err := s.ContactRepo.GetByID(contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, fmt.Errorf("contact %d not found", contactID)
	}

	msg := &model.Message{
		CampaignID:      campaignID,
		Destination:     contact.Phone,
		RenderedContent: RenderTemplate(campaign.BaseTemplate, contact.MergeFields()),
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, err
	}
	if _, err := s.Ledger.DebitTx(tx, campaign.OwnerID, 1, "single send", ledger.ForCampaign(campaignID)); err != nil {
		tx.Rollback()
		var insufficient *appErrors.ErrInsufficientCredits
		if errors.As(err, &insufficient) {
			return nil, appErrors.NewDispatchBlocked(appErrors.ReasonInsufficientCredits)
		}
		return nil, err
	}
	if err := s.MessageRepo.InsertQueuedTx(tx, []*model.Message{msg}); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if !s.Limiter.CheckAll(ctx, campaign.OwnerID) {
		// The synchronous path has no queue to lean on; surface the
		// denial to the caller and hand the credit back.
		s.failAndRefund(campaign, msg, "rate limit exceeded")
		return msg, provider.ErrRateLimited
	}

	providerMessageID, err := s.Provider.SendSingle(ctx, provider.BulkMessage{
		To:   msg.Destination,
		Text: s.Renderer.Finalize(msg.RenderedContent, msg.ID),
	})
	if err != nil {
		s.failAndRefund(campaign, msg, err.Error())
		return msg, err
	}

	if err := s.MessageRepo.MarkSent(msg.ID, providerMessageID, ""); err != nil {
		return msg, err
	}
	msg.Status = model.MessageStatusSent
	msg.ProviderMessageID = &providerMessageID

	if _, err := s.Projector.Recompute(campaignID); err != nil {
		return msg, err
	}
	return msg, nil
}

func (s *SingleSendService) failAndRefund(campaign *model.Campaign, msg *model.Message, reason string) {
	if err := s.MessageRepo.MarkFailed(msg.ID, reason); err != nil {
		log.Println("⚠️ failed to mark message failed:", err)
		return
	}
	msg.Status = model.MessageStatusFailed
	msg.LastError = reason
	if _, err := s.Ledger.Refund(campaign.OwnerID, 1, "refund: send failure", ledger.ForMessage(campaign.ID, msg.ID)); err != nil {
		log.Println("⚠️ refund failed for message", msg.ID, ":", err)
	}
	if _, err := s.Projector.Recompute(campaign.ID); err != nil {
		log.Println("⚠️ aggregate recompute failed:", err)
	}
}
