// internal/service/projector.go
package service

import (
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// AggregateProjector recomputes campaign counters from message state. The
// aggregate is a pure projection; message rows remain the source of truth.
type AggregateProjector struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
}

// Recompute runs one GROUP BY over the campaign's messages and persists
// success/failed plus the derived status. Cheap enough to run after every
// batch and every reconciliation event.
func (p *AggregateProjector) Recompute(campaignID int) (*model.Campaign, error) {
	campaign, err := p.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := p.MessageRepo.CountByStatus(campaignID)
	if err != nil {
		return nil, err
	}

	success := counts[model.MessageStatusSent]
	failed := counts[model.MessageStatusFailed]
	status := DeriveCampaignStatus(campaign.Status, campaign.Total, success, failed)

	if err := p.CampaignRepo.UpdateAggregate(campaignID, success, failed, status); err != nil {
		return nil, err
	}

	campaign.Success = success
	campaign.Failed = failed
	campaign.Status = status
	return campaign, nil
}

// DeriveCampaignStatus: completed once every message is terminal (failed
// when none got through), sending while anything is still queued,
// otherwise unchanged.
func DeriveCampaignStatus(current string, total, success, failed int) string {
	processed := success + failed
	if total > 0 && processed >= total {
		if success == 0 {
			return model.CampaignStatusFailed
		}
		return model.CampaignStatusCompleted
	}
	if total > 0 && processed < total && current == model.CampaignStatusSending {
		return model.CampaignStatusSending
	}
	return current
}
