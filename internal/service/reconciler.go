// internal/service/reconciler.go
package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// StatusUnknown is the no-op branch of the provider-status mapping:
// unrecognized vocabulary is logged and changes nothing.
const StatusUnknown = "unknown"

// DeliveryCallback is the provider's delivery notification, accepted as a
// single object or an array.
type DeliveryCallback struct {
	ProviderMessageID string    `json:"provider_message_id"`
	DeliveryStatus    string    `json:"delivery_status"`
	Timestamp         time.Time `json:"timestamp"`
	Error             string    `json:"error,omitempty"`
}

// MapProviderStatus collapses the provider's status vocabulary to the
// internal enum. Both the initial accepted confirmation and the final
// delivered confirmation map to sent.
func MapProviderStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sent", "accepted", "submitted", "enroute", "delivered", "delivrd":
		return model.MessageStatusSent
	case "failed", "undelivered", "undeliverable", "rejected", "rejectd", "expired", "error":
		return model.MessageStatusFailed
	default:
		return StatusUnknown
	}
}

// Reconciler ingests delivery callbacks (push) and runs on-demand status
// refreshes (pull), applying each idempotently. Aggregate recomputes go
// through a buffered channel so a slow recompute never delays webhook
// acknowledgment.
type Reconciler struct {
	MessageRepo repository.MessageRepositoryInterface
	Provider    provider.Client
	Projector   *AggregateProjector

	recomputeCh chan int
}

func NewReconciler(messageRepo repository.MessageRepositoryInterface, providerClient provider.Client, projector *AggregateProjector) *Reconciler {
	r := &Reconciler{
		MessageRepo: messageRepo,
		Provider:    providerClient,
		Projector:   projector,
		recomputeCh: make(chan int, 64),
	}
	go r.recomputeLoop()
	return r
}

func (r *Reconciler) recomputeLoop() {
	for campaignID := range r.recomputeCh {
		if _, err := r.Projector.Recompute(campaignID); err != nil {
			log.Println("⚠️ aggregate recompute failed for campaign", campaignID, ":", err)
		}
	}
}

// scheduleRecompute never blocks; a full buffer means a recompute for this
// burst is already pending.
func (r *Reconciler) scheduleRecompute(campaignID int) {
	select {
	case r.recomputeCh <- campaignID:
	default:
		log.Println("recompute queue full, skipping for campaign", campaignID)
	}
}

// Apply processes one callback. Applying the same callback twice is a
// no-op once the record is terminal; the only transition a callback can
// cause is sent -> failed.
func (r *Reconciler) Apply(cb DeliveryCallback) error {
	mapped := MapProviderStatus(cb.DeliveryStatus)
	if mapped == StatusUnknown {
		log.Printf("Unrecognized provider status %q for %s, ignoring\n", cb.DeliveryStatus, cb.ProviderMessageID)
		return nil
	}

	msg, err := r.MessageRepo.GetByProviderMessageID(cb.ProviderMessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		log.Println("Callback for unknown provider message id:", cb.ProviderMessageID)
		return nil
	}

	switch mapped {
	case model.MessageStatusSent:
		// The worker already recorded the send; a delivered or accepted
		// confirmation is a no-op.
		return nil
	case model.MessageStatusFailed:
		if msg.Status == model.MessageStatusFailed {
			return nil
		}
		reason := cb.Error
		if reason == "" {
			reason = "delivery failed: " + cb.DeliveryStatus
		}
		changed, err := r.MessageRepo.MarkDeliveryFailed(cb.ProviderMessageID, reason)
		if err != nil {
			return err
		}
		if changed {
			r.scheduleRecompute(msg.CampaignID)
		}
	}
	return nil
}

// ApplyAll processes a batch of callbacks; a malformed or failing single
// callback is logged and skipped, the rest are still processed.
func (r *Reconciler) ApplyAll(cbs []DeliveryCallback) int {
	applied := 0
	for _, cb := range cbs {
		if cb.ProviderMessageID == "" {
			log.Println("Skipping callback without provider message id")
			continue
		}
		if err := r.Apply(cb); err != nil {
			log.Println("⚠️ failed to apply delivery callback:", err)
			continue
		}
		applied++
	}
	return applied
}

// RefreshCampaign is the polling backstop: look up current provider status
// for every sent message of the campaign and reconcile.
func (r *Reconciler) RefreshCampaign(ctx context.Context, campaignID int) (int, error) {
	msgs, err := r.MessageRepo.ListSentByCampaign(campaignID)
	if err != nil {
		return 0, err
	}
	return r.refresh(ctx, msgs), nil
}

// RefreshBatch reconciles one provider bulk call by its correlation id.
func (r *Reconciler) RefreshBatch(ctx context.Context, batchID string) (int, error) {
	msgs, err := r.MessageRepo.ListSentByBatch(batchID)
	if err != nil {
		return 0, err
	}
	return r.refresh(ctx, msgs), nil
}

func (r *Reconciler) refresh(ctx context.Context, msgs []*model.Message) int {
	checked := 0
	for _, m := range msgs {
		if m.ProviderMessageID == nil {
			continue
		}
		status, err := r.Provider.GetStatus(ctx, *m.ProviderMessageID)
		if err != nil {
			log.Println("⚠️ status lookup failed for", *m.ProviderMessageID, ":", err)
			continue
		}
		if err := r.Apply(DeliveryCallback{
			ProviderMessageID: *m.ProviderMessageID,
			DeliveryStatus:    status.DeliveryStatus,
			Timestamp:         status.UpdatedAt,
		}); err != nil {
			log.Println("⚠️ failed to reconcile", *m.ProviderMessageID, ":", err)
			continue
		}
		checked++
	}
	return checked
}
