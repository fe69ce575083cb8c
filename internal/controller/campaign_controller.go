// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type CampaignController struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Dispatch     *service.DispatchService
	SingleSend   *service.SingleSendService
	Reconciler   *service.Reconciler
	Projector    *service.AggregateProjector
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerID      string  `json:"owner_id"`
		Name         string  `json:"name"`
		Channel      string  `json:"channel"`
		BaseTemplate string  `json:"base_template"`
		ScheduledAt  *string `json:"scheduled_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.OwnerID == "" || body.Name == "" || body.BaseTemplate == "" {
		http.Error(w, "owner_id, name and base_template are required", http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		OwnerID:      body.OwnerID,
		Name:         body.Name,
		Channel:      body.Channel,
		BaseTemplate: body.BaseTemplate,
		Status:       model.CampaignStatusDraft,
	}
	if body.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *body.ScheduledAt)
		if err != nil {
			http.Error(w, "invalid scheduled_at: "+err.Error(), http.StatusBadRequest)
			return
		}
		campaign.ScheduledAt = &t
		campaign.Status = model.CampaignStatusScheduled
	}

	if err := c.CampaignRepo.Create(campaign); err != nil {
		http.Error(w, "failed to create campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := c.CampaignRepo.ListCampaigns(offset, pageSize, r.URL.Query().Get("channel"), r.URL.Query().Get("status"))
	if err != nil {
		http.Error(w, "failed to fetch campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignRepo.GetByID(id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": campaign,
		"stats": map[string]int{
			"total":     campaign.Total,
			"success":   campaign.Success,
			"failed":    campaign.Failed,
			"processed": campaign.Processed(),
			"queued":    campaign.Queued(),
		},
	})
}

func (c *CampaignController) DispatchCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	result, err := c.Dispatch.Dispatch(id)
	if err != nil {
		var blocked *appErrors.ErrDispatchBlocked
		if errors.As(err, &blocked) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"blocked": blocked.Reason})
			return
		}
		writeCampaignError(w, err)
		return
	}

	log.Printf("📤 Campaign %d dispatched: %d messages in %d batches\n", result.CampaignID, result.Total, result.Batches)
	writeJSON(w, http.StatusAccepted, result)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c.setStatus(w, r, model.CampaignStatusSending, model.CampaignStatusPaused)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c.setStatus(w, r, model.CampaignStatusPaused, model.CampaignStatusSending)
}

func (c *CampaignController) setStatus(w http.ResponseWriter, r *http.Request, from, to string) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignRepo.GetByID(id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	if campaign.Status != from {
		http.Error(w, "campaign is not "+from, http.StatusConflict)
		return
	}
	if err := c.CampaignRepo.UpdateStatus(id, to); err != nil {
		http.Error(w, "failed to update status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": to})
}

func (c *CampaignController) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	checked, err := c.Reconciler.RefreshCampaign(r.Context(), id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"checked": checked})
}

func (c *CampaignController) SendSingleMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CampaignID int `json:"campaign_id"`
		ContactID  int `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := c.SingleSend.SendOne(r.Context(), body.CampaignID, body.ContactID)
	if err != nil {
		var blocked *appErrors.ErrDispatchBlocked
		if errors.As(err, &blocked) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"blocked": blocked.Reason})
			return
		}
		if msg != nil {
			// The send itself failed; report the terminal message record.
			writeJSON(w, http.StatusBadGateway, msg)
			return
		}
		writeCampaignError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeCampaignError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrCampaignNotFound
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
