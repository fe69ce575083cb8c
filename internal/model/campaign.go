// internal/model/campaign.go
package model

import "time"

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

type Campaign struct {
	ID           int        `db:"id" json:"id"`
	OwnerID      string     `db:"owner_id" json:"owner_id"`
	Name         string     `db:"name" json:"name"`
	Channel      string     `db:"channel" json:"channel"`
	Status       string     `db:"status" json:"status"`
	BaseTemplate string     `db:"base_template" json:"base_template"`
	Total        int        `db:"total" json:"total"`
	Success      int        `db:"success" json:"success"`
	Failed       int        `db:"failed" json:"failed"`
	ScheduledAt  *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Processed is the number of messages that reached a terminal state.
func (c *Campaign) Processed() int { return c.Success + c.Failed }

// Queued is derived, never stored: total minus processed.
func (c *Campaign) Queued() int { return c.Total - c.Processed() }
