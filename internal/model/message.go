// internal/model/message.go
package model

import "time"

// Message statuses. queued -> sent and queued -> failed are terminal;
// sent -> failed is allowed only through a delivery-failure reconciliation.
const (
	MessageStatusQueued = "queued"
	MessageStatusSent   = "sent"
	MessageStatusFailed = "failed"
)

type Message struct {
	ID                int        `db:"id" json:"id"`
	CampaignID        int        `db:"campaign_id" json:"campaign_id"`
	Destination       string     `db:"destination" json:"destination"`
	RenderedContent   string     `db:"rendered_content" json:"rendered_content"`
	BatchID           string     `db:"batch_id" json:"batch_id,omitempty"`
	ProviderMessageID *string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	RetryCount        int        `db:"retry_count" json:"retry_count"`
	LastError         string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	FailedAt          *time.Time `db:"failed_at" json:"failed_at,omitempty"`
}

// Terminal reports whether the message reached a final state.
func (m *Message) Terminal() bool {
	return m.Status == MessageStatusSent || m.Status == MessageStatusFailed
}
