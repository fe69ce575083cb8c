// Package provider abstracts the external bulk/single send API and the
// status-lookup API.
package provider

import (
	"context"
	"time"
)

// BulkMessage is one outbound message in a bulk call.
type BulkMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// BulkResultItem carries the per-message outcome; input order is preserved
// through InputIndex. Exactly one of ProviderMessageID / Error is set.
type BulkResultItem struct {
	InputIndex        int    `json:"index"`
	ProviderMessageID string `json:"message_id,omitempty"`
	Error             string `json:"error,omitempty"`
	Code              int    `json:"code,omitempty"`
}

// BulkResponse groups all messages submitted in one bulk call under a
// provider-assigned batch correlation id.
type BulkResponse struct {
	BatchID string           `json:"batch_id"`
	Results []BulkResultItem `json:"results"`
}

// StatusResponse is the on-demand status lookup result.
type StatusResponse struct {
	DeliveryStatus string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Client interface {
	SendBulk(ctx context.Context, msgs []BulkMessage) (*BulkResponse, error)
	SendSingle(ctx context.Context, msg BulkMessage) (string, error)
	GetStatus(ctx context.Context, providerMessageID string) (*StatusResponse, error)
}
