package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	BaseURL   string
	AccountID string
	client    *http.Client
}

func NewHTTPClient(baseURL, accountID string) *HTTPClient {
	return &HTTPClient{
		BaseURL:   baseURL,
		AccountID: accountID,
		client: &http.Client{
			Timeout: time.Second * 15,
		},
	}
}

type bulkRequest struct {
	AccountID string        `json:"account_id"`
	Messages  []BulkMessage `json:"messages"`
}

func (c *HTTPClient) SendBulk(ctx context.Context, msgs []BulkMessage) (*BulkResponse, error) {
	body, err := c.post(ctx, "/v1/messages/bulk", bulkRequest{AccountID: c.AccountID, Messages: msgs})
	if err != nil {
		return nil, err
	}

	var resp BulkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if len(resp.Results) != len(msgs) {
		return nil, fmt.Errorf("bulk response has %d results for %d messages", len(resp.Results), len(msgs))
	}
	return &resp, nil
}

type singleResponse struct {
	ProviderMessageID string `json:"message_id"`
}

func (c *HTTPClient) SendSingle(ctx context.Context, msg BulkMessage) (string, error) {
	body, err := c.post(ctx, "/v1/messages", struct {
		AccountID string `json:"account_id"`
		BulkMessage
	}{AccountID: c.AccountID, BulkMessage: msg})
	if err != nil {
		return "", err
	}

	var resp singleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode send response: %w", err)
	}
	return resp.ProviderMessageID, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, providerMessageID string) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/messages/"+providerMessageID+"/status", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

var _ Client = (*HTTPClient)(nil)
