package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// fakeProvider stands in for the real messaging API. It assigns a random
// provider message id per accepted message, like the real thing does.
func fakeProvider(t *testing.T) (*httptest.Server, *HTTPClient) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages/bulk", func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.AccountID == "" {
			http.Error(w, "missing account_id", http.StatusUnauthorized)
			return
		}

		resp := BulkResponse{BatchID: uuid.NewString()}
		for i, msg := range req.Messages {
			item := BulkResultItem{InputIndex: i}
			if msg.To == "" {
				item.Error = "missing destination"
				item.Code = 400
			} else {
				item.ProviderMessageID = uuid.NewString()
			}
			resp.Results = append(resp.Results, item)
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(singleResponse{ProviderMessageID: uuid.NewString()})
	})
	mux.HandleFunc("/v1/messages/pm-1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StatusResponse{DeliveryStatus: "delivered"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewHTTPClient(srv.URL, "acct-1")
}

func TestSendBulkPreservesOrder(t *testing.T) {
	_, client := fakeProvider(t)

	msgs := []BulkMessage{
		{To: "+254700000001", Text: "hello"},
		{To: "", Text: "broken"},
		{To: "+254700000003", Text: "hello"},
	}
	resp, err := client.SendBulk(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}

	if resp.BatchID == "" {
		t.Error("expected a batch correlation id")
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	for i, item := range resp.Results {
		if item.InputIndex != i {
			t.Errorf("result %d has index %d", i, item.InputIndex)
		}
	}
	if resp.Results[0].ProviderMessageID == "" || resp.Results[2].ProviderMessageID == "" {
		t.Error("accepted messages must carry a provider message id")
	}
	if resp.Results[1].Error == "" || resp.Results[1].Code != 400 {
		t.Errorf("rejected message must carry an error and code, got %+v", resp.Results[1])
	}
}

func TestSendBulkResultCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(BulkResponse{BatchID: "b-1", Results: []BulkResultItem{{InputIndex: 0}}})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "acct-1")
	_, err := client.SendBulk(context.Background(), []BulkMessage{{To: "a"}, {To: "b"}})
	if err == nil {
		t.Fatal("expected error when result count does not match input count")
	}
}

func TestSendBulkServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "acct-1")
	_, err := client.SendBulk(context.Background(), []BulkMessage{{To: "a"}})

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", reqErr.StatusCode)
	}
	if !Retryable(err) {
		t.Error("5xx must classify as retryable")
	}
}

func TestSendSingle(t *testing.T) {
	_, client := fakeProvider(t)

	id, err := client.SendSingle(context.Background(), BulkMessage{To: "+254700000001", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected a provider message id")
	}
}

func TestGetStatus(t *testing.T) {
	_, client := fakeProvider(t)

	resp, err := client.GetStatus(context.Background(), "pm-1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.DeliveryStatus != "delivered" {
		t.Errorf("expected delivered, got %s", resp.DeliveryStatus)
	}
}
