// internal/controller/webhook_controller.go
package controller

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// WebhookController receives provider delivery callbacks. It always
// acknowledges with 200 regardless of internal processing outcome to
// avoid callback-retry storms; the raw payload is persisted for
// audit/replay before any processing.
type WebhookController struct {
	Reconciler   *service.Reconciler
	CallbackRepo repository.CallbackRepositoryInterface
}

func (c *WebhookController) DeliveryCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Println("⚠️ failed to read callback body:", err)
		writeJSON(w, http.StatusOK, map[string]int{"received": 0})
		return
	}

	if err := c.CallbackRepo.InsertRaw("provider_dlr", body); err != nil {
		log.Println("⚠️ failed to persist raw callback:", err)
	}

	callbacks := parseCallbacks(body)
	applied := c.Reconciler.ApplyAll(callbacks)

	writeJSON(w, http.StatusOK, map[string]int{"received": len(callbacks), "applied": applied})
}

// parseCallbacks accepts a single object or an array. A body that is
// neither yields an empty slice; the webhook still acknowledges.
func parseCallbacks(body []byte) []service.DeliveryCallback {
	var many []service.DeliveryCallback
	if err := json.Unmarshal(body, &many); err == nil {
		return many
	}

	var one service.DeliveryCallback
	if err := json.Unmarshal(body, &one); err == nil && one.ProviderMessageID != "" {
		return []service.DeliveryCallback{one}
	}

	log.Println("⚠️ unparseable delivery callback payload")
	return nil
}
