package payment

import (
	"context"
	"log/slog"

	"github.com/yangwenmai/letterlock/internal/model"
	"github.com/yangwenmai/letterlock/internal/store"
)

// WebhookHandler verifies inbound gateway events, records them in the inbox
// and applies them.
type WebhookHandler struct {
	verifier  Verifier
	inbox     store.EventInbox
	processor *Processor
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(verifier Verifier, inbox store.EventInbox, processor *Processor) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, inbox: inbox, processor: processor}
}

// Receive handles one webhook delivery. It returns nil once the event is
// durably processed or safely ignored, an AUTH error when the signature does
// not verify, and an INTERNAL error when the event could not be applied (it
// stays FAILED in the inbox for the reconciler and the gateway's own retry).
func (h *WebhookHandler) Receive(ctx context.Context, payload []byte, signatureHeader string) error {
	ev, err := h.verifier.Verify(payload, signatureHeader)
	if err != nil {
		slog.Warn("webhook rejected", "error", err)
		return model.AuthError(err)
	}

	log := slog.With("event_id", ev.ID, "event_type", ev.GatewayType)
	if ev.Kind == model.EventIgnored {
		log.Debug("webhook event ignored")
		return nil
	}

	rec, err := h.inbox.RecordEvent(ctx, ev, payload)
	if err != nil {
		return model.InternalError("record webhook event", err)
	}
	if rec.Status == model.InboxProcessed {
		log.Info("duplicate webhook delivery acknowledged")
		return nil
	}

	if err := h.processor.Apply(ctx, ev); err != nil {
		log.Error("webhook event failed", "error", err)
		if mErr := h.inbox.MarkEventFailed(ctx, ev.ID, err); mErr != nil {
			log.Error("failed to mark event FAILED", "error", mErr)
		}
		return model.InternalError("apply webhook event", err)
	}

	// The transition is durable; a lost PROCESSED mark only costs a no-op re-apply.
	if err := h.inbox.MarkEventProcessed(ctx, ev.ID); err != nil {
		log.Error("failed to mark event PROCESSED", "error", err)
	}
	return nil
}
