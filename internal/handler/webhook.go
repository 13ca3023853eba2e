package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/carpoolhub/platform/internal/domain"
	"github.com/carpoolhub/platform/internal/provider"
	"github.com/go-chi/chi/v5"
)

// SignatureVerifier authenticates a webhook delivery and parses its event.
type SignatureVerifier interface {
	VerifyWebhookSignature(payload []byte, sigHeader string) (*provider.Event, error)
}

// EventHandler stores and applies a verified provider event.
type EventHandler interface {
	Handle(ctx context.Context, source string, payload []byte, event *provider.Event) (*domain.WebhookAck, error)
}

// WebhookSource is a provider that delivers webhooks to /api/webhook/{source}.
type WebhookSource struct {
	Verifier        SignatureVerifier
	SignatureHeader string
}

// WebhookHandler handles provider webhook callbacks.
type WebhookHandler struct {
	sources map[string]WebhookSource
	events  EventHandler
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(sources map[string]WebhookSource, events EventHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{sources: sources, events: events, logger: logger}
}

// Handle handles POST /api/webhook/{source}. The raw body is needed for the
// signature check. Every authenticated delivery is answered 200 with the
// outcome; only a failure to store the event asks the provider to retry.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "source")
	src, ok := h.sources[name]
	if !ok {
		RespondError(w, domain.ErrNotFound("webhook source", name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("read webhook body", "source", name, "error", err)
		RespondError(w, domain.ErrValidation("unreadable body"))
		return
	}

	event, err := src.Verifier.VerifyWebhookSignature(body, r.Header.Get(src.SignatureHeader))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "source", name, "error", err)
		RespondError(w, domain.ErrValidation("invalid webhook signature"))
		return
	}

	ack, err := h.events.Handle(r.Context(), name, body, event)
	if err != nil {
		h.logger.Error("store webhook event", "source", name, "event_id", event.ID, "error", err)
		RespondError(w, domain.ErrInternal("event not stored", err))
		return
	}
	RespondJSON(w, http.StatusOK, ack)
}
