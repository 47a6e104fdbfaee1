package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/metrics"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/reconcile"
)

const maxWebhookBody = 1 << 20 // 1 MiB

func (s *HTTPServer) handlePayMongoWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, s.paymongo)
}

func (s *HTTPServer) handlePayPalWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleWebhook(w, r, s.paypal)
}

// handleWebhook runs the full pipeline: verify, normalize, admit, apply.
// Response codes are a contract with the provider's retry loop: 2xx means
// never send this delivery again, 5xx means do.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request, adapter provider.Adapter) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	providerName := adapter.Provider()
	signatureValid := true
	if err := adapter.Verify(r.Context(), body, r.Header); err != nil {
		signatureValid = false
		if !s.acceptUnverified(r.Context(), adapter, body) {
			metrics.IncWebhook(providerName, "invalid_signature")
			s.log.Warn().Err(err).Str("provider", providerName).Msg("webhook signature rejected")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		s.log.Warn().Err(err).Str("provider", providerName).Msg("accepting webhook with invalid signature")
	}

	event, err := adapter.Normalize(r.Context(), body)
	if err != nil {
		if errors.Is(err, provider.ErrUnhandledEvent) {
			metrics.IncWebhook(providerName, "ignored")
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "handled": false})
			return
		}
		metrics.IncWebhook(providerName, "malformed")
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	if err := s.guard.Admit(r.Context(), &models.WebhookEvent{
		Provider:       event.Provider,
		EventID:        event.EventID,
		EventType:      event.RawStatus,
		Payload:        string(body),
		SignatureValid: signatureValid,
	}); err != nil {
		if !errors.Is(err, database.ErrDuplicateEvent) {
			s.log.Error().Err(err).Str("event_id", event.EventID).Msg("guard admit failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		// a duplicate is only safe to ack when the first delivery actually
		// finished; otherwise the retry is our chance to recover the event
		done, derr := s.guard.Completed(r.Context(), event.Provider, event.EventID)
		if derr != nil {
			s.log.Error().Err(derr).Str("event_id", event.EventID).Msg("duplicate outcome lookup failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if done {
			metrics.IncWebhook(providerName, "duplicate")
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
		s.log.Info().
			Str("provider", providerName).
			Str("event_id", event.EventID).
			Msg("redelivery of an unfinished event, reprocessing")
	}

	applyErr := s.reconciler.Apply(r.Context(), event)
	s.guard.MarkProcessed(r.Context(), event.Provider, event.EventID, applyErr)

	switch {
	case applyErr == nil:
		metrics.IncWebhook(providerName, "processed")
		writeJSON(w, http.StatusOK, map[string]any{"received": true})

	case errors.Is(applyErr, database.ErrStaleEvent):
		metrics.IncWebhook(providerName, "stale")
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "stale": true})

	case errors.Is(applyErr, reconcile.ErrUnknownPayment):
		// acked so the provider stops retrying; an operator was alerted
		metrics.IncWebhook(providerName, "unknown_payment")
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "unmatched": true})

	case errors.Is(applyErr, provider.ErrUpstreamUnavailable):
		metrics.IncWebhook(providerName, "upstream_error")
		writeError(w, http.StatusBadGateway, "provider unavailable")

	default:
		// includes partial failures: the provider must retry the delivery
		metrics.IncWebhook(providerName, "error")
		s.log.Error().Err(applyErr).
			Str("provider", providerName).
			Str("event_id", event.EventID).
			Msg("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}

// acceptUnverified implements the two configured escape hatches: the global
// non-production signature bypass, and unsigned source.chargeable deliveries
// when the provider sends sources without a signing scheme.
func (s *HTTPServer) acceptUnverified(ctx context.Context, adapter provider.Adapter, body []byte) bool {
	if s.cfg.AllowInvalidSignatures {
		return true
	}
	if adapter.Provider() != models.ProviderPayMongo || !s.pmCfg.AllowUnverifiedSources {
		return false
	}
	event, err := adapter.Normalize(ctx, body)
	if err != nil {
		return false
	}
	return event.Outcome == models.OutcomeChargeable
}
