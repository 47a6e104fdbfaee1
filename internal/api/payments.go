package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/reconcile"
)

func (s *HTTPServer) handleDepositIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		RentalID string `json:"rental_id"`
		UserID   string `json:"user_id"`
	}
	var body request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.RentalID) == "" {
		writeError(w, http.StatusBadRequest, "rental_id is required")
		return
	}

	intent, err := s.intents.CreateDepositIntent(r.Context(), body.RentalID, body.UserID)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"intent_id":  intent.ID,
		"client_key": intent.ClientKey,
		"status":     intent.Status,
		"amount":     intent.Amount,
		"currency":   intent.Currency,
	})
}

func (s *HTTPServer) handleAttach(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		IntentID        string `json:"intent_id"`
		PaymentMethodID string `json:"payment_method_id"`
		ClientKey       string `json:"client_key"`
		ReturnURL       string `json:"return_url"`
	}
	var body request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.IntentID == "" || body.PaymentMethodID == "" {
		writeError(w, http.StatusBadRequest, "intent_id and payment_method_id are required")
		return
	}

	intent, err := s.intents.Attach(r.Context(), body.IntentID, body.PaymentMethodID, body.ClientKey, body.ReturnURL)
	if err != nil && intent == nil {
		s.writePaymentError(w, err)
		return
	}

	resp := map[string]any{
		"intent_id": intent.ID,
		"status":    intent.Status,
	}
	if intent.NextActionURL != "" {
		resp["next_action_url"] = intent.NextActionURL
	}
	if intent.LastError != "" {
		resp["last_error"] = intent.LastError
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	externalID := strings.TrimSpace(r.URL.Query().Get("intent_id"))
	if externalID == "" {
		writeError(w, http.StatusBadRequest, "intent_id is required")
		return
	}

	record, err := s.intents.CheckStatus(r.Context(), externalID)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleRentalHistory serves /api/v1/rentals/{id}/history: the rental, its
// ledger rows, and the append-only audit trail.
func (s *HTTPServer) handleRentalHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/rentals/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	rentalID, tail, _ := strings.Cut(rest, "/")
	if rentalID == "" || tail != "history" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rental, err := s.store.GetRental(r.Context(), rentalID)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}
	payments, err := s.store.GetPaymentsByRental(r.Context(), rentalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	history, err := s.store.GetHistory(r.Context(), rentalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rental":   rental,
		"payments": payments,
		"history":  history,
	})
}

// writePaymentError maps engine errors onto HTTP statuses.
func (s *HTTPServer) writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrActivePaymentExists):
		writeError(w, http.StatusConflict, "an active payment already exists for this rental")
	case errors.Is(err, database.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, "deposit already processed")
	case errors.Is(err, reconcile.ErrPrecondition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, provider.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, "provider unavailable")
	default:
		s.log.Error().Err(err).Msg("payment request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
