package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/export"
)

func (s *HTTPServer) handlePayouts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createPayout(w, r)
	case http.MethodGet:
		s.listPayouts(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createPayout(w http.ResponseWriter, r *http.Request) {
	type request struct {
		RentalID string `json:"rental_id"`
		Reason   string `json:"reason"`
		ActorID  string `json:"actor_id"`
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
	if strings.TrimSpace(body.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	payout, err := s.payouts.Initiate(r.Context(), body.RentalID, body.Reason, body.ActorID)
	if err != nil {
		s.writePaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payout)
}

func (s *HTTPServer) listPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.store.ListPayouts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": payouts})
}

// handleLedgerReport streams the ledger and payouts as an xlsx workbook.
func (s *HTTPServer) handleLedgerReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	records, err := s.store.ListPaymentRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	payouts, err := s.store.ListPayouts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.xlsx"`)
	if err := export.WriteLedgerXLSX(w, records, payouts); err != nil {
		s.log.Error().Err(err).Msg("ledger export failed")
	}
}
