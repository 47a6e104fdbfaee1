package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/config"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/reconcile"
)

// HTTPServer exposes the webhook receivers and the operations API.
type HTTPServer struct {
	cfg        config.APIConfig
	pmCfg      config.PayMongoConfig
	store      domain.Store
	guard      *reconcile.Guard
	reconciler *reconcile.Reconciler
	intents    *reconcile.Intents
	payouts    *reconcile.PayoutManager
	paymongo   provider.Adapter
	paypal     provider.Adapter
	server     *http.Server
	auth       *HTTPAuth
	log        zerolog.Logger
}

// Deps wires the server to the rest of the engine.
type Deps struct {
	Store      domain.Store
	Guard      *reconcile.Guard
	Reconciler *reconcile.Reconciler
	Intents    *reconcile.Intents
	Payouts    *reconcile.PayoutManager
	PayMongo   provider.Adapter
	PayPal     provider.Adapter
	Logger     *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, pmCfg config.PayMongoConfig, deps Deps) *HTTPServer {
	var log zerolog.Logger
	if deps.Logger != nil {
		log = deps.Logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:        cfg,
		pmCfg:      pmCfg,
		store:      deps.Store,
		guard:      deps.Guard,
		reconciler: deps.Reconciler,
		intents:    deps.Intents,
		payouts:    deps.Payouts,
		paymongo:   deps.PayMongo,
		paypal:     deps.PayPal,
		log:        log,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/paymongo", srv.handlePayMongoWebhook)
	mux.HandleFunc("/webhooks/paypal", srv.handlePayPalWebhook)
	mux.HandleFunc("/api/v1/payments/deposit-intent", srv.handleDepositIntent)
	mux.HandleFunc("/api/v1/payments/attach", srv.handleAttach)
	mux.HandleFunc("/api/v1/payments/status", srv.handlePaymentStatus)
	mux.HandleFunc("/api/v1/rentals/", srv.handleRentalHistory)
	mux.HandleFunc("/api/v1/payouts", srv.handlePayouts)
	mux.HandleFunc("/api/v1/reports/ledger.xlsx", srv.handleLedgerReport)
	mux.HandleFunc("/healthz", srv.handleHealthz)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
