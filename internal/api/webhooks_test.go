package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/config"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/provider"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/reconcile"
)

const testWebhookSecret = "whsk_test_secret"

type stubIntentClient struct {
	intent *provider.Intent
}

func (s *stubIntentClient) CreatePaymentIntent(ctx context.Context, amount float64, currency, description string, metadata map[string]string) (*provider.Intent, error) {
	return s.intent, nil
}

func (s *stubIntentClient) AttachPaymentMethod(ctx context.Context, intentID, paymentMethodID, clientKey, returnURL string) (*provider.Intent, error) {
	return s.intent, nil
}

func (s *stubIntentClient) RetrievePaymentIntent(ctx context.Context, intentID string) (*provider.Intent, error) {
	return s.intent, nil
}

type stubCharger struct {
	calls int
}

func (s *stubCharger) CreatePaymentFromSource(ctx context.Context, sourceID string, amount float64, currency, description string) (*provider.Intent, error) {
	s.calls++
	return &provider.Intent{ID: "pay_" + sourceID, Status: "paid"}, nil
}

type serverFixture struct {
	db      *database.DB
	charger *stubCharger
	ts      *httptest.Server
}

func newServerFixture(t *testing.T, mutate func(*config.APIConfig, *config.PayMongoConfig)) *serverFixture {
	return newServerFixtureStore(t, mutate, nil)
}

// newServerFixtureStore optionally wraps the sqlite store so tests can
// inject write failures behind the full HTTP pipeline.
func newServerFixtureStore(t *testing.T, mutate func(*config.APIConfig, *config.PayMongoConfig), wrap func(*database.DB) domain.Store) *serverFixture {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetVehicles([]*models.Vehicle{{ID: 1, Name: "Honda Click 125i", ShopID: 1, IsActive: true}})
	db.SetShops([]*models.Shop{{ID: 1, Name: "Cloud 9 Rentals", PayoutMethod: "gcash", PayoutAccount: "+639170000001"}})

	apiCfg := config.APIConfig{
		Port: 0,
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "admin-key", Extra: "admin-extra", Name: "ops"},
				{Key: "readonly-key", Extra: "readonly-extra", Name: "frontend", Permissions: []string{"read:payments"}},
			},
		},
	}
	pmCfg := config.PayMongoConfig{
		BaseURL:       "https://api.paymongo.test",
		SecretKey:     "sk_test_key",
		WebhookSecret: testWebhookSecret,
		Timeout:       5 * time.Second,
	}
	if mutate != nil {
		mutate(&apiCfg, &pmCfg)
	}

	var store domain.Store = db
	if wrap != nil {
		store = wrap(db)
	}

	paymongo := provider.NewPayMongo(pmCfg, 300, false, &logger)
	charger := &stubCharger{}
	guard := reconcile.NewGuard(store, nil, &logger)
	blocker := reconcile.NewBlocker(store, nil, &logger)
	reconciler := reconcile.NewReconciler(store, charger, blocker, nil, nil, nil, &logger)
	intents := reconcile.NewIntents(store, &stubIntentClient{
		intent: &provider.Intent{ID: "pi_1", Status: "awaiting_payment_method", ClientKey: "pi_1_client", Amount: 300, Currency: "PHP"},
	}, nil, guard, reconciler, "PHP", &logger)
	payouts := reconcile.NewPayoutManager(store, nil, &logger)

	srv := NewHTTPServer(apiCfg, pmCfg, Deps{
		Store:      store,
		Guard:      guard,
		Reconciler: reconciler,
		Intents:    intents,
		Payouts:    payouts,
		PayMongo:   paymongo,
		Logger:     &logger,
	})

	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return &serverFixture{db: db, charger: charger, ts: ts}
}

func (f *serverFixture) seedRental(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.CreateRental(context.Background(), &models.Rental{
		ID:              id,
		VehicleID:       1,
		ShopID:          1,
		UserID:          "user-1",
		StartDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		TotalPrice:      1500,
		DepositRequired: true,
		DepositAmount:   300,
	}))
}

func (f *serverFixture) seedPayment(t *testing.T, rentalID, externalID string) {
	t.Helper()
	require.NoError(t, f.db.CreatePaymentRecord(context.Background(), &models.PaymentRecord{
		Provider:   models.ProviderPayMongo,
		ExternalID: externalID,
		RentalID:   rentalID,
		Amount:     300,
		Currency:   "PHP",
		IsDeposit:  true,
		Status:     "awaiting_payment_method",
	}))
}

func paymongoWebhookBody(eventID, eventType, resourceID, intentID, status string) []byte {
	env := map[string]any{
		"data": map[string]any{
			"id": eventID,
			"attributes": map[string]any{
				"type":       eventType,
				"created_at": time.Now().Unix(),
				"data": map[string]any{
					"id": resourceID,
					"attributes": map[string]any{
						"amount":            30000,
						"currency":          "php",
						"status":            status,
						"payment_intent_id": intentID,
						"metadata":          map[string]any{"rental_id": "R1", "is_deposit": "true"},
					},
				},
			},
		},
	}
	raw, _ := json.Marshal(env)
	return raw
}

func signedWebhookRequest(t *testing.T, url string, body []byte) *http.Request {
	t.Helper()
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(provider.SignatureHeader, fmt.Sprintf("t=%s,te=%s", ts, sig))
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestWebhook_PayMongoPaymentPaid(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1")

	body := paymongoWebhookBody("evt_1", "payment.paid", "pay_1", "pi_1", "paid")
	resp, err := http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["received"])

	rental, err := f.db.GetRental(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.True(t, rental.DepositPaid)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1")

	body := paymongoWebhookBody("evt_1", "payment.paid", "pay_1", "pi_1", "paid")
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/webhooks/paymongo", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(provider.SignatureHeader, "t=1700000000,te=deadbeef")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	rental, err := f.db.GetRental(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rental.Status)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	f := newServerFixture(t, nil)
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1")

	body := paymongoWebhookBody("evt_1", "payment.paid", "pay_1", "pi_1", "paid")
	resp, err := http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["duplicate"])
}

type flakyStore struct {
	*database.DB
	updateErr error
}

func (s *flakyStore) UpdatePaymentStatus(ctx context.Context, externalID, status, captureID string, eventTS time.Time) error {
	if s.updateErr != nil {
		err := s.updateErr
		s.updateErr = nil
		return err
	}
	return s.DB.UpdatePaymentStatus(ctx, externalID, status, captureID, eventTS)
}

func TestWebhook_RedeliveryAfterStoreFailureReprocesses(t *testing.T) {
	var flaky *flakyStore
	f := newServerFixtureStore(t, nil, func(db *database.DB) domain.Store {
		flaky = &flakyStore{DB: db}
		return flaky
	})
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1")
	flaky.updateErr = assert.AnError

	body := paymongoWebhookBody("evt_1", "payment.paid", "pay_1", "pi_1", "paid")
	resp, err := http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	rental, err := f.db.GetRental(context.Background(), "R1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, rental.Status)

	// the provider retries the same delivery once the fault has cleared;
	// it must be processed, not swallowed as a duplicate
	resp, err = http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, true, out["received"])
	assert.Nil(t, out["duplicate"])

	rental, err = f.db.GetRental(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
	assert.True(t, rental.DepositPaid)

	// a third delivery after completion is a plain duplicate again
	resp, err = http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["duplicate"])
}

func TestWebhook_UnhandledEventType(t *testing.T) {
	f := newServerFixture(t, nil)

	body := paymongoWebhookBody("evt_1", "link.payment.paid", "link_1", "", "paid")
	resp, err := http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["handled"])
}

func TestWebhook_UnknownPaymentIsAcked(t *testing.T) {
	f := newServerFixture(t, nil)

	body := paymongoWebhookBody("evt_1", "payment.paid", "pay_1", "pi_missing", "paid")
	resp, err := http.DefaultClient.Do(signedWebhookRequest(t, f.ts.URL+"/webhooks/paymongo", body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["unmatched"])
}

func TestWebhook_UnsignedSourceChargeable(t *testing.T) {
	f := newServerFixture(t, func(apiCfg *config.APIConfig, pmCfg *config.PayMongoConfig) {
		pmCfg.AllowUnverifiedSources = true
	})
	f.seedRental(t, "R1")

	// redirect e-wallet sources arrive without a signature header
	body := paymongoWebhookBody("evt_1", "source.chargeable", "src_1", "", "chargeable")
	resp, err := http.Post(f.ts.URL+"/webhooks/paymongo", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.charger.calls)

	rental, err := f.db.GetRental(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rental.Status)
}

func TestWebhook_UnsignedNonSourceStillRejected(t *testing.T) {
	f := newServerFixture(t, func(apiCfg *config.APIConfig, pmCfg *config.PayMongoConfig) {
		pmCfg.AllowUnverifiedSources = true
	})
	f.seedRental(t, "R1")
	f.seedPayment(t, "R1", "pi_1")

	body := paymongoWebhookBody("evt_1", "payment.paid", "pay_1", "pi_1", "paid")
	resp, err := http.Post(f.ts.URL+"/webhooks/paymongo", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
