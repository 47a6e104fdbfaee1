// Package sheets exports the payment ledger and payouts to Google Sheets for
// the finance team. Exports are append-only and flow through the retry worker
// so sheet outages never touch reconciliation.
package sheets

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/config"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

type Service struct {
	service        *sheets.Service
	ledgerSheetID  string
	payoutsSheetID string
}

func NewService(cfg config.GoogleConfig) (*Service, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	return &Service{
		service:        srv,
		ledgerSheetID:  cfg.LedgerSpreadsheetID,
		payoutsSheetID: cfg.PayoutsSpreadsheetID,
	}, nil
}

// TestConnection reads one cell to confirm the service account has access.
func (s *Service) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.ledgerSheetID, "Ledger!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// AppendPaymentRow appends one ledger row.
func (s *Service) AppendPaymentRow(ctx context.Context, record *models.PaymentRecord) error {
	kind := "full"
	if record.IsDeposit {
		kind = "deposit"
	}
	row := []interface{}{
		record.RentalID,
		record.Provider,
		record.ExternalID,
		kind,
		record.Amount,
		record.Currency,
		record.Status,
		record.CaptureID,
		record.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	return s.appendRow(ctx, s.ledgerSheetID, "Ledger!A:A", row)
}

// AppendPayoutRow appends one payout row.
func (s *Service) AppendPayoutRow(ctx context.Context, payout *models.Payout) error {
	row := []interface{}{
		payout.ID,
		payout.RentalID,
		payout.ShopID,
		payout.Amount,
		payout.Status,
		payout.Reason,
		payout.ProcessedBy,
		payout.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	return s.appendRow(ctx, s.payoutsSheetID, "Payouts!A:A", row)
}

func (s *Service) appendRow(ctx context.Context, sheetID, rangeData string, row []interface{}) error {
	if sheetID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{row},
	}
	_, err := s.service.Spreadsheets.Values.Append(sheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}
