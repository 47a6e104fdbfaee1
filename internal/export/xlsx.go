// Package export renders finance reports for download.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

var ledgerHeader = []string{
	"Rental", "Provider", "External ID", "Kind", "Amount", "Currency", "Status", "Capture ID", "Updated",
}

var payoutHeader = []string{
	"Payout", "Rental", "Shop", "Amount", "Status", "Reason", "Processed By", "Created",
}

// WriteLedgerXLSX writes the full payment ledger and payouts as a two-sheet
// workbook.
func WriteLedgerXLSX(w io.Writer, records []*models.PaymentRecord, payouts []*models.Payout) error {
	f := excelize.NewFile()
	defer f.Close()

	const ledgerSheet = "Ledger"
	const payoutSheet = "Payouts"

	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(payoutSheet); err != nil {
		return fmt.Errorf("create payout sheet: %w", err)
	}

	if err := writeRow(f, ledgerSheet, 1, toAny(ledgerHeader)); err != nil {
		return err
	}
	for i, rec := range records {
		kind := "full"
		if rec.IsDeposit {
			kind = "deposit"
		}
		row := []any{
			rec.RentalID, rec.Provider, rec.ExternalID, kind,
			rec.Amount, rec.Currency, rec.Status, rec.CaptureID,
			rec.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := writeRow(f, ledgerSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, payoutSheet, 1, toAny(payoutHeader)); err != nil {
		return err
	}
	for i, p := range payouts {
		row := []any{
			p.ID, p.RentalID, p.ShopID, p.Amount, p.Status, p.Reason, p.ProcessedBy,
			p.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := writeRow(f, payoutSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
