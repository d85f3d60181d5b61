package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

// Service is a tiny façade over the repository that produces XLSX bytes
// for exports.
type Service struct {
	repo   repository.InvoiceRepository
	logger *slog.Logger
}

func NewService(repo repository.InvoiceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportInvoicesXLSX returns an XLSX workbook (as bytes) for the given
// vendor filter and issue-date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all invoices.
// The workbook has two sheets: one row per invoice, one row per line item.
func (s *Service) ExportInvoicesXLSX(ctx context.Context, vendor string, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize dates (date-only, UTC)
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		toDate = &t
	}

	invoices, err := s.repo.List(ctx, vendor, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	const invoiceSheet = "Invoices"
	const itemSheet = "Line Items"

	// excelize starts with "Sheet1"; rename it rather than leaving it empty
	if err := f.SetSheetName(f.GetSheetName(0), invoiceSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(itemSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(invoiceSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Invoice Number",
		"Vendor",
		"Customer",
		"Issue Date",
		"Due Date",
		"Subtotal",
		"Tax",
		"Total",
		"Currency",
		"Source Document",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(invoiceSheet, cell, h)
	}

	itemHeaders := []string{
		"Invoice Number",
		"Line",
		"Description",
		"Quantity",
		"Unit Price",
		"Line Total",
	}
	for i, h := range itemHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(itemSheet, cell, h)
	}

	row := 2
	itemRow := 2
	totalItems := 0
	for _, inv := range invoices {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(invoiceSheet, cell, v)
		}

		write(1, inv.InvoiceNumber)
		write(2, inv.VendorName)
		write(3, inv.CustomerName)
		write(4, inv.IssueDate.Format("2006-01-02"))
		if inv.DueDate != nil {
			write(5, inv.DueDate.Format("2006-01-02"))
		} else {
			write(5, "")
		}
		write(6, inv.Subtotal)
		write(7, inv.Tax)
		write(8, inv.Total)
		write(9, inv.CurrencyCode)
		write(10, inv.SourceDocumentID)
		row++

		items, err := s.repo.LineItems(ctx, inv.InvoiceNumber)
		if err != nil {
			return nil, fmt.Errorf("query line items for %s: %w", inv.InvoiceNumber, err)
		}
		for _, it := range items {
			writeItem := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, itemRow)
				_ = f.SetCellValue(itemSheet, cell, v)
			}
			writeItem(1, it.InvoiceNumber)
			writeItem(2, it.LineIndex)
			writeItem(3, truncate(it.Description, 140))
			writeItem(4, it.Quantity)
			writeItem(5, it.UnitPrice)
			writeItem(6, it.LineTotal)
			itemRow++
			totalItems++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(invoiceSheet, "A", "A", 18) // invoice number
	_ = f.SetColWidth(invoiceSheet, "B", "C", 28) // vendor / customer
	_ = f.SetColWidth(invoiceSheet, "D", "E", 12) // dates
	_ = f.SetColWidth(invoiceSheet, "F", "H", 12) // amounts
	_ = f.SetColWidth(invoiceSheet, "J", "J", 64) // document id
	_ = f.SetColWidth(itemSheet, "A", "A", 18)
	_ = f.SetColWidth(itemSheet, "C", "C", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"invoices", len(invoices),
		"line_items", totalItems,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
