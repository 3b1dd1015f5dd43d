package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-dispatch/internal/repository"
)

const (
	sheetDispatches = "Dispatches"
	sheetStock      = "Stock"
)

// Service renders the dispatch log and stock balances as an XLSX workbook.
type Service struct {
	dispatches repository.DispatchRepository
	stock      repository.StockRepository
	logger     *slog.Logger
}

func NewService(dispatches repository.DispatchRepository, stock repository.StockRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dispatches: dispatches, stock: stock, logger: logger}
}

// Window resolves an inclusive date window to the half-open range the repository expects.
// Only from: from..today. Only to: beginning..to. Neither: everything.
func Window(from, to *time.Time, now time.Time) (*time.Time, *time.Time) {
	var lo, hi *time.Time
	if from != nil {
		f := repository.StartOfDay(*from)
		lo = &f
	}
	if to == nil && from != nil {
		to = &now
	}
	if to != nil {
		t := repository.StartOfDay(*to).AddDate(0, 0, 1)
		hi = &t
	}
	return lo, hi
}

// DispatchWorkbookXLSX returns the company's dispatch entries in the window plus current stock.
func (s *Service) DispatchWorkbookXLSX(ctx context.Context, companyID string, from, to *time.Time) ([]byte, error) {
	start := time.Now()
	lo, hi := Window(from, to, time.Now().UTC())

	entries, err := s.dispatches.ListRange(ctx, companyID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	balances, err := s.stock.List(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// the default sheet becomes the dispatch log
	if err := f.SetSheetName(f.GetSheetName(0), sheetDispatches); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(sheetStock); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	writeHeader(f, sheetDispatches, bold, "Date", "Invoice No.", "Product", "Technical Name", "Quantity", "Truck No.", "Source", "Recorded At")
	for i, e := range entries {
		row := i + 2
		source := "image"
		if e.FromFallback {
			source = "document fallback"
		}
		qty, _ := e.Quantity.Float64()
		writeRow(f, sheetDispatches, row,
			e.Date.Format("2006-01-02"),
			e.InvoiceNumber,
			e.Product.CommonName,
			e.Product.TechnicalName,
			qty,
			e.TruckNumber,
			source,
			e.CreatedAt.Format(time.RFC3339),
		)
	}
	_ = f.SetColWidth(sheetDispatches, "A", "B", 14)
	_ = f.SetColWidth(sheetDispatches, "C", "D", 28)
	_ = f.SetColWidth(sheetDispatches, "E", "F", 14)
	_ = f.SetColWidth(sheetDispatches, "G", "H", 22)

	writeHeader(f, sheetStock, bold, "Product ID", "Available Quantity", "Last Updated")
	for i, b := range balances {
		qty, _ := b.AvailableQuantity.Float64()
		writeRow(f, sheetStock, i+2, b.ProductID, qty, b.LastUpdated.Format(time.RFC3339))
	}
	_ = f.SetColWidth(sheetStock, "A", "C", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"company_id", companyID,
		"dispatch_rows", len(entries),
		"stock_rows", len(balances),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, style int, headers ...string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
