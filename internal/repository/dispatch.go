package repository

import (
	"context"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
)

const tableDispatch = "dispatch_entries"

var dispatchColumns = []string{
	"id", "company_id", "date", "product_id", "product_technical_name", "product_common_name",
	"quantity", "truck_number", "invoice_number", "from_fallback", "created_at",
}

type DispatchRepository interface {
	Create(ctx context.Context, e *entity.DispatchEntry) (*entity.DispatchEntry, error)
	// ListByDate returns the company's entries whose date falls on the given UTC calendar day.
	ListByDate(ctx context.Context, companyID string, day time.Time) ([]*entity.DispatchEntry, error)
	// ListRange returns entries with from <= date < to; nil bounds are open.
	ListRange(ctx context.Context, companyID string, from, to *time.Time) ([]*entity.DispatchEntry, error)
	SumQuantity(ctx context.Context, companyID, productID string) (decimal.Decimal, error)
}

type dispatchRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewDispatchRepository(db *DB, logger *slog.Logger) DispatchRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatchRepository{db: db, logger: logger}
}

func (r *dispatchRepository) Create(ctx context.Context, e *entity.DispatchEntry) (*entity.DispatchEntry, error) {
	out := *e
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	out.Date = out.Date.UTC()
	out.CreatedAt = out.CreatedAt.UTC()

	q, args := r.db.builder().Insert(tableDispatch).
		Columns(dispatchColumns...).
		Values(out.ID, out.CompanyID, out.Date, out.Product.ID, out.Product.TechnicalName, out.Product.CommonName,
			out.Quantity, out.TruckNumber, out.InvoiceNumber, out.FromFallback, out.CreatedAt).
		Query()
	if err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("repo.dispatch.create_failed", "company_id", out.CompanyID, "error", err)
		return nil, err
	}
	return &out, nil
}

func (r *dispatchRepository) ListByDate(ctx context.Context, companyID string, day time.Time) ([]*entity.DispatchEntry, error) {
	from := StartOfDay(day)
	to := from.AddDate(0, 0, 1)
	return r.ListRange(ctx, companyID, &from, &to)
}

func (r *dispatchRepository) ListRange(ctx context.Context, companyID string, from, to *time.Time) ([]*entity.DispatchEntry, error) {
	preds := []*entsql.Predicate{entsql.EQ("company_id", companyID)}
	if from != nil {
		preds = append(preds, entsql.GTE("date", from.UTC()))
	}
	if to != nil {
		preds = append(preds, entsql.LT("date", to.UTC()))
	}
	b := r.db.builder()
	q, args := b.Select(dispatchColumns...).
		From(b.Table(tableDispatch)).
		Where(entsql.And(preds...)).
		OrderBy("date", "created_at").
		Query()

	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		r.logger.Error("repo.dispatch.list_failed", "company_id", companyID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*entity.DispatchEntry
	for rows.Next() {
		var e entity.DispatchEntry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Date, &e.Product.ID, &e.Product.TechnicalName, &e.Product.CommonName,
			&e.Quantity, &e.TruckNumber, &e.InvoiceNumber, &e.FromFallback, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Date = e.Date.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *dispatchRepository) SumQuantity(ctx context.Context, companyID, productID string) (decimal.Decimal, error) {
	b := r.db.builder()
	q, args := b.Select("quantity").
		From(b.Table(tableDispatch)).
		Where(entsql.And(entsql.EQ("company_id", companyID), entsql.EQ("product_id", productID))).
		Query()

	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	// summed here so NUMERIC precision survives dialects without exact SUM
	total := decimal.Zero
	for rows.Next() {
		var qty decimal.Decimal
		if err := rows.Scan(&qty); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(qty)
	}
	return total, rows.Err()
}

// StartOfDay truncates t to midnight of its UTC calendar day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
