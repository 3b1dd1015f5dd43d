package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
)

const tableCounters = "company_invoice_counters"

type CounterRepository interface {
	Get(ctx context.Context, companyID string) (*entity.CompanyInvoiceCounter, error)
	SetLastInvoiceNumber(ctx context.Context, companyID, invoiceNumber string) (*entity.CompanyInvoiceCounter, error)
}

type counterRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewCounterRepository(db *DB, logger *slog.Logger) CounterRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &counterRepository{db: db, logger: logger}
}

func (r *counterRepository) Get(ctx context.Context, companyID string) (*entity.CompanyInvoiceCounter, error) {
	b := r.db.builder()
	q, args := b.Select("company_id", "last_invoice_number", "last_updated").
		From(b.Table(tableCounters)).
		Where(entsql.EQ("company_id", companyID)).
		Query()

	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("invoice counter %s: %w", companyID, common.ErrNotFound)
	}
	var c entity.CompanyInvoiceCounter
	if err := rows.Scan(&c.CompanyID, &c.LastInvoiceNumber, &c.LastUpdated); err != nil {
		return nil, err
	}
	c.LastUpdated = c.LastUpdated.UTC()
	return &c, nil
}

func (r *counterRepository) SetLastInvoiceNumber(ctx context.Context, companyID, invoiceNumber string) (*entity.CompanyInvoiceCounter, error) {
	now := time.Now().UTC()
	q, args := r.db.builder().Insert(tableCounters).
		Columns("company_id", "last_invoice_number", "last_updated").
		Values(companyID, invoiceNumber, now).
		OnConflict(
			entsql.ConflictColumns("company_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("repo.counter.set_failed", "company_id", companyID, "error", err)
		return nil, err
	}
	return &entity.CompanyInvoiceCounter{CompanyID: companyID, LastInvoiceNumber: invoiceNumber, LastUpdated: now}, nil
}
