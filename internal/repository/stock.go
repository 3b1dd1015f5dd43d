package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
)

const tableStock = "stock_balances"

var stockColumns = []string{"company_id", "product_id", "available_quantity", "last_updated"}

type StockRepository interface {
	Get(ctx context.Context, companyID, productID string) (*entity.StockBalance, error)
	// Adjust adds delta to the balance atomically, creating the row at delta when absent.
	Adjust(ctx context.Context, companyID, productID string, delta decimal.Decimal) (*entity.StockBalance, error)
	Set(ctx context.Context, companyID, productID string, qty decimal.Decimal) (*entity.StockBalance, error)
	List(ctx context.Context, companyID string) ([]*entity.StockBalance, error)
}

type stockRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewStockRepository(db *DB, logger *slog.Logger) StockRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &stockRepository{db: db, logger: logger}
}

func (r *stockRepository) Get(ctx context.Context, companyID, productID string) (*entity.StockBalance, error) {
	list, err := r.list(ctx, entsql.And(entsql.EQ("company_id", companyID), entsql.EQ("product_id", productID)))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("stock balance %s/%s: %w", companyID, productID, common.ErrNotFound)
	}
	return list[0], nil
}

func (r *stockRepository) Adjust(ctx context.Context, companyID, productID string, delta decimal.Decimal) (*entity.StockBalance, error) {
	var err error
	if r.db.Dialect == dialect.Postgres {
		err = r.adjustInPlace(ctx, companyID, productID, delta)
	} else {
		err = r.adjustInGo(ctx, companyID, productID, delta)
	}
	if err != nil {
		r.logger.Error("repo.stock.adjust_failed", "company_id", companyID, "product_id", productID, "error", err)
		return nil, err
	}
	return r.Get(ctx, companyID, productID)
}

// adjustInPlace lets Postgres add to the exact NUMERIC column.
func (r *stockRepository) adjustInPlace(ctx context.Context, companyID, productID string, delta decimal.Decimal) error {
	q, args := r.db.builder().Insert(tableStock).
		Columns(stockColumns...).
		Values(companyID, productID, delta, time.Now().UTC()).
		OnConflict(
			entsql.ConflictColumns("company_id", "product_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.Add("available_quantity", delta)
				u.SetExcluded("last_updated")
			}),
		).
		Query()
	return r.db.exec(ctx, q, args)
}

// adjustInGo reads, adds in decimal and writes back inside one transaction.
// SQLite has a single connection, so the transaction also serializes writers.
func (r *stockRepository) adjustInGo(ctx context.Context, companyID, productID string, delta decimal.Decimal) error {
	return r.db.withTx(ctx, func(tx dialect.Tx) error {
		b := r.db.builder()
		q, args := b.Select("available_quantity").
			From(b.Table(tableStock)).
			Where(entsql.And(entsql.EQ("company_id", companyID), entsql.EQ("product_id", productID))).
			Query()
		rows := &entsql.Rows{}
		if err := tx.Query(ctx, q, args, rows); err != nil {
			return err
		}
		current := decimal.Zero
		if rows.Next() {
			if err := rows.Scan(&current); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}

		q, args = b.Insert(tableStock).
			Columns(stockColumns...).
			Values(companyID, productID, current.Add(delta), time.Now().UTC()).
			OnConflict(
				entsql.ConflictColumns("company_id", "product_id"),
				entsql.ResolveWithNewValues(),
			).
			Query()
		var res sql.Result
		return tx.Exec(ctx, q, args, &res)
	})
}

func (r *stockRepository) Set(ctx context.Context, companyID, productID string, qty decimal.Decimal) (*entity.StockBalance, error) {
	now := time.Now().UTC()
	q, args := r.db.builder().Insert(tableStock).
		Columns(stockColumns...).
		Values(companyID, productID, qty, now).
		OnConflict(
			entsql.ConflictColumns("company_id", "product_id"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("repo.stock.set_failed", "company_id", companyID, "product_id", productID, "error", err)
		return nil, err
	}
	return r.Get(ctx, companyID, productID)
}

func (r *stockRepository) List(ctx context.Context, companyID string) ([]*entity.StockBalance, error) {
	return r.list(ctx, entsql.EQ("company_id", companyID))
}

func (r *stockRepository) list(ctx context.Context, where *entsql.Predicate) ([]*entity.StockBalance, error) {
	b := r.db.builder()
	q, args := b.Select(stockColumns...).
		From(b.Table(tableStock)).
		Where(where).
		OrderBy("product_id").
		Query()

	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.StockBalance
	for rows.Next() {
		var s entity.StockBalance
		if err := rows.Scan(&s.CompanyID, &s.ProductID, &s.AvailableQuantity, &s.LastUpdated); err != nil {
			return nil, err
		}
		s.LastUpdated = s.LastUpdated.UTC()
		out = append(out, &s)
	}
	return out, rows.Err()
}
