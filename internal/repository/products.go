package repository

import (
	"context"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
)

const tableProducts = "products"

// ProductRepository reads the master-data catalog. Import exists for seeding only.
type ProductRepository interface {
	List(ctx context.Context, companyID string) ([]entity.Product, error)
	Import(ctx context.Context, companyID string, products []entity.Product) error
}

type productRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewProductRepository(db *DB, logger *slog.Logger) ProductRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &productRepository{db: db, logger: logger}
}

// List returns the catalog in its configured order; order matters for first-match resolution.
func (r *productRepository) List(ctx context.Context, companyID string) ([]entity.Product, error) {
	b := r.db.builder()
	q, args := b.Select("id", "technical_name", "common_name").
		From(b.Table(tableProducts)).
		Where(entsql.EQ("company_id", companyID)).
		OrderBy("position", "id").
		Query()

	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		r.logger.Error("repo.products.list_failed", "company_id", companyID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.Product
	for rows.Next() {
		var p entity.Product
		if err := rows.Scan(&p.ID, &p.TechnicalName, &p.CommonName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *productRepository) Import(ctx context.Context, companyID string, products []entity.Product) error {
	if len(products) == 0 {
		return nil
	}
	ins := r.db.builder().Insert(tableProducts).
		Columns("company_id", "id", "technical_name", "common_name", "position")
	for i, p := range products {
		ins.Values(companyID, p.ID, p.TechnicalName, p.CommonName, i)
	}
	q, args := ins.OnConflict(
		entsql.ConflictColumns("company_id", "id"),
		entsql.ResolveWithNewValues(),
	).Query()
	if err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("repo.products.import_failed", "company_id", companyID, "error", err)
		return err
	}
	r.logger.Info("repo.products.import_ok", "company_id", companyID, "count", len(products))
	return nil
}
