package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-dispatch/internal/async"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/metrics"
	"github.com/joseph-ayodele/invoice-dispatch/internal/repository"
)

// DuplicateWarning pauses a save until the user overrides or cancels.
type DuplicateWarning struct {
	Candidate  entity.DispatchEntry
	Duplicates []*entity.DispatchEntry
}

func (w *DuplicateWarning) Error() string {
	nums := make([]string, 0, len(w.Duplicates))
	for _, d := range w.Duplicates {
		nums = append(nums, d.InvoiceNumber)
	}
	return fmt.Sprintf("%s: invoice %s may duplicate %s",
		common.CodeReconciliationWarning, w.Candidate.InvoiceNumber, strings.Join(nums, ", "))
}

func (w *DuplicateWarning) Unwrap() error {
	return common.NewAppError(common.CodeReconciliationWarning, "possible duplicate", common.ErrDuplicate)
}

// SaveResult reports the committed entry and which follow-ups went through.
type SaveResult struct {
	Entry          *entity.DispatchEntry         `json:"entry"`
	Stock          *entity.StockBalance          `json:"stock,omitempty"`
	Counter        *entity.CompanyInvoiceCounter `json:"counter,omitempty"`
	StockUpdated   bool                          `json:"stock_updated"`
	CounterUpdated bool                          `json:"counter_updated"`
}

var _ async.Handler = (*Service)(nil)

type Service struct {
	dispatches repository.DispatchRepository
	stock      repository.StockRepository
	counters   repository.CounterRepository
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	dispatches repository.DispatchRepository,
	stock repository.StockRepository,
	counters repository.CounterRepository,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{dispatches: dispatches, stock: stock, counters: counters, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

func validate(e *entity.DispatchEntry) error {
	v := common.NewValidator().
		Field("company_id", e.CompanyID, common.Required).
		Field("date", e.Date, common.Required).
		Field("product", e.Product.ID, common.Required).
		Field("quantity", e.Quantity, common.Positive).
		Field("invoice_number", e.InvoiceNumber, common.Required, common.MaxLength(64)).
		Field("truck_number", e.TruckNumber, common.MaxLength(32))
	return common.ValidateAndReturnError(v)
}

// Save validates the candidate, checks it against the entries recorded for its
// date and, unless a duplicate is suspected and not overridden, persists it. The
// stock decrement and counter update run afterwards; their failures are logged
// and never undo the committed entry.
func (s *Service) Save(ctx context.Context, candidate *entity.DispatchEntry, allowDuplicate bool) (*SaveResult, error) {
	if err := validate(candidate); err != nil {
		s.metrics.Save("invalid")
		return nil, err
	}
	log := s.logger.With("company_id", candidate.CompanyID, "invoice_number", candidate.InvoiceNumber)
	if sid := common.SessionIDFromContext(ctx); sid != "" {
		log = log.With("session_id", sid)
	}

	existing, err := s.dispatches.ListByDate(ctx, candidate.CompanyID, candidate.Date)
	if err != nil {
		s.metrics.Save("failed")
		log.Error("reconcile.lookup.failed", "error", err)
		return nil, common.PersistenceError("load existing entries", err)
	}

	decision := Check(candidate, existing)
	if !decision.Proceed {
		if !allowDuplicate {
			s.metrics.Save("duplicate")
			log.Warn("reconcile.duplicate.detected", "matches", len(decision.Duplicates))
			return nil, &DuplicateWarning{Candidate: *candidate, Duplicates: decision.Duplicates}
		}
		log.Info("reconcile.duplicate.overridden", "matches", len(decision.Duplicates))
	}

	saved, err := s.dispatches.Create(ctx, candidate)
	if err != nil {
		s.metrics.Save("failed")
		log.Error("reconcile.entry.persist_failed", "error", err)
		return nil, common.PersistenceError("persist dispatch entry", err)
	}
	s.metrics.Save("saved")
	res := &SaveResult{Entry: saved}

	bal, err := s.stock.Adjust(ctx, saved.CompanyID, saved.Product.ID, saved.Quantity.Neg())
	if err != nil {
		s.metrics.FollowUpFailed("stock")
		log.Error("reconcile.stock.adjust_failed", "product_id", saved.Product.ID, "error", err)
	} else {
		res.Stock, res.StockUpdated = bal, true
	}

	ctr, err := s.counters.SetLastInvoiceNumber(ctx, saved.CompanyID, saved.InvoiceNumber)
	if err != nil {
		s.metrics.FollowUpFailed("counter")
		log.Error("reconcile.counter.update_failed", "error", err)
	} else {
		res.Counter, res.CounterUpdated = ctr, true
	}

	log.Info("reconcile.save.ok", "entry_id", saved.ID, "stock_updated", res.StockUpdated, "counter_updated", res.CounterUpdated)
	return res, nil
}

// RecomputeStock rebuilds a balance from the entry log: opening minus everything dispatched.
func (s *Service) RecomputeStock(ctx context.Context, companyID, productID string, opening decimal.Decimal) (*entity.StockBalance, error) {
	start := time.Now()
	total, err := s.dispatches.SumQuantity(ctx, companyID, productID)
	if err != nil {
		return nil, common.PersistenceError("sum dispatched quantity", err)
	}
	bal, err := s.stock.Set(ctx, companyID, productID, opening.Sub(total))
	if err != nil {
		return nil, common.PersistenceError("set stock balance", err)
	}
	s.logger.Info("reconcile.stock.recomputed",
		"company_id", companyID, "product_id", productID,
		"opening", opening.String(), "dispatched", total.String(),
		"available", bal.AvailableQuantity.String(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return bal, nil
}

// Handle runs a queued recomputation job.
func (s *Service) Handle(ctx context.Context, job async.Job) error {
	_, err := s.RecomputeStock(ctx, job.CompanyID, job.ProductID, job.Opening)
	s.metrics.StockJob(err)
	return err
}
