package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-dispatch/internal/async"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/export"
)

// dateRange reads optional from/to query parameters (YYYY-MM-DD, inclusive).
func dateRange(r *http.Request) (*time.Time, *time.Time, error) {
	parse := func(key string) (*time.Time, error) {
		v := strings.TrimSpace(r.URL.Query().Get(key))
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, common.ValidationFailed(fmt.Sprintf("%s must be YYYY-MM-DD", key))
		}
		return &t, nil
	}
	from, err := parse("from")
	if err != nil {
		return nil, nil, err
	}
	to, err := parse("to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Products.List(r.Context(), companyID(r))
	if err != nil {
		s.writeError(w, r, common.PersistenceError("list products", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": list})
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lo, hi := export.Window(from, to, time.Now().UTC())
	list, err := s.deps.Dispatches.ListRange(r.Context(), companyID(r), lo, hi)
	if err != nil {
		s.writeError(w, r, common.PersistenceError("list dispatches", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatches": list})
}

func (s *Server) handleListStock(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Stock.List(r.Context(), companyID(r))
	if err != nil {
		s.writeError(w, r, common.PersistenceError("list stock", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": list})
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	bal, err := s.deps.Stock.Get(r.Context(), companyID(r), chi.URLParam(r, "productID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Counters.Get(r.Context(), companyID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type recomputeRequest struct {
	Opening decimal.Decimal `json:"opening"`
}

// handleRecompute queues a rebuild of one balance from the dispatch log.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job := async.Job{
		CompanyID: companyID(r),
		ProductID: chi.URLParam(r, "productID"),
		Opening:   req.Opening,
		RequestID: common.RequestIDFromContext(r.Context()),
	}
	id, err := s.deps.Jobs.Enqueue(r.Context(), job)
	if err != nil {
		s.writeError(w, r, common.NewAppError(common.CodeInternal, "recompute could not be queued", err))
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+id.String())
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, common.ValidationFailed("job id must be a UUID"))
		return
	}
	st, ok := s.deps.Jobs.Status(id)
	if !ok {
		s.writeError(w, r, common.NewAppError(common.CodeNotFound, "job not found", common.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cid := companyID(r)
	data, err := s.deps.Export.DispatchWorkbookXLSX(r.Context(), cid, from, to)
	if err != nil {
		s.writeError(w, r, common.PersistenceError("export dispatches", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="dispatches-%s.xlsx"`, cid))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
