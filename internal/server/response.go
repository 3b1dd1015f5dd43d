package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/pipeline"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError renders an AppError's code and message. Causes stay in the logs.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := errorDetail{Code: common.CodeInternal, Message: "internal error"}

	var ae *common.AppError
	switch {
	case errors.As(err, &ae):
		detail = errorDetail{Code: ae.Code, Message: ae.Message}
	case errors.Is(err, common.ErrNotFound):
		detail = errorDetail{Code: common.CodeNotFound, Message: "not found"}
	}

	log := s.logger.With(
		"request_id", common.RequestIDFromContext(r.Context()),
		"company_id", common.CompanyIDFromContext(r.Context()),
		"path", r.URL.Path,
	)
	if status >= 500 {
		log.Error("http.error", "error", err)
	} else {
		log.Info("http.rejected", "code", detail.Code)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func statusFor(err error) int {
	if errors.Is(err, common.ErrNotFound) {
		return http.StatusNotFound
	}
	return statusForCode(common.KindOf(err))
}

func statusForCode(code string) int {
	switch code {
	case common.CodeValidation:
		return http.StatusBadRequest
	case common.CodeNotFound:
		return http.StatusNotFound
	case common.CodeSessionBusy, common.CodeSaveInProgress, common.CodeInvalidTransition, common.CodeReconciliationWarning:
		return http.StatusConflict
	case common.CodeRasterization, common.CodeParse:
		return http.StatusUnprocessableEntity
	case common.CodeExtraction:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeSnapshot reports flow outcomes (failure, duplicate warning) through the
// status code while always returning the session view.
func writeSnapshot(w http.ResponseWriter, snap pipeline.Snapshot) {
	status := http.StatusOK
	if snap.Error != nil && (snap.State == pipeline.StateFailed || snap.Error.Code == common.CodeReconciliationWarning) {
		status = statusForCode(snap.Error.Code)
	}
	writeJSON(w, status, snap)
}
