package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/pipeline"
)

func companyID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "companyID"))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return common.NewAppError(common.CodeValidation, "request body is not valid JSON", common.ErrInvalidInput)
	}
	return nil
}

// handleUpload accepts multipart/form-data with the document in the "file" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, common.ValidationFailed("document exceeds the upload limit"))
			return
		}
		s.writeError(w, r, common.ValidationFailed("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, common.ValidationFailed("document could not be read"))
		return
	}

	mt := header.Header.Get("Content-Type")
	if constants.MapMIMEToFormat(mt) == constants.UNKNOWN {
		// browsers often send octet-stream; sniff, then fall back to the extension
		mt = constants.DetectMIME(data)
		if constants.MapMIMEToFormat(mt) == constants.UNKNOWN && constants.MapExtToFormat(extOf(header.Filename)) == constants.PDF {
			mt = constants.MIMEPDF
		}
	}

	snap, err := s.deps.Sessions.Upload(r.Context(), companyID(r), pipeline.Document{
		Data:     data,
		MIMEType: mt,
		Filename: header.Filename,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSnapshot(w, snap)
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.Current(companyID(r)))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Sessions.Cancel(r.Context(), companyID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type selectRequest struct {
	Index *int `json:"index"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Index == nil {
		s.writeError(w, r, common.ValidationFailed("index is required"))
		return
	}
	snap, err := s.deps.Sessions.SelectEntry(r.Context(), companyID(r), *req.Index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var patch pipeline.DraftPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.deps.Sessions.UpdateDraft(r.Context(), companyID(r), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type confirmRequest struct {
	AllowDuplicate bool `json:"allow_duplicate"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.deps.Sessions.Confirm(r.Context(), companyID(r), req.AllowDuplicate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSnapshot(w, snap)
}
