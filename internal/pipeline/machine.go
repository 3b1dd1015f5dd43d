package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
)

const (
	msgUploadImage    = "The invoice could not be read automatically. Upload a clear image of the invoice or enter the entry manually."
	msgParseFailed    = "The model did not return usable invoice fields. Try again or upload a clearer image."
	msgExtractFailed  = "The extraction service failed. Upload an image of the invoice instead or retry later."
	msgDuplicateFound = "A dispatch with the same or a later invoice number already exists for this product on this date."
)

type Config struct {
	// DateOffsetDays is added to every model-extracted date.
	DateOffsetDays int
	MaxTokens      int
	Raster         raster.Options
}

// Machine holds the fixed parameters of the transition function.
type Machine struct {
	cfg Config
}

func NewMachine(cfg Config) Machine {
	return Machine{cfg: cfg}
}

func errSessionBusy(s State) error {
	return common.NewAppError(common.CodeSessionBusy, fmt.Sprintf("session is %s", strings.ToLower(string(s))), common.ErrSessionBusy)
}

func errInvalid(s State, ev Event) error {
	return common.NewAppError(common.CodeInvalidTransition,
		fmt.Sprintf("%s not allowed in %s", ev.eventName(), strings.ToLower(string(s))), common.ErrTransition)
}

func failure(err error, message string) *Failure {
	f := &Failure{Code: common.KindOf(err), Message: message}
	if f.Code == "" {
		f.Code = common.CodeInternal
	}
	var ae *common.AppError
	if errors.As(err, &ae) {
		f.Status = ae.Status
	}
	return f
}

// Transition computes the next session and the effects to run. It never mutates s.
// A non-nil error means the event was refused and s is returned unchanged.
func (m Machine) Transition(s Session, ev Event) (Session, []Effect, error) {
	if s.State == "" {
		s.State = StateIdle
	}

	switch e := ev.(type) {
	case Uploaded:
		if s.State.Busy() {
			return s, nil, errSessionBusy(s.State)
		}
		next := Session{
			ID:        e.SessionID,
			CompanyID: e.CompanyID,
			State:     StateRasterizing,
			Document:  e.Document,
			Catalog:   e.Catalog,
		}
		return next, []Effect{RasterizeDocument{Document: e.Document, Options: m.cfg.Raster}}, nil

	case Cancelled:
		switch s.State {
		case StateIdle:
			return s, nil, nil
		case StateAwaitingConfirmation, StateFailed, StateSaved:
			return Session{State: StateIdle, CompanyID: s.CompanyID}, []Effect{DiscardSession{}}, nil
		}
		return s, nil, errSessionBusy(s.State)
	}

	switch s.State {
	case StateRasterizing:
		return m.onRasterizing(s, ev)
	case StateExtracting:
		return m.onExtracting(s, ev)
	case StateParsed:
		return m.onParsed(s, ev)
	case StateAwaitingConfirmation:
		return m.onAwaiting(s, ev)
	case StateSaving:
		return m.onSaving(s, ev)
	}
	return s, nil, errInvalid(s.State, ev)
}

func (m Machine) onRasterizing(s Session, ev Event) (Session, []Effect, error) {
	switch e := ev.(type) {
	case Rasterized:
		if e.Image == nil {
			return m.onRasterizing(s, RasterizeFailed{Err: common.RasterizationError("renderer returned no image", nil)})
		}
		s.State = StateExtracting
		s.Image = e.Image
		s.Source = e.Image.Source
		if s.Source == "" {
			s.Source = constants.SourceRaster
		}
		req := llm.NewImageRequest(e.Image.Data, e.Image.MIMEType, m.cfg.MaxTokens)
		return s, []Effect{CallModel{Request: req, Source: s.Source}}, nil

	case RasterizeFailed:
		// fall back to sending the original bytes with the document instruction
		s.State = StateExtracting
		s.Source = constants.SourceRawDocument
		s.FromFallback = true
		s.Error = failure(e.Err, msgUploadImage)
		req := llm.NewDocumentRequest(s.Document.Data, s.Document.MIMEType, s.Document.Filename, m.cfg.MaxTokens)
		return s, []Effect{CallModel{Request: req, Source: s.Source}}, nil
	}
	return s, nil, errInvalid(s.State, ev)
}

func (m Machine) onExtracting(s Session, ev Event) (Session, []Effect, error) {
	switch e := ev.(type) {
	case Extracted:
		s.State = StateParsed
		s.RawResponse = e.Raw
		s.Error = nil
		return s, []Effect{ParseResponse{Raw: e.Raw}}, nil

	case ExtractFailed:
		msg := msgExtractFailed
		if s.FromFallback {
			msg = msgUploadImage
		}
		s.State = StateFailed
		s.Error = failure(e.Err, msg)
		return s, nil, nil
	}
	return s, nil, errInvalid(s.State, ev)
}

func (m Machine) onParsed(s Session, ev Event) (Session, []Effect, error) {
	switch e := ev.(type) {
	case ParseSucceeded:
		lines := e.Invoice.Lines()
		s.State = StateAwaitingConfirmation
		s.Invoice = e.Invoice
		s.Lines = lines
		s.Saved = make([]bool, len(lines))
		s.Current = 0
		s.Draft = draftFor(lines[0], s.Catalog, m.cfg.DateOffsetDays)
		s.Error = nil
		return s, nil, nil

	case ParseFailed:
		s.State = StateFailed
		s.Error = failure(e.Err, msgParseFailed)
		return s, nil, nil
	}
	return s, nil, errInvalid(s.State, ev)
}

func (m Machine) onAwaiting(s Session, ev Event) (Session, []Effect, error) {
	switch e := ev.(type) {
	case EntrySelected:
		if e.Index < 0 || e.Index >= len(s.Lines) {
			return s, nil, common.ValidationFailed(fmt.Sprintf("entry index %d out of range 0..%d", e.Index, len(s.Lines)-1))
		}
		if s.Saved[e.Index] {
			return s, nil, common.ValidationFailed(fmt.Sprintf("entry %d is already saved", e.Index))
		}
		s.Current = e.Index
		s.Draft = draftFor(s.Lines[e.Index], s.Catalog, m.cfg.DateOffsetDays)
		s.Duplicates, s.Error = nil, nil
		return s, nil, nil

	case DraftUpdated:
		d, err := applyPatch(s.Draft, e.Patch, s.Catalog)
		if err != nil {
			return s, nil, err
		}
		s.Draft = d
		s.Duplicates, s.Error = nil, nil
		return s, nil, nil

	case Confirmed:
		entry, err := m.entryFromDraft(s)
		if err != nil {
			return s, nil, err
		}
		s.State = StateSaving
		s.Error = nil
		return s, []Effect{SaveEntry{Entry: entry, AllowDuplicate: e.AllowDuplicate}}, nil
	}
	return s, nil, errInvalid(s.State, ev)
}

func (m Machine) onSaving(s Session, ev Event) (Session, []Effect, error) {
	switch e := ev.(type) {
	case Confirmed:
		return s, nil, common.NewAppError(common.CodeSaveInProgress, "a save is already in progress", common.ErrSaveInProgress)

	case SaveSucceeded:
		saved := append([]bool(nil), s.Saved...)
		saved[s.Current] = true
		s.Saved = saved
		s.Result = e.Result
		s.Duplicates, s.Error = nil, nil

		if s.remaining() == 0 {
			s.State = StateSaved
			return s, []Effect{DiscardSession{}}, nil
		}
		for i, done := range saved {
			if !done {
				s.Current = i
				break
			}
		}
		s.State = StateAwaitingConfirmation
		s.Draft = draftFor(s.Lines[s.Current], s.Catalog, m.cfg.DateOffsetDays)
		return s, nil, nil

	case DuplicateDetected:
		s.State = StateAwaitingConfirmation
		s.Duplicates = e.Duplicates
		s.Error = &Failure{Code: common.CodeReconciliationWarning, Message: msgDuplicateFound}
		return s, nil, nil

	case SaveFailed:
		s.State = StateAwaitingConfirmation
		s.Error = failure(e.Err, userMessage(e.Err))
		return s, nil, nil
	}
	return s, nil, errInvalid(s.State, ev)
}

func userMessage(err error) string {
	var ae *common.AppError
	if errors.As(err, &ae) && ae.Code == common.CodeValidation {
		return ae.Message
	}
	return "The entry could not be saved. Check the fields and try again."
}

func applyPatch(d Draft, p DraftPatch, catalog []entity.Product) (Draft, error) {
	if p.Date != nil {
		raw := strings.TrimSpace(*p.Date)
		if raw == "" {
			d.Date = nil
		} else {
			t, ok := ParseDate(raw)
			if !ok {
				return d, common.ValidationFailed(fmt.Sprintf("date %q is not a recognized date", raw))
			}
			d.Date = &t
		}
		d.RawDate = raw
	}
	if p.ProductID != nil {
		id := strings.TrimSpace(*p.ProductID)
		if id == "" {
			d.Product = nil
		} else {
			prod := findProduct(id, catalog)
			if prod == nil {
				return d, common.ValidationFailed(fmt.Sprintf("product %q is not in the catalog", id))
			}
			d.Product = prod
		}
	}
	if p.Quantity != nil {
		d.Quantity = NormalizeQuantity(*p.Quantity)
	}
	if p.TruckNumber != nil {
		d.TruckNumber = strings.TrimSpace(*p.TruckNumber)
	}
	if p.InvoiceNumber != nil {
		d.InvoiceNumber = strings.TrimSpace(*p.InvoiceNumber)
	}
	return d, nil
}

func (m Machine) entryFromDraft(s Session) (entity.DispatchEntry, error) {
	d := s.Draft
	v := common.NewValidator().
		Field("date", d.Date, common.Required).
		Field("invoice_number", d.InvoiceNumber, common.Required)
	if d.Product == nil {
		v.Field("product", "", common.Required)
	}
	qty, err := decimal.NewFromString(d.Quantity)
	if err != nil {
		v.Field("quantity", d.Quantity, func(field string, value interface{}) *common.ValidationError {
			return &common.ValidationError{Field: field, Value: value, Message: "must be a number"}
		})
	} else {
		v.Field("quantity", qty, common.Positive)
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return entity.DispatchEntry{}, err
	}
	return entity.DispatchEntry{
		CompanyID:     s.CompanyID,
		Date:          *d.Date,
		Product:       *d.Product,
		Quantity:      qty,
		TruckNumber:   d.TruckNumber,
		InvoiceNumber: d.InvoiceNumber,
		FromFallback:  s.FromFallback,
	}, nil
}
