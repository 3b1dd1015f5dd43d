// Package pipeline drives one invoice upload from document to confirmed dispatch entry.
//
// Machine is a pure transition function over Session values: it never performs I/O and
// returns the effects the caller must run. Pipeline is the adapter that runs those
// effects (rendering, the model call, parsing, the save) and feeds their outcomes back
// as events, keeping one session per company.
package pipeline

import (
	"time"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
	"github.com/joseph-ayodele/invoice-dispatch/internal/reconcile"
)

type State string

const (
	StateIdle                 State = "IDLE"
	StateRasterizing          State = "RASTERIZING"
	StateExtracting           State = "EXTRACTING"
	StateParsed               State = "PARSED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateSaving               State = "SAVING"
	StateSaved                State = "SAVED"
	StateFailed               State = "FAILED"
)

// Busy reports whether work is in flight; new uploads and cancels are refused.
func (s State) Busy() bool {
	switch s {
	case StateRasterizing, StateExtracting, StateParsed, StateSaving:
		return true
	}
	return false
}

// Document is the uploaded file as received.
type Document struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Draft is the editable, normalized view of the current entry.
type Draft struct {
	Date          *time.Time      `json:"date,omitempty"`
	RawDate       string          `json:"raw_date,omitempty"`
	ProductQuery  string          `json:"product_query,omitempty"`
	Product       *entity.Product `json:"product,omitempty"`
	Quantity      string          `json:"quantity,omitempty"`
	TruckNumber   string          `json:"truck_number,omitempty"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
}

// Failure is a taxonomy error as shown to the user.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Session is the in-memory state of one upload.
type Session struct {
	ID        string
	CompanyID string
	State     State

	Document Document
	Image    *raster.Image
	Source   constants.ExtractionSource
	// FromFallback marks results extracted from the raw document after rendering failed.
	FromFallback bool
	RawResponse  string

	Catalog []entity.Product
	Invoice llm.ExtractedInvoice
	Lines   []llm.InvoiceLine
	Current int
	Saved   []bool
	Draft   Draft

	Duplicates []*entity.DispatchEntry
	Error      *Failure
	Result     *reconcile.SaveResult
}

func (s Session) remaining() int {
	n := 0
	for _, done := range s.Saved {
		if !done {
			n++
		}
	}
	return n
}

// Snapshot is the read-only view of a session handed to callers.
type Snapshot struct {
	SessionID    string                     `json:"session_id,omitempty"`
	CompanyID    string                     `json:"company_id"`
	State        State                      `json:"state"`
	Source       constants.ExtractionSource `json:"source,omitempty"`
	FromFallback bool                       `json:"from_fallback"`
	Entries      []llm.InvoiceLine          `json:"entries,omitempty"`
	Current      int                        `json:"current"`
	Saved        []bool                     `json:"saved,omitempty"`
	Remaining    int                        `json:"remaining"`
	Draft        *Draft                     `json:"draft,omitempty"`
	Duplicates   []*entity.DispatchEntry    `json:"duplicates,omitempty"`
	Error        *Failure                   `json:"error,omitempty"`
	Result       *reconcile.SaveResult      `json:"result,omitempty"`
	RawResponse  string                     `json:"raw_response,omitempty"`
}

func (s Session) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:    s.ID,
		CompanyID:    s.CompanyID,
		State:        s.State,
		Source:       s.Source,
		FromFallback: s.FromFallback,
		Entries:      s.Lines,
		Current:      s.Current,
		Saved:        append([]bool(nil), s.Saved...),
		Remaining:    s.remaining(),
		Duplicates:   s.Duplicates,
		Error:        s.Error,
		Result:       s.Result,
		RawResponse:  s.RawResponse,
	}
	if s.State == "" {
		snap.State = StateIdle
	}
	if len(s.Lines) > 0 {
		d := s.Draft
		snap.Draft = &d
	}
	return snap
}
