package pipeline

import (
	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
	"github.com/joseph-ayodele/invoice-dispatch/internal/reconcile"
)

// Event is an input to Machine.Transition.
type Event interface {
	eventName() string
}

// Uploaded starts a new session. The catalog is a snapshot taken by the caller.
type Uploaded struct {
	SessionID string
	CompanyID string
	Document  Document
	Catalog   []entity.Product
}

type Rasterized struct{ Image *raster.Image }

type RasterizeFailed struct{ Err error }

type Extracted struct{ Raw string }

type ExtractFailed struct{ Err error }

type ParseSucceeded struct{ Invoice llm.ExtractedInvoice }

type ParseFailed struct{ Err error }

type EntrySelected struct{ Index int }

// DraftUpdated edits the current draft; nil fields are left alone.
type DraftUpdated struct{ Patch DraftPatch }

type DraftPatch struct {
	Date          *string `json:"date,omitempty"`
	ProductID     *string `json:"product_id,omitempty"`
	Quantity      *string `json:"quantity,omitempty"`
	TruckNumber   *string `json:"truck_number,omitempty"`
	InvoiceNumber *string `json:"invoice_number,omitempty"`
}

// Confirmed asks to save the current draft. AllowDuplicate overrides a duplicate warning.
type Confirmed struct{ AllowDuplicate bool }

type SaveSucceeded struct{ Result *reconcile.SaveResult }

type DuplicateDetected struct{ Duplicates []*entity.DispatchEntry }

type SaveFailed struct{ Err error }

type Cancelled struct{}

func (Uploaded) eventName() string          { return "uploaded" }
func (Rasterized) eventName() string        { return "rasterized" }
func (RasterizeFailed) eventName() string   { return "rasterize_failed" }
func (Extracted) eventName() string         { return "extracted" }
func (ExtractFailed) eventName() string     { return "extract_failed" }
func (ParseSucceeded) eventName() string    { return "parse_succeeded" }
func (ParseFailed) eventName() string       { return "parse_failed" }
func (EntrySelected) eventName() string     { return "entry_selected" }
func (DraftUpdated) eventName() string      { return "draft_updated" }
func (Confirmed) eventName() string         { return "confirmed" }
func (SaveSucceeded) eventName() string     { return "save_succeeded" }
func (DuplicateDetected) eventName() string { return "duplicate_detected" }
func (SaveFailed) eventName() string        { return "save_failed" }
func (Cancelled) eventName() string         { return "cancelled" }

// Effect is work the adapter must perform after a transition.
type Effect interface {
	effectName() string
}

type RasterizeDocument struct {
	Document Document
	Options  raster.Options
}

type CallModel struct {
	Request llm.ExtractRequest
	Source  constants.ExtractionSource
}

type ParseResponse struct{ Raw string }

type SaveEntry struct {
	Entry          entity.DispatchEntry
	AllowDuplicate bool
}

// DiscardSession drops the session once its snapshot has been returned.
type DiscardSession struct{}

func (RasterizeDocument) effectName() string { return "rasterize" }
func (CallModel) effectName() string         { return "call_model" }
func (ParseResponse) effectName() string     { return "parse" }
func (SaveEntry) effectName() string         { return "save" }
func (DiscardSession) effectName() string    { return "discard" }
