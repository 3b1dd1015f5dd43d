package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
	"github.com/joseph-ayodele/invoice-dispatch/internal/raster"
	"github.com/joseph-ayodele/invoice-dispatch/internal/reconcile"
)

var catalog = []entity.Product{
	{ID: "p-coal", TechnicalName: "Steam Coal G9", CommonName: "Coal"},
	{ID: "p-ore", TechnicalName: "Fe 62% Fines", CommonName: "Iron Ore"},
	{ID: "p-ore-lump", TechnicalName: "Fe 64% Lumps", CommonName: "Iron Ore Lumps"},
}

func testMachine() Machine {
	return NewMachine(Config{DateOffsetDays: 1, MaxTokens: 512, Raster: raster.Options{Page: 1, Scale: 1.5}})
}

func step(t *testing.T, m Machine, s Session, ev Event) (Session, []Effect) {
	t.Helper()
	next, effects, err := m.Transition(s, ev)
	require.NoError(t, err)
	return next, effects
}

func awaiting(t *testing.T, m Machine, inv llm.ExtractedInvoice) Session {
	t.Helper()
	s, _ := step(t, m, Session{}, Uploaded{SessionID: "s1", CompanyID: "acme", Document: Document{Data: []byte("%PDF-1.7"), MIMEType: constants.MIMEPDF}, Catalog: catalog})
	s, _ = step(t, m, s, Rasterized{Image: &raster.Image{Data: []byte{1}, MIMEType: constants.MIMEJPEG, Source: constants.SourceRaster}})
	s, _ = step(t, m, s, Extracted{Raw: "{}"})
	s, _ = step(t, m, s, ParseSucceeded{Invoice: inv})
	require.Equal(t, StateAwaitingConfirmation, s.State)
	return s
}

func TestHappyPathEffects(t *testing.T) {
	m := testMachine()
	doc := Document{Data: []byte("%PDF-1.7"), MIMEType: constants.MIMEPDF, Filename: "inv.pdf"}

	s, effects := step(t, m, Session{}, Uploaded{SessionID: "s1", CompanyID: "acme", Document: doc, Catalog: catalog})
	assert.Equal(t, StateRasterizing, s.State)
	require.Len(t, effects, 1)
	assert.Equal(t, 1.5, effects[0].(RasterizeDocument).Options.Scale)

	s, effects = step(t, m, s, Rasterized{Image: &raster.Image{Data: []byte{1}, MIMEType: constants.MIMEJPEG, Source: constants.SourceRaster}})
	assert.Equal(t, StateExtracting, s.State)
	call := effects[0].(CallModel)
	assert.Equal(t, llm.AttachImage, call.Request.Attachment.Kind)
	assert.Equal(t, 512, call.Request.MaxTokens)
	assert.False(t, s.FromFallback)

	s, effects = step(t, m, s, Extracted{Raw: `{"product":"iron ore"}`})
	assert.Equal(t, StateParsed, s.State)
	assert.Equal(t, ParseResponse{Raw: `{"product":"iron ore"}`}, effects[0])

	s, effects = step(t, m, s, ParseSucceeded{Invoice: llm.ExtractedInvoice{InvoiceLine: llm.InvoiceLine{
		Date: "2024-03-01", Product: "Iron Ore", Quantity: "12", TruckNumber: "MH12AB1234", InvoiceNumber: "45/24",
	}}})
	assert.Empty(t, effects)
	assert.Equal(t, StateAwaitingConfirmation, s.State)
	require.NotNil(t, s.Draft.Product)
	assert.Equal(t, "p-ore", s.Draft.Product.ID)
	require.NotNil(t, s.Draft.Date)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), *s.Draft.Date)

	s, effects = step(t, m, s, Confirmed{})
	assert.Equal(t, StateSaving, s.State)
	save := effects[0].(SaveEntry)
	assert.Equal(t, "acme", save.Entry.CompanyID)
	assert.Equal(t, "12", save.Entry.Quantity.String())
	assert.False(t, save.AllowDuplicate)

	s, effects = step(t, m, s, SaveSucceeded{Result: &reconcile.SaveResult{}})
	assert.Equal(t, StateSaved, s.State)
	assert.Equal(t, []Effect{DiscardSession{}}, effects)
}

func TestRasterizeFailureFallsBackToRawDocument(t *testing.T) {
	m := testMachine()
	doc := Document{Data: []byte("%PDF-broken"), MIMEType: constants.MIMEPDF, Filename: "inv.pdf"}
	s, _ := step(t, m, Session{}, Uploaded{SessionID: "s1", CompanyID: "acme", Document: doc})

	s, effects := step(t, m, s, RasterizeFailed{Err: common.RasterizationError("corrupt", nil)})
	assert.Equal(t, StateExtracting, s.State)
	assert.True(t, s.FromFallback)
	assert.Equal(t, constants.SourceRawDocument, s.Source)
	call := effects[0].(CallModel)
	assert.Equal(t, llm.AttachDocument, call.Request.Attachment.Kind)
	assert.Equal(t, doc.Data, call.Request.Attachment.Data)
	assert.Equal(t, "inv.pdf", call.Request.Attachment.Filename)
	assert.Contains(t, call.Request.Instruction, "not an image")

	failed, _ := step(t, m, s, ExtractFailed{Err: common.ExtractionError(400, "unsupported", nil)})
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, common.CodeExtraction, failed.Error.Code)
	assert.Equal(t, 400, failed.Error.Status)
	assert.Contains(t, failed.Error.Message, "image")
}

func TestParseFailureGoesToFailedWithoutFallback(t *testing.T) {
	m := testMachine()
	s, _ := step(t, m, Session{}, Uploaded{SessionID: "s1", CompanyID: "acme", Document: Document{Data: []byte("%PDF")}})
	s, _ = step(t, m, s, Rasterized{Image: &raster.Image{Data: []byte{1}}})
	s, _ = step(t, m, s, Extracted{Raw: "sorry"})

	s, effects := step(t, m, s, ParseFailed{Err: common.ParseError("no object", nil)})
	assert.Empty(t, effects)
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, common.CodeParse, s.Error.Code)
	assert.False(t, s.FromFallback)
}

func TestBusyAndSavingGates(t *testing.T) {
	m := testMachine()
	s, _ := step(t, m, Session{}, Uploaded{SessionID: "s1", CompanyID: "acme", Document: Document{Data: []byte("%PDF")}})

	_, _, err := m.Transition(s, Uploaded{SessionID: "s2", CompanyID: "acme"})
	assert.True(t, common.IsKind(err, common.CodeSessionBusy))
	_, _, err = m.Transition(s, Cancelled{})
	assert.True(t, errors.Is(err, common.ErrSessionBusy))

	a := awaiting(t, m, llm.ExtractedInvoice{InvoiceLine: llm.InvoiceLine{Date: "2024-03-01", Product: "coal", Quantity: "5", InvoiceNumber: "1/24"}})
	saving, _ := step(t, m, a, Confirmed{})
	_, effects, err := m.Transition(saving, Confirmed{AllowDuplicate: true})
	assert.Empty(t, effects)
	assert.True(t, common.IsKind(err, common.CodeSaveInProgress))

	_, _, err = m.Transition(a, SaveSucceeded{})
	assert.True(t, common.IsKind(err, common.CodeInvalidTransition))
}

func TestUploadReplacesSettledSession(t *testing.T) {
	m := testMachine()
	a := awaiting(t, m, llm.ExtractedInvoice{InvoiceLine: llm.InvoiceLine{Product: "coal"}})
	s, effects := step(t, m, a, Uploaded{SessionID: "s2", CompanyID: "acme", Document: Document{Data: []byte("%PDF")}})
	assert.Equal(t, "s2", s.ID)
	assert.Equal(t, StateRasterizing, s.State)
	assert.Empty(t, s.Lines)
	assert.Len(t, effects, 1)
}

func TestConfirmValidatesDraft(t *testing.T) {
	m := testMachine()
	a := awaiting(t, m, llm.ExtractedInvoice{InvoiceLine: llm.InvoiceLine{Date: "yesterday", Product: "granite", Quantity: "a lot"}})
	assert.Nil(t, a.Draft.Date)
	assert.Nil(t, a.Draft.Product)

	s, effects, err := m.Transition(a, Confirmed{})
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.CodeValidation))
	assert.Empty(t, effects)
	assert.Equal(t, StateAwaitingConfirmation, s.State)
	for _, field := range []string{"date", "product", "quantity", "invoice_number"} {
		assert.Contains(t, err.Error(), field)
	}

	date, product, qty, inv := "01/03/2024", "p-coal", "7.5 MT", "88/24"
	s, _ = step(t, m, a, DraftUpdated{Patch: DraftPatch{Date: &date, ProductID: &product, Quantity: &qty, InvoiceNumber: &inv}})
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *s.Draft.Date, "user dates are not shifted")
	assert.Equal(t, "7.5", s.Draft.Quantity)

	_, effects = step(t, m, s, Confirmed{})
	require.Len(t, effects, 1)
	assert.Equal(t, "p-coal", effects[0].(SaveEntry).Entry.Product.ID)

	unknown := "p-nope"
	_, _, err = m.Transition(a, DraftUpdated{Patch: DraftPatch{ProductID: &unknown}})
	assert.True(t, common.IsKind(err, common.CodeValidation))
}

func TestMultiEntryNavigation(t *testing.T) {
	m := testMachine()
	inv := llm.ExtractedInvoice{
		InvoiceLine: llm.InvoiceLine{Date: "2024-03-01", TruckNumber: "KA01", InvoiceNumber: "7/24"},
		Entries: []llm.InvoiceLine{
			{Product: "Coal", Quantity: "10"},
			{Product: "lumps", Quantity: "4"},
		},
	}
	s := awaiting(t, m, inv)
	assert.Equal(t, []bool{false, false}, s.Saved)
	assert.Equal(t, "p-coal", s.Draft.Product.ID)

	s1, _ := step(t, m, s, EntrySelected{Index: 1})
	assert.Equal(t, "p-ore-lump", s1.Draft.Product.ID)
	assert.Equal(t, "4", s1.Draft.Quantity)
	assert.Equal(t, "KA01", s1.Draft.TruckNumber)

	_, _, err := m.Transition(s, EntrySelected{Index: 2})
	assert.True(t, common.IsKind(err, common.CodeValidation))

	saving, _ := step(t, m, s, Confirmed{})
	after, effects := step(t, m, saving, SaveSucceeded{Result: &reconcile.SaveResult{}})
	assert.Empty(t, effects)
	assert.Equal(t, StateAwaitingConfirmation, after.State)
	assert.Equal(t, 1, after.Current)
	assert.Equal(t, []bool{true, false}, after.Saved)
	assert.Equal(t, []bool{false, false}, saving.Saved, "transition must not mutate its input")

	_, _, err = m.Transition(after, EntrySelected{Index: 0})
	assert.True(t, common.IsKind(err, common.CodeValidation))

	saving, _ = step(t, m, after, Confirmed{})
	done, effects := step(t, m, saving, SaveSucceeded{Result: &reconcile.SaveResult{}})
	assert.Equal(t, StateSaved, done.State)
	assert.Equal(t, []Effect{DiscardSession{}}, effects)
}

func TestDuplicateAndSaveFailureReturnToConfirmation(t *testing.T) {
	m := testMachine()
	a := awaiting(t, m, llm.ExtractedInvoice{InvoiceLine: llm.InvoiceLine{Date: "2024-03-01", Product: "coal", Quantity: "5", InvoiceNumber: "1/24"}})
	saving, _ := step(t, m, a, Confirmed{})

	dups := []*entity.DispatchEntry{{InvoiceNumber: "3/24"}}
	warned, _ := step(t, m, saving, DuplicateDetected{Duplicates: dups})
	assert.Equal(t, StateAwaitingConfirmation, warned.State)
	assert.Equal(t, common.CodeReconciliationWarning, warned.Error.Code)
	assert.Equal(t, dups, warned.Duplicates)

	_, effects := step(t, m, warned, Confirmed{AllowDuplicate: true})
	assert.True(t, effects[0].(SaveEntry).AllowDuplicate)

	failed, _ := step(t, m, saving, SaveFailed{Err: common.PersistenceError("disk", nil)})
	assert.Equal(t, StateAwaitingConfirmation, failed.State)
	assert.Equal(t, common.CodePersistence, failed.Error.Code)
}

func TestCancel(t *testing.T) {
	m := testMachine()
	a := awaiting(t, m, llm.ExtractedInvoice{InvoiceLine: llm.InvoiceLine{Product: "coal"}})
	s, effects := step(t, m, a, Cancelled{})
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, []Effect{DiscardSession{}}, effects)

	idle, effects := step(t, m, Session{}, Cancelled{})
	assert.Equal(t, StateIdle, idle.State)
	assert.Empty(t, effects)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"01/03/2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"1.3.2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"01-Mar-2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"March 1, 2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-01T23:30:00+05:30", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "soon", "31/02/2024", "2024-13-01"} {
		_, ok := ParseDate(bad)
		assert.False(t, ok, bad)
	}
}

func TestNormalizeDateOffset(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), *NormalizeDate("2024-03-01", 1))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *NormalizeDate("2024-03-01", 0))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *NormalizeDate("2024-02-29", 1))
	assert.Nil(t, NormalizeDate("n/a", 1))
}

func TestMatchProduct(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"IRON ORE", "p-ore"},
		{"Iron Ore Lumps 10-40mm", "p-ore"},
		{"fe 64% lumps", "p-ore-lump"},
		{"steam", "p-coal"},
		{"Supplied: Coal (washed)", "p-coal"},
		{"granite", ""},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := MatchProduct(tt.query, catalog)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestNormalizeQuantity(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"1,200.5 MT", "1200.5"},
		{" 12 ", "12"},
		{"12MT", "12"},
		{"12.75 tons", "12.75"},
		{"1,234,567", "1234567"},
		{"approx", "approx"},
		{"", ""},
		{"1,5", "1,5"},
		{"1.200,50", "1.200,50"},
		{"12/24", "12/24"},
		{"1e3", "1e3"},
		{"12,00", "12,00"},
		{"12 MT approx", "12 MT approx"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeQuantity(tc.in), "input %q", tc.in)
	}
}

func TestMalformedQuantityBlocksConfirm(t *testing.T) {
	m := testMachine()
	a := awaiting(t, m, llm.ExtractedInvoice{InvoiceLine: llm.InvoiceLine{
		Date: "2024-03-01", Product: "coal", Quantity: "1,5", InvoiceNumber: "1/24",
	}})
	assert.Equal(t, "1,5", a.Draft.Quantity)

	_, effects, err := m.Transition(a, Confirmed{})
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.CodeValidation))
	assert.Contains(t, err.Error(), "quantity must be a number")
	assert.Empty(t, effects)
}
