package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
)

func TestInstructionsDemandFixedJSONFields(t *testing.T) {
	for _, instr := range []string{BuildImageInstruction(), BuildDocumentInstruction()} {
		assert.Contains(t, instr, "ONLY one JSON object")
		for _, k := range ScalarKeys {
			assert.Contains(t, instr, k)
		}
	}
	assert.Contains(t, BuildDocumentInstruction(), "not an image")
	assert.NotContains(t, BuildImageInstruction(), "not an image")
}

func TestRequestBuilders(t *testing.T) {
	img := NewImageRequest([]byte{1, 2}, "image/jpeg", 512)
	assert.Equal(t, AttachImage, img.Attachment.Kind)
	assert.Equal(t, 512, img.MaxTokens)
	assert.True(t, img.JSONOnly)

	doc := NewDocumentRequest([]byte("%PDF-1.7"), "", "", 512)
	assert.Equal(t, AttachDocument, doc.Attachment.Kind)
	assert.Equal(t, "invoice.pdf", doc.Attachment.Filename)
	assert.True(t, IsPDF(doc.Attachment))
	assert.Equal(t, "data:application/pdf;base64,JVBERi0xLjc=", DataURL(AttachmentMIME(doc.Attachment), doc.Attachment.Data))
}

func TestLinesInheritHeader(t *testing.T) {
	inv := ExtractedInvoice{
		InvoiceLine: InvoiceLine{Date: "2024-03-01", TruckNumber: "MH12AB1234", InvoiceNumber: "45/24"},
		Entries: []InvoiceLine{
			{Product: "Iron Ore", Quantity: "12"},
			{Product: "Coal", Quantity: "4", TruckNumber: "MH14ZZ0001"},
		},
	}
	lines := inv.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-03-01", lines[0].Date)
	assert.Equal(t, "MH12AB1234", lines[0].TruckNumber)
	assert.Equal(t, "MH14ZZ0001", lines[1].TruckNumber)
	assert.Equal(t, "45/24", lines[1].InvoiceNumber)

	single := ExtractedInvoice{InvoiceLine: InvoiceLine{Product: "Iron Ore"}}
	assert.Equal(t, []InvoiceLine{{Product: "Iron Ore"}}, single.Lines())
}

func TestEmpty(t *testing.T) {
	assert.True(t, ExtractedInvoice{}.Empty())
	assert.True(t, ExtractedInvoice{Entries: []InvoiceLine{{}}}.Empty())
	assert.False(t, ExtractedInvoice{Entries: []InvoiceLine{{Quantity: "1"}}}.Empty())
}

func TestSchemaAcceptsUnknownKeysRejectsWrongTypes(t *testing.T) {
	schema, err := CompileSchema(BuildInvoiceJSONSchema())
	require.NoError(t, err)

	validate := func(doc string) error {
		dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
		dec.UseNumber()
		var v any
		require.NoError(t, dec.Decode(&v))
		return schema.Validate(v)
	}
	require.NoError(t, validate(`{"product":"Iron Ore","quantity":12,"notes":{"x":1}}`))
	require.NoError(t, validate(`{"entries":[{"quantity":"3"}]}`))
	require.Error(t, validate(`{"quantity":{"value":12}}`))
	require.Error(t, validate(`{"entries":"none"}`))
}

type countingExtractor struct{ calls int }

func (c *countingExtractor) Extract(context.Context, ExtractRequest) (string, error) {
	c.calls++
	return "{}", nil
}

func TestRateLimited(t *testing.T) {
	inner := &countingExtractor{}
	assert.Same(t, Extractor(inner), NewRateLimited(inner, 0, nil))

	limited := NewRateLimited(inner, 60, nil)
	out, err := limited.Extract(context.Background(), ExtractRequest{})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
	assert.Equal(t, 1, inner.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limited.Extract(ctx, ExtractRequest{})
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.CodeExtraction))
	assert.Equal(t, 1, inner.calls)
}
