package llm

import "context"

// InvoiceLine is one dispatch line of an invoice. Every field is untrusted model text.
type InvoiceLine struct {
	Date          string `json:"date,omitempty"`
	Product       string `json:"product,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	TruckNumber   string `json:"truckNumber,omitempty"`
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
}

// ExtractedInvoice is the shape we ask the model for. Any field may be missing or malformed.
type ExtractedInvoice struct {
	InvoiceLine
	Entries []InvoiceLine `json:"entries,omitempty"`
}

// Lines returns the dispatch lines to confirm. Header fields fill gaps in each entry;
// an invoice without entries is a single line.
func (inv ExtractedInvoice) Lines() []InvoiceLine {
	if len(inv.Entries) == 0 {
		return []InvoiceLine{inv.InvoiceLine}
	}
	out := make([]InvoiceLine, len(inv.Entries))
	for i, e := range inv.Entries {
		if e.Date == "" {
			e.Date = inv.Date
		}
		if e.Product == "" {
			e.Product = inv.Product
		}
		if e.Quantity == "" {
			e.Quantity = inv.Quantity
		}
		if e.TruckNumber == "" {
			e.TruckNumber = inv.TruckNumber
		}
		if e.InvoiceNumber == "" {
			e.InvoiceNumber = inv.InvoiceNumber
		}
		out[i] = e
	}
	return out
}

// Empty reports whether no field at all was recovered.
func (inv ExtractedInvoice) Empty() bool {
	if inv.InvoiceLine != (InvoiceLine{}) {
		return false
	}
	for _, e := range inv.Entries {
		if e != (InvoiceLine{}) {
			return false
		}
	}
	return true
}

type AttachmentKind string

const (
	AttachImage    AttachmentKind = "image"
	AttachDocument AttachmentKind = "document"
)

// Attachment is the single file sent alongside the instruction.
type Attachment struct {
	Kind     AttachmentKind
	MIMEType string
	Filename string
	Data     []byte
}

// ExtractRequest is built fresh for every attempt and not modified afterwards.
type ExtractRequest struct {
	Attachment  Attachment
	Instruction string
	MaxTokens   int
	// JSONOnly asks providers that support it to constrain output to a JSON object.
	JSONOnly bool
}

// Extractor is the interface our pipeline depends on. Implementations are stateless
// per call and return the model's raw text.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (string, error)
}
