package llm

import (
	"strings"
)

var fieldRules = []string{
	"Return ONLY one JSON object. No prose, no markdown fences, no comments.",
	"Use exactly these keys: date, product, quantity, truckNumber, invoiceNumber.",
	"date: the invoice date as printed; prefer YYYY-MM-DD when unambiguous.",
	"product: the product or material name exactly as printed.",
	"quantity: the dispatched quantity as a plain number without units.",
	"truckNumber: the vehicle registration number.",
	"invoiceNumber: the invoice number exactly as printed (for example 45/24).",
	"If the invoice has several dispatch lines, add an 'entries' array with one object per line using the same keys; repeat header values only when a line differs.",
	"Omit any key you cannot read. Never output null.",
}

// BuildImageInstruction is the template used when a rendered page image is attached.
func BuildImageInstruction() string {
	parts := []string{"You are reading a dispatch invoice. An image of its first page is attached."}
	parts = append(parts, fieldRules...)
	return strings.Join(parts, " ")
}

// BuildDocumentInstruction is the template for the fallback path, where the raw
// document is attached because it could not be rendered.
func BuildDocumentInstruction() string {
	parts := []string{
		"You are reading a dispatch invoice. The original PDF document itself is attached, not an image of it.",
		"Read the first page that contains invoice details.",
	}
	parts = append(parts, fieldRules...)
	return strings.Join(parts, " ")
}

// NewImageRequest builds the primary request around an encoded page.
func NewImageRequest(data []byte, mimeType string, maxTokens int) ExtractRequest {
	return ExtractRequest{
		Attachment:  Attachment{Kind: AttachImage, MIMEType: mimeType, Data: data},
		Instruction: BuildImageInstruction(),
		MaxTokens:   maxTokens,
		JSONOnly:    true,
	}
}

// NewDocumentRequest builds the fallback request around the original document bytes.
func NewDocumentRequest(data []byte, mimeType, filename string, maxTokens int) ExtractRequest {
	if filename == "" {
		filename = "invoice.pdf"
	}
	return ExtractRequest{
		Attachment:  Attachment{Kind: AttachDocument, MIMEType: mimeType, Filename: filename, Data: data},
		Instruction: BuildDocumentInstruction(),
		MaxTokens:   maxTokens,
		JSONOnly:    true,
	}
}
