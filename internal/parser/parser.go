// Package parser recovers an ExtractedInvoice from free-form model output.
//
// The candidate object is the span from the first '{' to the last '}' in the text.
// That tolerates prose or fences around a single object but is fooled by text that
// contains several objects or stray braces; such input fails to decode and is reported
// as a PARSE_ERROR rather than guessed at.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
)

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return llm.CompileSchema(llm.BuildInvoiceJSONSchema())
})

// Parse is pure: the same input always yields the same result.
func Parse(raw string) (llm.ExtractedInvoice, error) {
	candidate, ok := Locate(raw)
	if !ok {
		return llm.ExtractedInvoice{}, common.ParseError("model output contains no JSON object", nil)
	}

	doc, err := decode(candidate)
	if err != nil {
		return llm.ExtractedInvoice{}, common.ParseError("model output is not a valid JSON object", err)
	}

	canonicalize(doc)

	schema, err := compiled()
	if err != nil {
		return llm.ExtractedInvoice{}, common.NewAppError(common.CodeInternal, "invoice schema does not compile", err)
	}
	if err := schema.Validate(doc); err != nil {
		// drop offending known keys and try once more
		sanitize(doc)
		if vErr := schema.Validate(doc); vErr != nil {
			return llm.ExtractedInvoice{}, common.ParseError("model output does not match the invoice shape", vErr)
		}
	}

	inv := toInvoice(doc)
	if inv.Empty() {
		return llm.ExtractedInvoice{}, common.ParseError("model output has no invoice fields", nil)
	}
	return inv, nil
}

// Locate returns the text between the first '{' and the last '}' inclusive.
func Locate(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

func decode(candidate string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after object")
	}
	if doc == nil {
		return nil, fmt.Errorf("null object")
	}
	return doc, nil
}

// String renders a parsed invoice back to compact JSON, mainly for logs.
func String(inv llm.ExtractedInvoice) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(inv)
	return strings.TrimSpace(buf.String())
}
