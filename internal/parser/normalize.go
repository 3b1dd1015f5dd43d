package parser

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
)

// synonyms maps lowercased, separator-free key spellings to canonical keys.
var synonyms = map[string]string{
	"date":          llm.KeyDate,
	"invoicedate":   llm.KeyDate,
	"dispatchdate":  llm.KeyDate,
	"product":       llm.KeyProduct,
	"productname":   llm.KeyProduct,
	"material":      llm.KeyProduct,
	"item":          llm.KeyProduct,
	"quantity":      llm.KeyQuantity,
	"qty":           llm.KeyQuantity,
	"truck":         llm.KeyTruckNumber,
	"trucknumber":   llm.KeyTruckNumber,
	"truckno":       llm.KeyTruckNumber,
	"vehiclenumber": llm.KeyTruckNumber,
	"vehicleno":     llm.KeyTruckNumber,
	"invoicenumber": llm.KeyInvoiceNumber,
	"invoiceno":     llm.KeyInvoiceNumber,
	"invoice":       llm.KeyInvoiceNumber,
	"entries":       llm.KeyEntries,
	"lines":         llm.KeyEntries,
	"items":         llm.KeyEntries,
}

func canonicalKey(k string) (string, bool) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(k))
	c, ok := synonyms[norm]
	return c, ok
}

// canonicalize renames known spellings in place. An existing canonical key wins over a synonym.
func canonicalize(m map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		c, ok := canonicalKey(k)
		if !ok || c == k {
			continue
		}
		if _, exists := m[c]; !exists {
			m[c] = v
		}
		delete(m, k)
	}
	if entries, ok := m[llm.KeyEntries].([]any); ok {
		for _, e := range entries {
			if em, ok := e.(map[string]any); ok {
				canonicalize(em)
				delete(em, llm.KeyEntries)
			}
		}
	}
}

// sanitize removes known keys that are null or of the wrong type. Unknown keys are left alone.
func sanitize(m map[string]any) {
	for _, k := range llm.ScalarKeys {
		if !isScalar(m[k]) {
			delete(m, k)
		}
	}
	raw, present := m[llm.KeyEntries]
	if !present {
		return
	}
	entries, ok := raw.([]any)
	if !ok {
		delete(m, llm.KeyEntries)
		return
	}
	kept := make([]any, 0, len(entries))
	for _, e := range entries {
		em, ok := e.(map[string]any)
		if !ok {
			continue
		}
		sanitize(em)
		kept = append(kept, em)
	}
	m[llm.KeyEntries] = kept
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, json.Number:
		return true
	}
	return false
}

func toInvoice(m map[string]any) llm.ExtractedInvoice {
	inv := llm.ExtractedInvoice{InvoiceLine: toLine(m)}
	if entries, ok := m[llm.KeyEntries].([]any); ok {
		for _, e := range entries {
			em, ok := e.(map[string]any)
			if !ok {
				continue
			}
			line := toLine(em)
			if line == (llm.InvoiceLine{}) {
				continue
			}
			inv.Entries = append(inv.Entries, line)
		}
	}
	return inv
}

func toLine(m map[string]any) llm.InvoiceLine {
	return llm.InvoiceLine{
		Date:          text(m[llm.KeyDate]),
		Product:       text(m[llm.KeyProduct]),
		Quantity:      text(m[llm.KeyQuantity]),
		TruckNumber:   text(m[llm.KeyTruckNumber]),
		InvoiceNumber: text(m[llm.KeyInvoiceNumber]),
	}
}

// text keeps numbers exactly as written by the model; no rounding or reformatting.
func text(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return ""
		}
		return s
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
