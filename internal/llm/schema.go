package llm

// Canonical keys of the extraction object.
const (
	KeyDate          = "date"
	KeyProduct       = "product"
	KeyQuantity      = "quantity"
	KeyTruckNumber   = "truckNumber"
	KeyInvoiceNumber = "invoiceNumber"
	KeyEntries       = "entries"
)

// ScalarKeys are the per-line keys; all are optional.
var ScalarKeys = []string{KeyDate, KeyProduct, KeyQuantity, KeyTruckNumber, KeyInvoiceNumber}

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// Nothing is required and unknown keys are allowed; only the types of known keys are checked.
func BuildInvoiceJSONSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": withEntries(lineProps()),
	}
}

func lineProps() map[string]any {
	props := make(map[string]any, len(ScalarKeys)+1)
	for _, k := range ScalarKeys {
		props[k] = scalarProp()
	}
	return props
}

func withEntries(props map[string]any) map[string]any {
	props[KeyEntries] = map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":       "object",
			"properties": lineProps(),
		},
	}
	return props
}

func scalarProp() map[string]any {
	return map[string]any{"type": []string{"string", "number"}}
}
