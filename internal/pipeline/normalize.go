package pipeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
)

// Day-first for numeric layouts; ISO is tried first.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/06",
	"02-01-06",
	"2 Jan 2006",
	"02 Jan 2006",
	"2-Jan-2006",
	"02-Jan-2006",
	"2-Jan-06",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate reads a model-supplied date as a UTC calendar day. Unparseable text yields false.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// NormalizeDate parses s and shifts it by offsetDays. The shift compensates a one-day
// display lag seen with model-extracted dates; offset 0 disables it.
func NormalizeDate(s string, offsetDays int) *time.Time {
	t, ok := ParseDate(s)
	if !ok {
		return nil
	}
	t = t.AddDate(0, 0, offsetDays)
	return &t
}

// MatchProduct resolves free text against the catalog by case-insensitive containment
// in either direction on technical or common name. Catalog order decides ties.
func MatchProduct(query string, catalog []entity.Product) *entity.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	for i := range catalog {
		for _, name := range []string{catalog[i].TechnicalName, catalog[i].CommonName} {
			n := strings.ToLower(strings.TrimSpace(name))
			if n == "" {
				continue
			}
			if strings.Contains(n, q) || strings.Contains(q, n) {
				p := catalog[i]
				return &p
			}
		}
	}
	return nil
}

func findProduct(id string, catalog []entity.Product) *entity.Product {
	for i := range catalog {
		if catalog[i].ID == id {
			p := catalog[i]
			return &p
		}
	}
	return nil
}

// A plain or comma-grouped number, optionally followed by one unit word.
var quantityPattern = regexp.MustCompile(`^([+-]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)(?:\s*[A-Za-z][A-Za-z.]*)?$`)

// NormalizeQuantity strips thousands separators and a trailing unit ("1,200.5 MT" -> "1200.5").
// Anything else ("1,5", "1.200,50", "12/24", "1e3") is returned trimmed and unchanged so
// validation rejects it where the user can correct it.
func NormalizeQuantity(s string) string {
	s = strings.TrimSpace(s)
	m := quantityPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return strings.ReplaceAll(m[1], ",", "")
}

func draftFor(line llm.InvoiceLine, catalog []entity.Product, offsetDays int) Draft {
	return Draft{
		Date:          NormalizeDate(line.Date, offsetDays),
		RawDate:       line.Date,
		ProductQuery:  line.Product,
		Product:       MatchProduct(line.Product, catalog),
		Quantity:      NormalizeQuantity(line.Quantity),
		TruckNumber:   strings.TrimSpace(line.TruckNumber),
		InvoiceNumber: strings.TrimSpace(line.InvoiceNumber),
	}
}
