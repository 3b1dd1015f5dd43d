// Package reconcile guards dispatch saves against likely duplicates and keeps the
// derived stock balance and invoice counter in step with the entry log.
//
// The duplicate check is a heuristic: an existing entry for the same product whose
// invoice number has a leading numeric segment greater than or equal to the
// candidate's is flagged. Same-or-earlier numbers are suspicious, which tolerates
// non-monotonic numbering at the cost of false positives. Invoice numbers without a
// numeric leading segment are never flagged.
package reconcile

import (
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-dispatch/internal/entity"
)

// LeadingNumber parses the text before the first '/' of an invoice number.
func LeadingNumber(invoiceNumber string) (int64, bool) {
	head, _, _ := strings.Cut(strings.TrimSpace(invoiceNumber), "/")
	head = strings.TrimSpace(head)
	if head == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsDuplicate reports whether existing makes candidate look like a repeat.
func IsDuplicate(existing, candidate *entity.DispatchEntry) bool {
	if existing == nil || candidate == nil {
		return false
	}
	if existing.Product.ID == "" || existing.Product.ID != candidate.Product.ID {
		return false
	}
	have, ok := LeadingNumber(existing.InvoiceNumber)
	if !ok {
		return false
	}
	want, ok := LeadingNumber(candidate.InvoiceNumber)
	if !ok {
		return false
	}
	return have >= want
}

// Decision is the outcome of Check: proceed, or warn with the entries that triggered it.
type Decision struct {
	Proceed    bool
	Duplicates []*entity.DispatchEntry
}

// Check compares a candidate against the entries already recorded for its date.
func Check(candidate *entity.DispatchEntry, existing []*entity.DispatchEntry) Decision {
	var dups []*entity.DispatchEntry
	for _, e := range existing {
		if IsDuplicate(e, candidate) {
			dups = append(dups, e)
		}
	}
	return Decision{Proceed: len(dups) == 0, Duplicates: dups}
}
