package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockBalance is the running quantity on hand for one product of one company.
type StockBalance struct {
	CompanyID         string          `json:"company_id"`
	ProductID         string          `json:"product_id"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	LastUpdated       time.Time       `json:"last_updated"`
}

// CompanyInvoiceCounter holds the last invoice number saved for a company. Advisory only.
type CompanyInvoiceCounter struct {
	CompanyID         string    `json:"company_id"`
	LastInvoiceNumber string    `json:"last_invoice_number"`
	LastUpdated       time.Time `json:"last_updated"`
}
