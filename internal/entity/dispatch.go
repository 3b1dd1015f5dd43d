package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalog entry as supplied by master data.
type Product struct {
	ID            string `json:"id"`
	TechnicalName string `json:"technical_name"`
	CommonName    string `json:"common_name"`
}

// DispatchEntry is a confirmed dispatch line. It is immutable once created.
type DispatchEntry struct {
	ID            uuid.UUID       `json:"id"`
	CompanyID     string          `json:"company_id"`
	Date          time.Time       `json:"date"`
	Product       Product         `json:"product"`
	Quantity      decimal.Decimal `json:"quantity"`
	TruckNumber   string          `json:"truck_number"`
	InvoiceNumber string          `json:"invoice_number"`
	FromFallback  bool            `json:"from_fallback"`
	CreatedAt     time.Time       `json:"created_at"`
}
