// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceDocument is the immutable record of an invoice issued for one payment.
type InvoiceDocument struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	PaymentID     snowflake.ID    `gorm:"not null;uniqueIndex:ux_invoices_payment_id" json:"payment_id,string"`
	InvoiceNumber string          `gorm:"type:text;not null;uniqueIndex:ux_invoices_invoice_number" json:"invoice_number"`
	Body          string          `gorm:"type:text;not null" json:"body"`
	Amount        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency      string          `gorm:"type:text;not null" json:"currency"`
	IssuedAt      time.Time       `gorm:"not null" json:"issued_at"`
}

// TableName sets the database table name.
func (InvoiceDocument) TableName() string { return "invoices" }

// BatchResult reports the outcome of a batch issuance, keyed by the raw
// payment id that was requested.
type BatchResult struct {
	Issued  []string         `json:"issued"`
	Skipped []string         `json:"skipped"`
	Failed  map[string]error `json:"-"`
}

// IssuedEvent is published after an invoice is committed.
type IssuedEvent struct {
	InvoiceID     string          `json:"invoice_id"`
	PaymentID     string          `json:"payment_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	IssuedAt      time.Time       `json:"issued_at"`
}

func NewIssuedEvent(doc *InvoiceDocument) IssuedEvent {
	return IssuedEvent{
		InvoiceID:     doc.ID.String(),
		PaymentID:     doc.PaymentID.String(),
		InvoiceNumber: doc.InvoiceNumber,
		Amount:        doc.Amount,
		Currency:      doc.Currency,
		IssuedAt:      doc.IssuedAt,
	}
}
