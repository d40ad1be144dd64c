package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classpay/internal/invoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, doc *domain.InvoiceDocument) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (id, payment_id, invoice_number, body, amount, currency, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.PaymentID,
		doc.InvoiceNumber,
		doc.Body,
		doc.Amount,
		doc.Currency,
		doc.IssuedAt,
	).Error
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*domain.InvoiceDocument, error) {
	var doc domain.InvoiceDocument
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, invoice_number, body, amount, currency, issued_at
		FROM invoices WHERE payment_id = ?`,
		paymentID,
	).Scan(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == 0 {
		return nil, nil
	}
	return &doc, nil
}

func (r *repo) CountIssuedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices WHERE issued_at >= ? AND issued_at < ?`,
		from, to,
	).Scan(&count).Error
	return count, err
}
