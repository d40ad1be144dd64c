package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const EventInvoiceIssued = "invoice.issued"

var (
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrEmptyBatch            = errors.New("empty_batch")
	ErrBatchTooLarge         = errors.New("batch_too_large")
	ErrRendererNotConfigured = errors.New("renderer_not_configured")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, doc *InvoiceDocument) error
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*InvoiceDocument, error)
	// CountIssuedBetween counts invoices issued in [from, to); it seeds the
	// daily invoice number sequence.
	CountIssuedBetween(ctx context.Context, db *gorm.DB, from, to time.Time) (int64, error)
}

type Service interface {
	IssueInvoice(ctx context.Context, paymentID string) (*InvoiceDocument, error)
	IssueBatch(ctx context.Context, paymentIDs []string) (BatchResult, error)
	// BackfillPending issues invoices for successful payments settled before
	// the cutoff.
	BackfillPending(ctx context.Context, settledBefore time.Time, limit int) (BatchResult, error)
	CountPendingInvoices(ctx context.Context) (int64, error)
	GetInvoice(ctx context.Context, paymentID string) (*InvoiceDocument, error)
	RenderPDF(ctx context.Context, paymentID string) (io.Reader, error)
}
