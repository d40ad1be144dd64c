package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classpay/internal/apperr"
	"github.com/smallbiznis/classpay/internal/clock"
	"github.com/smallbiznis/classpay/internal/config"
	invoicedomain "github.com/smallbiznis/classpay/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/classpay/internal/invoice/format"
	"github.com/smallbiznis/classpay/internal/invoice/render"
	"github.com/smallbiznis/classpay/internal/messaging"
	"github.com/smallbiznis/classpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"github.com/smallbiznis/classpay/internal/providers/pdf"
	"github.com/smallbiznis/classpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxBatchSize  = 500
	issueAttempts = 2
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       invoicedomain.Repository
	Payments   paymentdomain.Repository
	Renderer   *render.Renderer
	PDF        pdf.Provider        `optional:"true"`
	Publisher  messaging.Publisher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	schoolName string

	repo       invoicedomain.Repository
	payments   paymentdomain.Repository
	renderer   *render.Renderer
	pdf        pdf.Provider
	publisher  messaging.Publisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) invoicedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      clk,
		schoolName: p.Cfg.AppName,

		repo:       p.Repo,
		payments:   p.Payments,
		renderer:   p.Renderer,
		pdf:        p.PDF,
		publisher:  p.Publisher,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IssueInvoice(ctx context.Context, paymentID string) (*invoicedomain.InvoiceDocument, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("payment_id", id.String()))

	var doc *invoicedomain.InvoiceDocument
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		doc, err = s.issue(ctx, id)
		if err == nil || !db.IsDuplicateKeyErr(err) {
			break
		}
		// A concurrent issuer took the number or the payment; the next pass
		// either picks a fresh number or finds the payment invoiced.
		log.Warn("invoice insert collided", zap.Int("attempt", attempt), zap.Error(err))
	}

	switch {
	case err == nil:
	case apperr.IsNotEligible(err):
		s.obsMetrics.RecordInvoiceIssued(ctx, "not_eligible")
		return nil, err
	case db.IsDuplicateKeyErr(err):
		s.obsMetrics.RecordInvoiceIssued(ctx, "conflict")
		return nil, &apperr.ConflictError{Resource: "invoice", Key: id.String(), Err: err}
	default:
		s.obsMetrics.RecordInvoiceIssued(ctx, "error")
		return nil, err
	}

	s.obsMetrics.RecordInvoiceIssued(ctx, "issued")
	log.Info("invoice issued", zap.String("invoice_number", doc.InvoiceNumber))
	s.publish(ctx, doc)
	return doc, nil
}

// issue renders, stores and flags in one transaction so a crash can never
// leave an invoice without the flag or the flag without an invoice.
func (s *Service) issue(ctx context.Context, id snowflake.ID) (*invoicedomain.InvoiceDocument, error) {
	var doc *invoicedomain.InvoiceDocument
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.payments.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return apperr.NotFound("payment", id.String())
		}

		now := s.clock.Now().UTC()
		if err := payment.MarkInvoiced(now); err != nil {
			return err
		}

		number, err := s.nextNumber(ctx, tx, now)
		if err != nil {
			return err
		}
		body, err := s.renderer.Render(render.BuildView(payment, number, now))
		if err != nil {
			return err
		}

		doc = &invoicedomain.InvoiceDocument{
			ID:            s.genID.Generate(),
			PaymentID:     payment.ID,
			InvoiceNumber: number,
			Body:          body,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			IssuedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, doc); err != nil {
			return err
		}

		flipped, err := s.payments.MarkInvoiced(ctx, tx, payment.ID, now)
		if err != nil {
			return err
		}
		if !flipped {
			return &apperr.NotEligibleError{PaymentID: payment.ID.String(), Reason: "already invoiced"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) nextNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	from, to := invoiceformat.DayBounds(now)
	issued, err := s.repo.CountIssuedBetween(ctx, tx, from, to)
	if err != nil {
		return "", err
	}
	return invoiceformat.FormatInvoiceNumber(invoiceformat.DefaultInvoiceNumberTemplate, now, issued+1)
}

func (s *Service) IssueBatch(ctx context.Context, paymentIDs []string) (invoicedomain.BatchResult, error) {
	if len(paymentIDs) == 0 {
		return invoicedomain.BatchResult{}, apperr.Validation("payment_ids", invoicedomain.ErrEmptyBatch)
	}
	if len(paymentIDs) > maxBatchSize {
		return invoicedomain.BatchResult{}, apperr.Validation("payment_ids", invoicedomain.ErrBatchTooLarge)
	}

	result := invoicedomain.BatchResult{
		Issued:  []string{},
		Skipped: []string{},
		Failed:  map[string]error{},
	}
	seen := make(map[string]struct{}, len(paymentIDs))
	for _, raw := range paymentIDs {
		raw = strings.TrimSpace(raw)
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}

		if err := ctx.Err(); err != nil {
			result.Failed[raw] = err
			continue
		}

		_, err := s.IssueInvoice(ctx, raw)
		switch {
		case err == nil:
			result.Issued = append(result.Issued, raw)
		case apperr.IsNotEligible(err):
			result.Skipped = append(result.Skipped, raw)
		default:
			result.Failed[raw] = err
		}
	}

	s.log.Info("invoice batch finished",
		zap.Int("requested", len(seen)),
		zap.Int("issued", len(result.Issued)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Service) BackfillPending(ctx context.Context, settledBefore time.Time, limit int) (invoicedomain.BatchResult, error) {
	if limit <= 0 || limit > maxBatchSize {
		limit = maxBatchSize
	}
	ids, err := s.payments.ListUninvoiced(ctx, s.db, settledBefore, limit)
	if err != nil {
		return invoicedomain.BatchResult{}, err
	}
	if len(ids) == 0 {
		return invoicedomain.BatchResult{Issued: []string{}, Skipped: []string{}, Failed: map[string]error{}}, nil
	}

	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	result, err := s.IssueBatch(ctx, raw)
	if err != nil {
		return result, err
	}

	var errs []error
	for id, failure := range result.Failed {
		errs = append(errs, fmt.Errorf("payment %s: %w", id, failure))
	}
	return result, errors.Join(errs...)
}

func (s *Service) CountPendingInvoices(ctx context.Context) (int64, error) {
	return s.payments.CountUninvoiced(ctx, s.db)
}

func (s *Service) GetInvoice(ctx context.Context, paymentID string) (*invoicedomain.InvoiceDocument, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.FindByPaymentID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperr.NotFound("invoice", id.String())
	}
	return doc, nil
}

func (s *Service) RenderPDF(ctx context.Context, paymentID string) (io.Reader, error) {
	if s.pdf == nil {
		return nil, invoicedomain.ErrRendererNotConfigured
	}
	doc, err := s.GetInvoice(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	payment, err := s.payments.FindByID(ctx, s.db, doc.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperr.NotFound("payment", doc.PaymentID.String())
	}

	view := render.BuildView(payment, doc.InvoiceNumber, doc.IssuedAt)
	data := pdf.InvoiceData{
		SchoolName:    s.schoolName,
		InvoiceNumber: view.Number,
		IssueDate:     view.Date,
		PaymentID:     view.PaymentID,
		StudentID:     view.StudentID,
		ClassID:       view.ClassID,
		Method:        view.Method,
		Currency:      doc.Currency,
		Total:         doc.Amount.StringFixed(2),
	}
	for _, line := range view.Lines {
		data.Items = append(data.Items, pdf.InvoiceItem{
			Description: line.Description,
			Qty:         line.Quantity,
			UnitPrice:   line.UnitPrice,
			Amount:      line.Total,
		})
	}
	return s.pdf.GenerateInvoice(ctx, data)
}

func (s *Service) publish(ctx context.Context, doc *invoicedomain.InvoiceDocument) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, invoicedomain.EventInvoiceIssued, invoicedomain.NewIssuedEvent(doc)); err != nil {
		logger.WithContext(ctx, s.log).
			Warn("failed to publish invoice event", zap.String("invoice_number", doc.InvoiceNumber), zap.Error(err))
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, &apperr.ValidationError{Field: "payment_id", Reason: "invalid payment id", Err: errors.Join(paymentdomain.ErrInvalidPayment, err)}
	}
	return id, nil
}
