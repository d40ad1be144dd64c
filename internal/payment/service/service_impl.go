package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classpay/internal/clock"
	"github.com/smallbiznis/classpay/internal/config"
	"github.com/smallbiznis/classpay/internal/messaging"
	"github.com/smallbiznis/classpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Gateway    paymentdomain.Gateway
	Directory  paymentdomain.Directory
	OnSuccess  paymentdomain.SuccessHandler
	Policy     *config.PaymentPolicyHolder
	Publisher  messaging.Publisher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	gateway    paymentdomain.Gateway
	directory  paymentdomain.Directory
	onSuccess  paymentdomain.SuccessHandler
	policy     *config.PaymentPolicyHolder
	publisher  messaging.Publisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		gateway:    p.Gateway,
		directory:  p.Directory,
		onSuccess:  p.OnSuccess,
		policy:     p.Policy,
		publisher:  p.Publisher,
		obsMetrics: p.ObsMetrics,
	}
}

// CreatePayment validates the request, opens a gateway intent and persists a
// PENDING record. Nothing is stored when validation or the gateway fails.
func (s *Service) CreatePayment(ctx context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
	policy := s.policy.Get()
	if err := s.validateRequest(ctx, &req, policy); err != nil {
		s.obsMetrics.RecordPaymentCreated(ctx, string(paymentdomain.MethodGateway), "rejected")
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, paymentdomain.IntentRequest{
		AmountMinor: paymentdomain.MinorUnits(req.Amount),
		Currency:    strings.ToLower(req.Currency),
		Description: req.Description,
	})
	if err != nil {
		s.obsMetrics.RecordPaymentCreated(ctx, string(paymentdomain.MethodGateway), "gateway_error")
		logger.WithContext(ctx, s.log).Warn("gateway rejected payment intent",
			zap.String("student_id", req.StudentID),
			zap.Error(err),
		)
		return nil, &paymentdomain.GatewayError{Op: "create_intent", Err: err}
	}

	payment, err := paymentdomain.NewPendingPayment(s.newPayment(req), intent.ID, policy.IntentTTL)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		// The intent exists at the gateway without a local record; log enough to reconcile it.
		logger.ForPayment(ctx, s.log, payment.ID.String(), intent.ID).
			Error("failed to persist payment after intent creation", zap.Error(err))
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	s.obsMetrics.RecordPaymentCreated(ctx, string(payment.Method), "created")
	logger.ForPayment(ctx, s.log, payment.ID.String(), intent.ID).Info("payment created",
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("currency", payment.Currency),
		zap.String("kind", payment.Kind().String()),
	)

	return &paymentdomain.CreatePaymentResult{Payment: payment, ClientSecret: intent.ClientSecret}, nil
}

// CreateSettledPayment records a manual payment confirmed at the desk. A
// class-linked payment enrolls the student right away; if that fails the
// reconciliation sweep completes it later.
func (s *Service) CreateSettledPayment(ctx context.Context, req paymentdomain.CreateSettledPaymentRequest) (*paymentdomain.Payment, error) {
	method, err := paymentdomain.ParseMethod(req.Method)
	if err != nil {
		return nil, &paymentdomain.ValidationError{Field: "method", Reason: err.Error(), Err: paymentdomain.ErrInvalidMethod}
	}

	base := req.CreatePaymentRequest
	if err := s.validateRequest(ctx, &base, s.policy.Get()); err != nil {
		s.obsMetrics.RecordPaymentCreated(ctx, string(method), "rejected")
		return nil, err
	}

	payment, err := paymentdomain.NewSettledPayment(s.newPayment(base), method)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	s.obsMetrics.RecordPaymentCreated(ctx, string(payment.Method), "settled")
	s.publish(ctx, paymentdomain.EventPaymentSucceeded, payment)

	log := logger.ForPayment(ctx, s.log, payment.ID.String(), "")
	if payment.NeedsEnrollment() {
		if err := s.onSuccess.OnPaymentSucceeded(ctx, payment); err != nil {
			log.Warn("enrollment deferred to reconciliation", zap.Error(err))
			return payment, nil
		}
		at := s.clock.Now()
		if _, err := s.repo.MarkEnrollmentApplied(ctx, s.db, payment.ID, at); err != nil {
			log.Warn("failed to mark enrollment applied", zap.Error(err))
			return payment, nil
		}
		payment.EnrollmentAppliedAt = &at
	}

	log.Info("settled payment recorded", zap.String("method", string(payment.Method)))
	return payment, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (*paymentdomain.PaymentView, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, &paymentdomain.NotFoundError{Resource: "payment", Key: id}
	}
	now := s.clock.Now()
	return &paymentdomain.PaymentView{
		Payment:    payment,
		Expired:    payment.IsExpired(now),
		Actionable: payment.IsActionable(now),
	}, nil
}

// Refund moves a SUCCESS payment to REFUNDED. The roster is left as is.
func (s *Service) Refund(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var refunded *paymentdomain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return &paymentdomain.NotFoundError{Resource: "payment", Key: id}
		}
		from := payment.State
		if err := payment.Refund(s.clock.Now()); err != nil {
			return err
		}
		if err := s.repo.UpdateState(ctx, tx, payment); err != nil {
			return err
		}
		s.obsMetrics.RecordTransition(ctx, string(from), string(payment.State), "refund")
		refunded = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.ForPayment(ctx, s.log, refunded.ID.String(), refunded.IntentID()).Info("payment refunded")
	s.publish(ctx, paymentdomain.EventPaymentRefunded, refunded)
	return refunded, nil
}

func (s *Service) AddLineItem(ctx context.Context, id string, item paymentdomain.LineItem) (*paymentdomain.Payment, error) {
	max := s.policy.Get().MaxLineItems
	return s.mutateLineItems(ctx, id, func(p *paymentdomain.Payment) error {
		return p.AddLineItem(item, max)
	})
}

func (s *Service) RemoveLineItem(ctx context.Context, id string, index int) (*paymentdomain.Payment, error) {
	max := s.policy.Get().MaxLineItems
	return s.mutateLineItems(ctx, id, func(p *paymentdomain.Payment) error {
		return p.RemoveLineItem(index, max)
	})
}

func (s *Service) mutateLineItems(ctx context.Context, id string, mutate func(*paymentdomain.Payment) error) (*paymentdomain.Payment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var updated *paymentdomain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return &paymentdomain.NotFoundError{Resource: "payment", Key: id}
		}
		if err := mutate(payment); err != nil {
			return err
		}
		payment.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateLineItems(ctx, tx, payment); err != nil {
			return err
		}
		updated = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) validateRequest(ctx context.Context, req *paymentdomain.CreatePaymentRequest, policy config.PaymentPolicy) error {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.StudentID = strings.TrimSpace(req.StudentID)
	req.ClassID = strings.TrimSpace(req.ClassID)
	req.Description = strings.TrimSpace(req.Description)

	if !paymentdomain.ValidAmount(req.Amount) {
		return &paymentdomain.ValidationError{Field: "amount", Reason: "must be positive with at most 2 decimals", Err: paymentdomain.ErrInvalidAmount}
	}
	if !isCurrencyCode(req.Currency) {
		return &paymentdomain.ValidationError{Field: "currency", Reason: "must be a 3-letter code", Err: paymentdomain.ErrInvalidCurrency}
	}
	if !policy.SupportsCurrency(req.Currency) {
		return &paymentdomain.ValidationError{Field: "currency", Reason: req.Currency + " is not supported", Err: paymentdomain.ErrUnsupportedCurrency}
	}
	if req.Description == "" {
		return &paymentdomain.ValidationError{Field: "description", Reason: "required", Err: paymentdomain.ErrInvalidDescription}
	}
	if req.StudentID == "" {
		return &paymentdomain.ValidationError{Field: "student_id", Reason: "required", Err: paymentdomain.ErrInvalidStudent}
	}
	if err := paymentdomain.ValidateLineItems(req.LineItems, req.Amount, policy.MaxLineItems); err != nil {
		return err
	}

	exists, err := s.directory.StudentExists(ctx, req.StudentID)
	if err != nil {
		return fmt.Errorf("resolve student: %w", err)
	}
	if !exists {
		return &paymentdomain.ValidationError{Field: "student_id", Reason: "unknown student " + req.StudentID, Err: paymentdomain.ErrStudentNotFound}
	}
	if req.ClassID != "" {
		exists, err := s.directory.ClassExists(ctx, req.ClassID)
		if err != nil {
			return fmt.Errorf("resolve class: %w", err)
		}
		if !exists {
			return &paymentdomain.ValidationError{Field: "class_id", Reason: "unknown class " + req.ClassID, Err: paymentdomain.ErrClassNotFound}
		}
	}
	return nil
}

func (s *Service) newPayment(req paymentdomain.CreatePaymentRequest) paymentdomain.NewPayment {
	return paymentdomain.NewPayment{
		ID:          s.genID.Generate(),
		Amount:      req.Amount,
		Currency:    req.Currency,
		StudentID:   req.StudentID,
		ClassID:     req.ClassID,
		Description: req.Description,
		LineItems:   req.LineItems,
		Now:         s.clock.Now(),
	}
}

func (s *Service) publish(ctx context.Context, eventType string, payment *paymentdomain.Payment) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, paymentdomain.NewOutcomeEvent(payment)); err != nil {
		logger.ForPayment(ctx, s.log, payment.ID.String(), payment.IntentID()).
			Warn("failed to publish payment event", zap.String("event_type", eventType), zap.Error(err))
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, &paymentdomain.ValidationError{Field: "id", Reason: "invalid payment id", Err: errors.Join(paymentdomain.ErrInvalidPayment, err)}
	}
	return id, nil
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
