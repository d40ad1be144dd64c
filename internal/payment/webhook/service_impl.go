package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classpay/internal/apperr"
	"github.com/smallbiznis/classpay/internal/clock"
	"github.com/smallbiznis/classpay/internal/config"
	"github.com/smallbiznis/classpay/internal/messaging"
	"github.com/smallbiznis/classpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	"github.com/smallbiznis/classpay/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	sourceGateway = "gateway"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Adapters   *adapters.Registry
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
	adapters   *adapters.Registry
	onSuccess  paymentdomain.SuccessHandler
	policy     *config.PaymentPolicyHolder
	publisher  messaging.Publisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.webhook"),
		genID:     p.GenID,
		clock:     clk,
		repo:      p.Repo,
		adapters:  p.Adapters,
		onSuccess: p.OnSuccess,
		policy:    p.Policy,
		publisher:  p.Publisher,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook authenticates a raw delivery, records it once and applies the
// event. A delivery already processed is acknowledged without side effects.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	adapter, err := s.adapters.Resolve(provider, s.policy.Get().WebhookTolerance, s.clock.Now)
	if err != nil {
		return err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "unknown", "bad_signature")
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.obsMetrics.RecordWebhookEvent(ctx, provider, "unhandled", "ignored")
			return nil
		}
		return err
	}

	log := logger.ForPayment(ctx, s.log, "", event.Event.IntentID).With(
		zap.String("provider", provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Event.Type),
	)

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Event.Type,
		IntentID:        event.Event.IntentID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Event.Type, "duplicate")
			log.Info("duplicate webhook delivery ignored")
			return nil
		}
	}

	if err := s.HandleEvent(ctx, event.Event); err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Event.Type, "error")
		if apperr.IsNotFound(err) {
			log.Warn("webhook for unknown intent")
		}
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return err
	}
	s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Event.Type, "processed")
	return nil
}

// HandleEvent applies one gateway event to the payment it targets. Illegal
// transitions are logged and dropped. The enrollment side effect runs after
// the state change commits and is retried on every redelivery until marked.
func (s *Service) HandleEvent(ctx context.Context, evt paymentdomain.GatewayEvent) error {
	if _, err := evt.TargetState(); err != nil {
		return apperr.Validation("type", err)
	}
	evt.IntentID = strings.TrimSpace(evt.IntentID)
	if evt.IntentID == "" {
		return apperr.Validation("intent_id", paymentdomain.ErrInvalidIntentID)
	}

	log := logger.ForPayment(ctx, s.log, "", evt.IntentID)

	var (
		payment *paymentdomain.Payment
		from    paymentdomain.State
		outcome paymentdomain.TransitionOutcome
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIntentIDForUpdate(ctx, tx, evt.IntentID)
		if err != nil {
			return err
		}
		if current == nil {
			return &paymentdomain.NotFoundError{Resource: "payment", Key: evt.IntentID}
		}
		from = current.State

		outcome, err = current.ApplyEvent(evt, s.clock.Now())
		if err != nil {
			return err
		}
		if outcome == paymentdomain.TransitionApplied {
			if err := s.repo.UpdateState(ctx, tx, current); err != nil {
				return err
			}
		}
		payment = current
		return nil
	})

	var invalid *paymentdomain.InvalidTransitionError
	if errors.As(err, &invalid) {
		s.obsMetrics.RecordInvalidTransition(ctx, invalid.From, invalid.To)
		log.Warn("invalid payment transition dropped",
			zap.String("payment_id", invalid.PaymentID),
			zap.String("from", invalid.From),
			zap.String("to", invalid.To),
		)
		return nil
	}
	if err != nil {
		return err
	}

	log = log.With(zap.String("payment_id", payment.ID.String()))
	switch outcome {
	case paymentdomain.TransitionApplied:
		s.obsMetrics.RecordTransition(ctx, string(from), string(payment.State), sourceGateway)
		log.Info("payment transitioned", zap.String("from", string(from)), zap.String("to", string(payment.State)))
		s.publish(ctx, payment)
	case paymentdomain.TransitionRepeat:
		log.Debug("repeated gateway event", zap.String("state", string(payment.State)))
	}

	return s.completeEnrollment(ctx, payment, log)
}

// ReconcileEnrollments finishes the enrollment side effect for SUCCESS
// payments whose marker is still unset. A run may overlap a webhook
// redelivery for the same payment; the roster guard answers ALREADY_PRESENT
// for the second writer and only one caller sets the marker.
func (s *Service) ReconcileEnrollments(ctx context.Context, limit int) (paymentdomain.ReconcileResult, error) {
	var result paymentdomain.ReconcileResult
	if limit <= 0 {
		limit = 100
	}

	pending, err := s.repo.ListPendingEnrollments(ctx, s.db, limit)
	if err != nil {
		return result, fmt.Errorf("list pending enrollments: %w", err)
	}
	result.Scanned = len(pending)

	var errs []error
	for i := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		payment := &pending[i]
		log := logger.ForPayment(ctx, s.log, payment.ID.String(), payment.IntentID())
		if err := s.completeEnrollment(ctx, payment, log); err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		result.Applied++
	}

	if result.Scanned > 0 {
		s.log.Info("enrollment reconciliation finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("applied", result.Applied),
			zap.Int("failed", result.Failed),
		)
	}
	return result, errors.Join(errs...)
}

func (s *Service) completeEnrollment(ctx context.Context, payment *paymentdomain.Payment, log *zap.Logger) error {
	if !payment.NeedsEnrollment() {
		return nil
	}

	switch payment.Kind() {
	case paymentdomain.KindPlain:
		return nil
	case paymentdomain.KindEnrollment:
		if err := s.onSuccess.OnPaymentSucceeded(ctx, payment); err != nil {
			log.Warn("enrollment side effect failed", zap.Error(err))
			return fmt.Errorf("enrollment side effect: %w", err)
		}
		at := s.clock.Now()
		marked, err := s.repo.MarkEnrollmentApplied(ctx, s.db, payment.ID, at)
		if err != nil {
			return fmt.Errorf("mark enrollment applied: %w", err)
		}
		if marked {
			payment.EnrollmentAppliedAt = &at
			log.Info("enrollment applied")
		}
		return nil
	default:
		return fmt.Errorf("unknown payment kind %d", payment.Kind())
	}
}

func (s *Service) publish(ctx context.Context, payment *paymentdomain.Payment) {
	if s.publisher == nil {
		return
	}
	eventType := paymentdomain.OutcomeEventType(payment.State)
	if eventType == "" {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, paymentdomain.NewOutcomeEvent(payment)); err != nil {
		s.log.Warn("failed to publish payment event", zap.String("event_type", eventType), zap.Error(err))
	}
}
