package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Directory resolves the references a payment points at.
type Directory interface {
	StudentExists(ctx context.Context, studentID string) (bool, error)
	ClassExists(ctx context.Context, classID string) (bool, error)
}

// SuccessHandler runs the business side effect of a successful payment. It
// must be safe to call more than once for the same payment.
type SuccessHandler interface {
	OnPaymentSucceeded(ctx context.Context, payment *Payment) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIntentIDForUpdate(ctx context.Context, db *gorm.DB, intentID string) (*Payment, error)
	UpdateState(ctx context.Context, db *gorm.DB, payment *Payment) error
	UpdateLineItems(ctx context.Context, db *gorm.DB, payment *Payment) error
	MarkInvoiced(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkEnrollmentApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	ListPendingEnrollments(ctx context.Context, db *gorm.DB, limit int) ([]Payment, error)
	ListUninvoiced(ctx context.Context, db *gorm.DB, settledBefore time.Time, limit int) ([]snowflake.ID, error)
	CountUninvoiced(ctx context.Context, db *gorm.DB) (int64, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	StudentID   string          `json:"student_id"`
	ClassID     string          `json:"class_id,omitempty"`
	Description string          `json:"description"`
	LineItems   []LineItem      `json:"line_items,omitempty"`
}

type CreateSettledPaymentRequest struct {
	CreatePaymentRequest
	Method string `json:"method"`
}

type CreatePaymentResult struct {
	Payment      *Payment
	ClientSecret string
}

// PaymentView is a payment with its derived lifecycle flags.
type PaymentView struct {
	*Payment
	Expired    bool `json:"expired"`
	Actionable bool `json:"actionable"`
}

type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	CreateSettledPayment(ctx context.Context, req CreateSettledPaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*PaymentView, error)
	Refund(ctx context.Context, id string) (*Payment, error)
	AddLineItem(ctx context.Context, id string, item LineItem) (*Payment, error)
	RemoveLineItem(ctx context.Context, id string, index int) (*Payment, error)
}

// WebhookService turns gateway deliveries into state transitions.
type WebhookService interface {
	HandleEvent(ctx context.Context, evt GatewayEvent) error
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
	ReconcileEnrollments(ctx context.Context, limit int) (ReconcileResult, error)
}

type ReconcileResult struct {
	Scanned int
	Applied int
	Failed  int
}

const (
	EventPaymentProcessing = "payment.processing"
	EventPaymentSucceeded  = "payment.succeeded"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRefunded   = "payment.refunded"
)

// OutcomeEvent is the message body published after a transition.
type OutcomeEvent struct {
	PaymentID string    `json:"payment_id"`
	IntentID  string    `json:"gateway_intent_id,omitempty"`
	StudentID string    `json:"student_id"`
	ClassID   string    `json:"class_id,omitempty"`
	State     State     `json:"state"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	At        time.Time `json:"at"`
}

func NewOutcomeEvent(p *Payment) OutcomeEvent {
	classID, _ := p.EnrollmentTarget()
	return OutcomeEvent{
		PaymentID: p.ID.String(),
		IntentID:  p.IntentID(),
		StudentID: p.StudentID,
		ClassID:   classID,
		State:     p.State,
		Amount:    p.Amount.StringFixed(2),
		Currency:  p.Currency,
		At:        p.UpdatedAt,
	}
}

// OutcomeEventType maps a state to the published event name.
func OutcomeEventType(state State) string {
	switch state {
	case StateProcessing:
		return EventPaymentProcessing
	case StateSuccess:
		return EventPaymentSucceeded
	case StateError:
		return EventPaymentFailed
	case StateRefunded:
		return EventPaymentRefunded
	default:
		return ""
	}
}
