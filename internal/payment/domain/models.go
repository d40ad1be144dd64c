package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment is the durable record of one payment attempt. Rows are never deleted.
type Payment struct {
	ID                  snowflake.ID                  `json:"id" gorm:"primaryKey"`
	Amount              decimal.Decimal               `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency            string                        `json:"currency" gorm:"type:char(3);not null"`
	Method              Method                        `json:"method" gorm:"type:text;not null"`
	State               State                         `json:"state" gorm:"type:text;not null;index"`
	StudentID           string                        `json:"student_id" gorm:"column:student_id;type:text;not null;index"`
	ClassID             *string                       `json:"class_id,omitempty" gorm:"column:class_id;type:text"`
	Description         string                        `json:"description" gorm:"type:text;not null"`
	GatewayIntentID     *string                       `json:"gateway_intent_id,omitempty" gorm:"column:gateway_intent_id;type:text;uniqueIndex"`
	GatewayChargeID     *string                       `json:"gateway_charge_id,omitempty" gorm:"column:gateway_charge_id;type:text"`
	FailureReason       *string                       `json:"failure_reason,omitempty" gorm:"column:failure_reason;type:text"`
	Invoiced            bool                          `json:"invoiced" gorm:"not null;default:false"`
	EnrollmentAppliedAt *time.Time                    `json:"enrollment_applied_at,omitempty" gorm:"column:enrollment_applied_at"`
	RefundedAt          *time.Time                    `json:"refunded_at,omitempty" gorm:"column:refunded_at"`
	LineItems           datatypes.JSONSlice[LineItem] `json:"line_items" gorm:"column:line_items"`
	CreatedAt           time.Time                     `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time                     `json:"updated_at" gorm:"not null"`
	ExpiresAt           *time.Time                    `json:"expires_at,omitempty" gorm:"column:expires_at"`
}

func (Payment) TableName() string { return "payments" }

// Kind distinguishes enrollment-linked payments from plain ones.
type Kind int

const (
	KindPlain Kind = iota
	KindEnrollment
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindEnrollment:
		return "enrollment"
	default:
		return "unknown"
	}
}

func (p *Payment) Kind() Kind {
	if p.ClassID != nil && strings.TrimSpace(*p.ClassID) != "" {
		return KindEnrollment
	}
	return KindPlain
}

// EnrollmentTarget returns the class to enroll into; ok is false for plain payments.
func (p *Payment) EnrollmentTarget() (classID string, ok bool) {
	switch p.Kind() {
	case KindEnrollment:
		return strings.TrimSpace(*p.ClassID), true
	case KindPlain:
		return "", false
	default:
		return "", false
	}
}

func (p *Payment) IntentID() string {
	if p.GatewayIntentID == nil {
		return ""
	}
	return *p.GatewayIntentID
}

// IsExpired reports whether a PENDING record has passed its expiry. Expired
// records stay PENDING in storage.
func (p *Payment) IsExpired(now time.Time) bool {
	return p.State == StatePending && p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// IsActionable reports whether the record may still move forward on its own.
func (p *Payment) IsActionable(now time.Time) bool {
	switch p.State {
	case StatePending:
		return !p.IsExpired(now)
	case StateProcessing:
		return true
	case StateSuccess, StateError, StateRefunded:
		return false
	default:
		return false
	}
}

// NeedsEnrollment reports whether the success side effect is still owed.
func (p *Payment) NeedsEnrollment() bool {
	return p.State == StateSuccess && p.Kind() == KindEnrollment && p.EnrollmentAppliedAt == nil
}

const (
	EventTypeProcessing = "processing"
	EventTypeSucceeded  = "succeeded"
	EventTypeFailed     = "failed"
)

// GatewayEvent is the provider-neutral form of a webhook notification.
type GatewayEvent struct {
	Type          string
	IntentID      string
	ChargeID      string
	FailureReason string
}

// TargetState maps the event type to the state it requests.
func (e GatewayEvent) TargetState() (State, error) {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case EventTypeProcessing:
		return StateProcessing, nil
	case EventTypeSucceeded:
		return StateSuccess, nil
	case EventTypeFailed:
		return StateError, nil
	default:
		return "", ErrInvalidEventType
	}
}

// EventRecord is one row of the gateway delivery log.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	IntentID        string         `json:"gateway_intent_id" gorm:"column:gateway_intent_id;type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// ProviderEvent is what a webhook adapter extracts from a raw delivery.
type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	ProviderType    string
	Event           GatewayEvent
	OccurredAt      time.Time
	RawPayload      []byte
}
