package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ValidAmount reports whether d is positive with at most two fraction digits.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(2))
}

// MinorUnits converts a scale-2 amount to the gateway's integer representation.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

// NewPayment holds the fields shared by both constructors.
type NewPayment struct {
	ID          snowflake.ID
	Amount      decimal.Decimal
	Currency    string
	StudentID   string
	ClassID     string
	Description string
	LineItems   []LineItem
	Now         time.Time
}

func (n NewPayment) validate() error {
	if n.ID == 0 {
		return newValidation("id", ErrInvalidPayment)
	}
	if !ValidAmount(n.Amount) {
		return newValidation("amount", ErrInvalidAmount)
	}
	if len(strings.TrimSpace(n.Currency)) != 3 {
		return newValidation("currency", ErrInvalidCurrency)
	}
	if strings.TrimSpace(n.StudentID) == "" {
		return newValidation("student_id", ErrInvalidStudent)
	}
	if strings.TrimSpace(n.Description) == "" {
		return newValidation("description", ErrInvalidDescription)
	}
	return ValidateLineItems(n.LineItems, n.Amount, 0)
}

func (n NewPayment) build(method Method, state State) *Payment {
	now := n.Now.UTC()
	p := &Payment{
		ID:          n.ID,
		Amount:      n.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(n.Currency)),
		Method:      method,
		State:       state,
		StudentID:   strings.TrimSpace(n.StudentID),
		Description: strings.TrimSpace(n.Description),
		Invoiced:    false,
		LineItems:   append([]LineItem(nil), n.LineItems...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if classID := strings.TrimSpace(n.ClassID); classID != "" {
		p.ClassID = &classID
	}
	return p
}

// NewPendingPayment builds a gateway payment awaiting confirmation.
func NewPendingPayment(n NewPayment, intentID string, ttl time.Duration) (*Payment, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, newValidation("gateway_intent_id", ErrInvalidIntentID)
	}
	p := n.build(MethodGateway, StatePending)
	p.GatewayIntentID = &intentID
	if ttl > 0 {
		expires := p.CreatedAt.Add(ttl)
		p.ExpiresAt = &expires
	}
	return p, nil
}

// NewSettledPayment builds a manual payment already confirmed by staff.
func NewSettledPayment(n NewPayment, method Method) (*Payment, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	if !method.IsManual() {
		return nil, newValidation("method", ErrGatewayMethod)
	}
	return n.build(method, StateSuccess), nil
}

// Apply moves the payment to target when the graph allows it. On
// TransitionRepeat nothing changes.
func (p *Payment) Apply(target State, now time.Time) (TransitionOutcome, error) {
	outcome, err := Transition(p.State, target)
	if err != nil {
		return 0, p.invalidTransition(target)
	}
	if outcome == TransitionApplied {
		p.State = target
		p.UpdatedAt = now.UTC()
	}
	return outcome, nil
}

// ApplyEvent applies a gateway event, recording the charge id once and the
// failure reason only on ERROR.
func (p *Payment) ApplyEvent(evt GatewayEvent, now time.Time) (TransitionOutcome, error) {
	target, err := evt.TargetState()
	if err != nil {
		return 0, newValidation("type", err)
	}
	outcome, err := p.Apply(target, now)
	if err != nil || outcome == TransitionRepeat {
		return outcome, err
	}
	switch target {
	case StateSuccess:
		if chargeID := strings.TrimSpace(evt.ChargeID); chargeID != "" && p.GatewayChargeID == nil {
			p.GatewayChargeID = &chargeID
		}
	case StateError:
		reason := strings.TrimSpace(evt.FailureReason)
		if reason == "" {
			reason = DefaultFailureReason
		}
		p.FailureReason = &reason
	}
	return outcome, nil
}

// Refund is the explicit SUCCESS -> REFUNDED transition.
func (p *Payment) Refund(now time.Time) error {
	if p.State != StateSuccess {
		return p.invalidTransition(StateRefunded)
	}
	p.State = StateRefunded
	at := now.UTC()
	p.RefundedAt = &at
	p.UpdatedAt = at
	return nil
}

func (p *Payment) CanInvoice() bool {
	return p.State == StateSuccess && !p.Invoiced
}

// MarkInvoiced flips the invoiced flag; it only succeeds once and only from SUCCESS.
func (p *Payment) MarkInvoiced(now time.Time) error {
	if p.State != StateSuccess {
		return &NotEligibleError{PaymentID: p.ID.String(), Reason: "state " + string(p.State)}
	}
	if p.Invoiced {
		return &NotEligibleError{PaymentID: p.ID.String(), Reason: "already invoiced"}
	}
	p.Invoiced = true
	p.UpdatedAt = now.UTC()
	return nil
}

// AddLineItem appends item and sets amount to the new sum. A payment without
// items first gets a single entry covering its current amount.
func (p *Payment) AddLineItem(item LineItem, max int) error {
	items := p.currentItems()
	items = append(items, item)
	return p.ReplaceLineItems(items, max)
}

func (p *Payment) RemoveLineItem(index int, max int) error {
	items := p.currentItems()
	if index < 0 || index >= len(items) {
		return newValidation("index", ErrLineItemIndex)
	}
	items = append(items[:index:index], items[index+1:]...)
	return p.ReplaceLineItems(items, max)
}

// ReplaceLineItems swaps the item list and recomputes amount. The record is
// left untouched when the result is invalid.
func (p *Payment) ReplaceLineItems(items []LineItem, max int) error {
	if p.State != StatePending {
		return newValidation("state", ErrLineItemsLocked)
	}
	if len(items) == 0 {
		return newValidation("line_items", ErrInvalidLineItem)
	}
	sum := SumLineItems(items)
	if err := ValidateLineItems(items, sum, max); err != nil {
		return err
	}
	if !ValidAmount(sum) {
		return newValidation("amount", ErrInvalidAmount)
	}
	if p.Method.IsGateway() && p.GatewayIntentID != nil && !sum.Equal(p.Amount) {
		return newValidation("amount", ErrIntentAmountFixed)
	}
	p.LineItems = append([]LineItem(nil), items...)
	p.Amount = sum
	return nil
}

// ConsistentAmount reports whether amount matches the line items, if any.
func (p *Payment) ConsistentAmount() bool {
	if len(p.LineItems) == 0 {
		return ValidAmount(p.Amount)
	}
	return SumLineItems(p.LineItems).Equal(p.Amount)
}

func (p *Payment) currentItems() []LineItem {
	if len(p.LineItems) > 0 {
		return append([]LineItem(nil), p.LineItems...)
	}
	return []LineItem{{Description: p.Description, UnitPrice: p.Amount, Quantity: 1}}
}

func (p *Payment) invalidTransition(target State) error {
	return &InvalidTransitionError{
		PaymentID: p.ID.String(),
		IntentID:  p.IntentID(),
		From:      string(p.State),
		To:        string(target),
	}
}

const DefaultFailureReason = "Payment failed"
