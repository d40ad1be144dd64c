package domain

import (
	"errors"

	"github.com/smallbiznis/classpay/internal/apperr"
)

type (
	ValidationError        = apperr.ValidationError
	NotFoundError          = apperr.NotFoundError
	InvalidTransitionError = apperr.InvalidTransitionError
	ConflictError          = apperr.ConflictError
	GatewayError           = apperr.GatewayError
	NotEligibleError       = apperr.NotEligibleError
)

var (
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
	ErrInvalidMethod       = errors.New("invalid_method")
	ErrInvalidState        = errors.New("invalid_state")
	ErrInvalidDescription  = errors.New("invalid_description")
	ErrInvalidStudent      = errors.New("invalid_student")
	ErrStudentNotFound     = errors.New("student_not_found")
	ErrClassNotFound       = errors.New("class_not_found")
	ErrInvalidLineItem     = errors.New("invalid_line_item")
	ErrLineItemsMismatch   = errors.New("line_items_mismatch")
	ErrTooManyLineItems    = errors.New("too_many_line_items")
	ErrLineItemIndex       = errors.New("line_item_index_out_of_range")
	ErrLineItemsLocked     = errors.New("line_items_locked")
	ErrIntentAmountFixed   = errors.New("intent_amount_fixed")
	ErrGatewayMethod       = errors.New("gateway_method_not_settled")
	ErrInvalidEventType    = errors.New("invalid_event_type")
	ErrInvalidIntentID     = errors.New("invalid_intent_id")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrInvalidPayment      = errors.New("invalid_payment")
	ErrEventAlreadyHandled = errors.New("event_already_processed")
)

func newValidation(field string, err error) error {
	return apperr.Validation(field, err)
}
