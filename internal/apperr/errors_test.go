package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/classpay/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	sentinel := errors.New("invalid_amount")
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", apperr.Validation("amount", sentinel), apperr.IsValidation},
		{"not found", apperr.NotFound("payment", "pi_1"), apperr.IsNotFound},
		{"transition", &apperr.InvalidTransitionError{From: "ERROR", To: "SUCCESS"}, apperr.IsInvalidTransition},
		{"conflict", &apperr.ConflictError{Resource: "class", Key: "c1"}, apperr.IsConflict},
		{"gateway", &apperr.GatewayError{Op: "create_intent", Err: sentinel}, apperr.IsGateway},
		{"not eligible", &apperr.NotEligibleError{PaymentID: "1", Reason: "already_invoiced"}, apperr.IsNotEligible},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.True(t, tc.check(wrapped))
		})
	}
}

func TestValidationUnwrapsSentinel(t *testing.T) {
	sentinel := errors.New("unsupported_currency")
	err := apperr.Validation("currency", sentinel)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "validation failed: currency: unsupported_currency", err.Error())
}

func TestInvalidTransitionMessageCarriesReferences(t *testing.T) {
	err := &apperr.InvalidTransitionError{PaymentID: "42", IntentID: "pi_1", From: "ERROR", To: "SUCCESS"}
	assert.Equal(t, "invalid transition ERROR -> SUCCESS (payment=42, intent=pi_1)", err.Error())
}
