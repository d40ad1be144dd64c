package service

import (
	"context"
	"fmt"

	enrollmentdomain "github.com/smallbiznis/classpay/internal/enrollment/domain"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"go.uber.org/zap"
)

// SideEffectHandler enrolls the paying student once a class payment succeeds.
type SideEffectHandler struct {
	guard enrollmentdomain.Service
	log   *zap.Logger
}

func NewSideEffectHandler(guard enrollmentdomain.Service, log *zap.Logger) *SideEffectHandler {
	return &SideEffectHandler{guard: guard, log: log.Named("enrollment.side_effect")}
}

// OnPaymentSucceeded is idempotent: a repeated call finds the student present.
func (h *SideEffectHandler) OnPaymentSucceeded(ctx context.Context, payment *paymentdomain.Payment) error {
	if payment == nil {
		return nil
	}
	switch payment.Kind() {
	case paymentdomain.KindPlain:
		return nil
	case paymentdomain.KindEnrollment:
		classID, _ := payment.EnrollmentTarget()
		result, err := h.guard.EnrollStudent(ctx, classID, payment.StudentID)
		if err != nil {
			return fmt.Errorf("enroll student %s in class %s: %w", payment.StudentID, classID, err)
		}
		h.log.Debug("payment enrollment applied",
			zap.String("payment_id", payment.ID.String()),
			zap.String("result", string(result)),
		)
		return nil
	default:
		return fmt.Errorf("unknown payment kind %d", payment.Kind())
	}
}

var _ paymentdomain.SuccessHandler = (*SideEffectHandler)(nil)
