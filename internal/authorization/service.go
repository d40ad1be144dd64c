package authorization

import (
	"context"
	"errors"

	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleSystem  = "system"
)

const (
	ObjectPayment    = "payment"
	ObjectEnrollment = "enrollment"
	ObjectInvoice    = "invoice"
)

const (
	ActionPaymentCreate = "payment.create"
	ActionPaymentView   = "payment.view"
	// ActionPaymentManage covers manual settlement, refunds and line items.
	ActionPaymentManage = "payment.manage"

	ActionEnrollmentManage = "enrollment.manage"
	ActionEnrollmentView   = "enrollment.view"
	ActionRosterManage     = "roster.manage"

	ActionInvoiceIssue = "invoice.issue"
	ActionInvoiceView  = "invoice.view"
)

// Policy scopes. A rule scoped "own" only matches when the actor is the
// owner of the resource.
const (
	scopeAny   = "any"
	scopeOwn   = "own"
	scopeOther = "other"
)

type Service interface {
	Authorize(ctx context.Context, actor obscontext.Actor, object string, action string) error
	AuthorizeOwner(ctx context.Context, actor obscontext.Actor, object string, action string, ownerID string) error
}
