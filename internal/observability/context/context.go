package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}

// Actor identifies the caller as asserted by the upstream identity proxy.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsZero() bool {
	return strings.TrimSpace(a.ID) == "" && strings.TrimSpace(a.Role) == ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.Role = strings.ToLower(strings.TrimSpace(actor.Role))
	if actor.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

type paymentKey struct{}
type classKey struct{}

// PaymentScope names the payment a request or job is working on.
type PaymentScope struct {
	ID       string
	IntentID string
}

// ClassScope names the roster a request is changing.
type ClassScope struct {
	ClassID   string
	MemberRef string
}

func WithPayment(ctx context.Context, scope PaymentScope) context.Context {
	scope.ID = strings.TrimSpace(scope.ID)
	scope.IntentID = strings.TrimSpace(scope.IntentID)
	if scope.ID == "" && scope.IntentID == "" {
		return ctx
	}
	return context.WithValue(ctx, paymentKey{}, scope)
}

func PaymentFromContext(ctx context.Context) (PaymentScope, bool) {
	if ctx == nil {
		return PaymentScope{}, false
	}
	scope, ok := ctx.Value(paymentKey{}).(PaymentScope)
	return scope, ok
}

func WithClass(ctx context.Context, scope ClassScope) context.Context {
	scope.ClassID = strings.TrimSpace(scope.ClassID)
	scope.MemberRef = strings.TrimSpace(scope.MemberRef)
	if scope.ClassID == "" {
		return ctx
	}
	return context.WithValue(ctx, classKey{}, scope)
}

func ClassFromContext(ctx context.Context) (ClassScope, bool) {
	if ctx == nil {
		return ClassScope{}, false
	}
	scope, ok := ctx.Value(classKey{}).(ClassScope)
	return scope, ok
}
