package context_test

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := obscontext.WithRequestID(context.Background(), "  req-1 ")
	if got := obscontext.RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := obscontext.RequestIDFromContext(obscontext.WithRequestID(context.Background(), " ")); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}

func TestActorNormalized(t *testing.T) {
	ctx := obscontext.WithActor(context.Background(), obscontext.Actor{ID: " stu_1 ", Role: "Student"})
	actor, ok := obscontext.ActorFromContext(ctx)
	if !ok {
		t.Fatalf("expected actor in context")
	}
	if actor.ID != "stu_1" || actor.Role != "student" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, ok := obscontext.ActorFromContext(obscontext.WithActor(context.Background(), obscontext.Actor{})); ok {
		t.Fatalf("zero actor must not be stored")
	}
}

func TestPaymentScope(t *testing.T) {
	ctx := obscontext.WithPayment(context.Background(), obscontext.PaymentScope{ID: " 42 ", IntentID: "pi_1"})
	scope, ok := obscontext.PaymentFromContext(ctx)
	if !ok || scope.ID != "42" || scope.IntentID != "pi_1" {
		t.Fatalf("unexpected payment scope %+v", scope)
	}
	if _, ok := obscontext.PaymentFromContext(obscontext.WithPayment(context.Background(), obscontext.PaymentScope{})); ok {
		t.Fatalf("empty payment scope must not be stored")
	}
}

func TestClassScopeRequiresClass(t *testing.T) {
	if _, ok := obscontext.ClassFromContext(obscontext.WithClass(context.Background(), obscontext.ClassScope{MemberRef: "stu_1"})); ok {
		t.Fatalf("class scope without class id must not be stored")
	}
	ctx := obscontext.WithClass(context.Background(), obscontext.ClassScope{ClassID: "c1", MemberRef: "stu_1"})
	scope, ok := obscontext.ClassFromContext(ctx)
	if !ok || scope.ClassID != "c1" || scope.MemberRef != "stu_1" {
		t.Fatalf("unexpected class scope %+v", scope)
	}
}
