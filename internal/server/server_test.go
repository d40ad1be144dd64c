package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/classpay/internal/apperr"
	"github.com/smallbiznis/classpay/internal/authorization"
	"github.com/smallbiznis/classpay/internal/config"
	enrollmentdomain "github.com/smallbiznis/classpay/internal/enrollment/domain"
	invoicedomain "github.com/smallbiznis/classpay/internal/invoice/domain"
	"github.com/smallbiznis/classpay/internal/observability"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"github.com/smallbiznis/classpay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePaymentService struct {
	createFn func(paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error)
	getFn    func(string) (*paymentdomain.PaymentView, error)
	refundFn func(string) (*paymentdomain.Payment, error)
}

func (f *fakePaymentService) CreatePayment(_ context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
	return f.createFn(req)
}

func (f *fakePaymentService) CreateSettledPayment(context.Context, paymentdomain.CreateSettledPaymentRequest) (*paymentdomain.Payment, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePaymentService) GetPayment(_ context.Context, id string) (*paymentdomain.PaymentView, error) {
	return f.getFn(id)
}

func (f *fakePaymentService) Refund(_ context.Context, id string) (*paymentdomain.Payment, error) {
	return f.refundFn(id)
}

func (f *fakePaymentService) AddLineItem(context.Context, string, paymentdomain.LineItem) (*paymentdomain.Payment, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePaymentService) RemoveLineItem(context.Context, string, int) (*paymentdomain.Payment, error) {
	return nil, errors.New("not implemented")
}

type fakeWebhookService struct {
	err      error
	provider string
	payload  []byte
}

func (f *fakeWebhookService) HandleEvent(context.Context, paymentdomain.GatewayEvent) error { return nil }

func (f *fakeWebhookService) IngestWebhook(_ context.Context, provider string, payload []byte, _ http.Header) error {
	f.provider = provider
	f.payload = payload
	return f.err
}

func (f *fakeWebhookService) ReconcileEnrollments(context.Context, int) (paymentdomain.ReconcileResult, error) {
	return paymentdomain.ReconcileResult{}, nil
}

type fakeRosterService struct {
	calls []string
}

func (f *fakeRosterService) record(op, classID, ref string) {
	f.calls = append(f.calls, op+":"+classID+":"+ref)
}

func (f *fakeRosterService) EnrollStudent(_ context.Context, classID, studentID string) (enrollmentdomain.RosterChangeResult, error) {
	f.record("enroll", classID, studentID)
	return enrollmentdomain.ResultAdded, nil
}

func (f *fakeRosterService) UnenrollStudent(_ context.Context, classID, studentID string) (enrollmentdomain.RosterChangeResult, error) {
	f.record("unenroll", classID, studentID)
	return enrollmentdomain.ResultAbsent, nil
}

func (f *fakeRosterService) AssignTeacher(_ context.Context, classID, teacherID string) (enrollmentdomain.RosterChangeResult, error) {
	f.record("assign", classID, teacherID)
	return enrollmentdomain.ResultAdded, nil
}

func (f *fakeRosterService) UnassignTeacher(_ context.Context, classID, teacherID string) (enrollmentdomain.RosterChangeResult, error) {
	f.record("unassign", classID, teacherID)
	return enrollmentdomain.ResultRemoved, nil
}

func (f *fakeRosterService) Status(_ context.Context, classID, studentID string) (bool, error) {
	if classID == "missing" {
		return false, apperr.NotFound("class", classID)
	}
	return true, nil
}

type fakeInvoiceService struct {
	batch invoicedomain.BatchResult
}

func (f *fakeInvoiceService) IssueInvoice(_ context.Context, paymentID string) (*invoicedomain.InvoiceDocument, error) {
	return nil, &apperr.NotEligibleError{PaymentID: paymentID, Reason: "state PENDING"}
}

func (f *fakeInvoiceService) IssueBatch(context.Context, []string) (invoicedomain.BatchResult, error) {
	return f.batch, nil
}

func (f *fakeInvoiceService) BackfillPending(context.Context, time.Time, int) (invoicedomain.BatchResult, error) {
	return invoicedomain.BatchResult{}, nil
}

func (f *fakeInvoiceService) CountPendingInvoices(context.Context) (int64, error) { return 3, nil }

func (f *fakeInvoiceService) GetInvoice(context.Context, string) (*invoicedomain.InvoiceDocument, error) {
	return &invoicedomain.InvoiceDocument{InvoiceNumber: "INV-20260115-000001"}, nil
}

func (f *fakeInvoiceService) RenderPDF(context.Context, string) (io.Reader, error) {
	return strings.NewReader("%PDF-1.4 test"), nil
}

type testServer struct {
	engine   *gin.Engine
	payments *fakePaymentService
	webhooks *fakeWebhookService
	rosters  *fakeRosterService
	invoices *fakeInvoiceService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewEnforcer(testutil.NewSQLiteDB(t))
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	ts := &testServer{
		engine:   NewEngine(observability.Config{}, nil),
		payments: &fakePaymentService{},
		webhooks: &fakeWebhookService{},
		rosters:  &fakeRosterService{},
		invoices: &fakeInvoiceService{},
	}
	NewServer(ServerParams{
		Gin:        ts.engine,
		Cfg:        config.Config{},
		Log:        zap.NewNop(),
		AuthzSvc:   authz,
		PaymentSvc: ts.payments,
		WebhookSvc: ts.webhooks,
		RosterSvc:  ts.rosters,
		InvoiceSvc: ts.invoices,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, actorID, role string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set(HeaderActorID, actorID)
		req.Header.Set(HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func pendingPayment(studentID string) *paymentdomain.Payment {
	expires := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)
	return &paymentdomain.Payment{
		ID:        42,
		Amount:    decimal.RequireFromString("49.99"),
		Currency:  "EUR",
		Method:    paymentdomain.MethodGateway,
		State:     paymentdomain.StatePending,
		StudentID: studentID,
		ExpiresAt: &expires,
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresActor(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/payments/42", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestCreatePaymentForSelf(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.createFn = func(req paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
		return &paymentdomain.CreatePaymentResult{Payment: pendingPayment(req.StudentID), ClientSecret: "pi_1_secret_x"}, nil
	}

	rec := ts.do(t, http.MethodPost, "/api/payments", map[string]any{
		"amount":      "49.99",
		"currency":    "EUR",
		"student_id":  "stu_1",
		"description": "Piano lessons",
	}, "stu_1", "student")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp["id"])
	assert.Equal(t, "PENDING", resp["state"])
	assert.Equal(t, "pi_1_secret_x", resp["client_secret"])
	assert.Equal(t, "49.99", resp["amount"])
}

func TestCreatePaymentForAnotherStudentForbidden(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.createFn = func(paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}

	rec := ts.do(t, http.MethodPost, "/api/payments", map[string]any{
		"amount": "10", "currency": "EUR", "student_id": "stu_2", "description": "x",
	}, "stu_1", "student")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreatePaymentErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"validation", apperr.Validation("currency", paymentdomain.ErrUnsupportedCurrency), http.StatusBadRequest, "validation_error"},
		{"gateway", &apperr.GatewayError{Op: "create_intent", Err: errors.New("timeout")}, http.StatusBadGateway, "gateway_error"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.payments.createFn = func(paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
				return nil, tt.err
			}
			rec := ts.do(t, http.MethodPost, "/api/payments", map[string]any{
				"amount": "10", "currency": "JPY", "student_id": "stu_1", "description": "x",
			}, "adm_1", "admin")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.typ, decodeError(t, rec).Type)
		})
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.createFn = func(paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResult, error) {
		return nil, apperr.Validation("currency", paymentdomain.ErrUnsupportedCurrency)
	}
	rec := ts.do(t, http.MethodPost, "/api/payments", map[string]any{
		"amount": "10", "currency": "JPY", "student_id": "stu_1", "description": "x",
	}, "stu_1", "student")

	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "currency", payload.Errors[0].Field)
	assert.Equal(t, "unsupported_currency", payload.Errors[0].Code)
}

func TestGetPaymentOwnership(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.getFn = func(id string) (*paymentdomain.PaymentView, error) {
		if id == "404" {
			return nil, apperr.NotFound("payment", id)
		}
		return &paymentdomain.PaymentView{Payment: pendingPayment("stu_1"), Actionable: true}, nil
	}

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/payments/42", nil, "stu_1", "student").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/payments/42", nil, "stu_2", "student").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/payments/42", nil, "adm_1", "admin").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/payments/404", nil, "adm_1", "admin").Code)
}

func TestRefund(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.refundFn = func(id string) (*paymentdomain.Payment, error) {
		return nil, &apperr.InvalidTransitionError{PaymentID: id, From: "PENDING", To: "REFUNDED"}
	}

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/api/payments/42/refund", nil, "stu_1", "student").Code)

	rec := ts.do(t, http.MethodPost, "/api/payments/42/refund", nil, "adm_1", "admin")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Type)
}

func TestWebhookResponses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"processed", nil, http.StatusOK},
		{"dropped transition", &apperr.InvalidTransitionError{IntentID: "pi_1", From: "ERROR", To: "SUCCESS"}, http.StatusOK},
		{"bad signature", paymentdomain.ErrInvalidSignature, http.StatusBadRequest},
		{"unknown intent", apperr.NotFound("payment", "pi_404"), http.StatusNotFound},
		{"unknown provider", paymentdomain.ErrProviderNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.webhooks.err = tt.err

			rec := ts.do(t, http.MethodPost, "/webhooks/stripe", map[string]any{"id": "evt_1"}, "", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "stripe", ts.webhooks.provider)
			assert.JSONEq(t, `{"id":"evt_1"}`, string(ts.webhooks.payload))
		})
	}
}

func TestRosterRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/classes/cls_1/students/stu_1", nil, "tch_1", "teacher")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ADDED", resp["result"])
	assert.Equal(t, true, resp["changed"])

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/api/classes/cls_1/teachers/tch_2", nil, "tch_1", "teacher").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/classes/cls_1/teachers/tch_2", nil, "adm_1", "admin").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, "/api/classes/cls_1/students/stu_1", nil, "stu_1", "student").Code)

	assert.Equal(t, []string{"enroll:cls_1:stu_1", "assign:cls_1:tch_2"}, ts.rosters.calls)
}

func TestEnrollmentStatus(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/classes/cls_1/students/stu_1", nil, "stu_1", "student").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/classes/cls_1/students/stu_2", nil, "stu_1", "student").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/classes/missing/students/stu_1", nil, "tch_1", "teacher").Code)
}

func TestInvoiceRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.invoices.batch = invoicedomain.BatchResult{
		Issued:  []string{"1"},
		Skipped: []string{"2"},
		Failed:  map[string]error{"abc": apperr.Validation("payment_id", errors.New("invalid_id"))},
	}

	rec := ts.do(t, http.MethodPost, "/api/payments/42/invoice", nil, "adm_1", "admin")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_eligible", decodeError(t, rec).Type)

	rec = ts.do(t, http.MethodPost, "/api/invoices/batch", map[string]any{"payment_ids": []string{"1", "2", "abc"}}, "adm_1", "admin")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"issued":["1"],"skipped":["2"],"failed":{"abc":"validation_error"}}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/invoices/pending/count", nil, "stu_1", "student")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDownloadInvoicePDF(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.getFn = func(string) (*paymentdomain.PaymentView, error) {
		return &paymentdomain.PaymentView{Payment: pendingPayment("stu_1")}, nil
	}

	rec := ts.do(t, http.MethodGet, "/api/payments/42/invoice.pdf", nil, "stu_1", "student")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "INV-20260115-000001.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/api/payments/42/invoice.pdf", nil, "stu_9", "student").Code)
}
