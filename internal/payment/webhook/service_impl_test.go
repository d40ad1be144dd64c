package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/classpay/internal/apperr"
	"github.com/smallbiznis/classpay/internal/clock"
	"github.com/smallbiznis/classpay/internal/config"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	"github.com/smallbiznis/classpay/internal/payment/adapters"
	"github.com/smallbiznis/classpay/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/classpay/internal/payment/repository"
	paymentwebhook "github.com/smallbiznis/classpay/internal/payment/webhook"
	"github.com/smallbiznis/classpay/internal/testutil"
)

const webhookSecret = "whsec_test"

type flakyHandler struct {
	mu       sync.Mutex
	calls    int
	failNext int
}

func (h *flakyHandler) OnPaymentSucceeded(ctx context.Context, p *paymentdomain.Payment) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failNext > 0 {
		h.failNext--
		return errors.New("process crashed before enrollment")
	}
	return nil
}

func (h *flakyHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	handler *flakyHandler
	reader  *sdkmetric.ManualReader
	svc     paymentdomain.WebhookService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	reader := sdkmetric.NewManualReader()
	metrics, err := obsmetrics.New(obsmetrics.Config{ServiceName: "classpay"}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	f := &fixture{
		db:      testutil.NewSQLiteDB(t),
		node:    node,
		clock:   clock.NewFakeClock(time.Now().UTC()),
		handler: &flakyHandler{},
		reader:  reader,
	}
	f.svc = paymentwebhook.NewService(paymentwebhook.Params{
		DB:         f.db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      f.clock,
		Repo:       paymentrepo.Provide(),
		Adapters:   adapters.NewRegistry(adapters.Provider{Factory: stripe.NewFactory(), WebhookSecret: webhookSecret}),
		OnSuccess:  f.handler,
		Policy:     config.NewStaticPaymentPolicyHolder(config.DefaultPaymentPolicy()),
		ObsMetrics: metrics,
	})
	return f
}

func (f *fixture) seedPending(t *testing.T, intentID, classID string) *paymentdomain.Payment {
	t.Helper()
	p, err := paymentdomain.NewPendingPayment(paymentdomain.NewPayment{
		ID:          f.node.Generate(),
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    "EUR",
		StudentID:   "stu-1",
		ClassID:     classID,
		Description: "Spring term",
		Now:         f.clock.Now(),
	}, intentID, 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, paymentrepo.Provide().Insert(context.Background(), f.db, p))
	return p
}

func (f *fixture) load(t *testing.T, id snowflake.ID) *paymentdomain.Payment {
	t.Helper()
	p, err := paymentrepo.Provide().FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestSucceededEnrollsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPending(t, "pi_1", "class-1")

	evt := paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_1", ChargeID: "ch_1"}
	require.NoError(t, f.svc.HandleEvent(ctx, evt))

	got := f.load(t, p.ID)
	assert.Equal(t, paymentdomain.StateSuccess, got.State)
	require.NotNil(t, got.GatewayChargeID)
	assert.Equal(t, "ch_1", *got.GatewayChargeID)
	assert.NotNil(t, got.EnrollmentAppliedAt)
	assert.Equal(t, 1, f.handler.Calls())

	evt.ChargeID = "ch_2"
	require.NoError(t, f.svc.HandleEvent(ctx, evt))
	got = f.load(t, p.ID)
	assert.Equal(t, "ch_1", *got.GatewayChargeID)
	assert.Equal(t, 1, f.handler.Calls())
}

func TestRedeliveryCompletesInterruptedEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPending(t, "pi_2", "class-1")
	f.handler.failNext = 1

	evt := paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_2"}
	err := f.svc.HandleEvent(ctx, evt)
	require.Error(t, err)

	got := f.load(t, p.ID)
	assert.Equal(t, paymentdomain.StateSuccess, got.State)
	assert.Nil(t, got.EnrollmentAppliedAt)

	require.NoError(t, f.svc.HandleEvent(ctx, evt))
	got = f.load(t, p.ID)
	assert.NotNil(t, got.EnrollmentAppliedAt)
	assert.Equal(t, 2, f.handler.Calls())

	require.NoError(t, f.svc.HandleEvent(ctx, evt))
	assert.Equal(t, 2, f.handler.Calls())
}

func TestFailedThenSucceededIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPending(t, "pi_3", "class-1")

	require.NoError(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeFailed, IntentID: "pi_3", FailureReason: "card_declined"}))
	got := f.load(t, p.ID)
	assert.Equal(t, paymentdomain.StateError, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "card_declined", *got.FailureReason)

	require.NoError(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_3"}))
	got = f.load(t, p.ID)
	assert.Equal(t, paymentdomain.StateError, got.State)
	assert.Equal(t, 0, f.handler.Calls())
	assert.Equal(t, int64(1), f.counter(t, "classpay_payment_invalid_transitions_total"))
}

func TestProcessingThenSucceeded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPending(t, "pi_4", "")

	require.NoError(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeProcessing, IntentID: "pi_4"}))
	assert.Equal(t, paymentdomain.StateProcessing, f.load(t, p.ID).State)

	require.NoError(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_4"}))
	got := f.load(t, p.ID)
	assert.Equal(t, paymentdomain.StateSuccess, got.State)
	assert.Nil(t, got.EnrollmentAppliedAt, "plain payments carry no enrollment marker")
	assert.Equal(t, 0, f.handler.Calls())
	assert.Equal(t, int64(2), f.counter(t, "classpay_payment_transitions_total"))
}

func TestHandleEventErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_missing"})
	var notFound *paymentdomain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "pi_missing", notFound.Key)

	err = f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: "refunded", IntentID: "pi_1"})
	assert.True(t, apperr.IsValidation(err))

	err = f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded})
	assert.True(t, apperr.IsValidation(err))
}

func TestIngestWebhookDedupesDeliveries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedPending(t, "pi_5", "class-1")

	payload := []byte(`{"id":"evt_5","type":"payment_intent.succeeded","data":{"object":{"id":"pi_5","latest_charge":"ch_5"}}}`)
	headers := signedHeaders(payload, f.clock.Now().Unix())

	require.NoError(t, f.svc.IngestWebhook(ctx, "stripe", payload, headers))
	require.NoError(t, f.svc.IngestWebhook(ctx, "stripe", payload, headers))

	assert.Equal(t, int64(1), testutil.Count(t, f.db, "SELECT COUNT(1) FROM payment_events WHERE processed_at IS NOT NULL"))
	assert.Equal(t, paymentdomain.StateSuccess, f.load(t, p.ID).State)
	assert.Equal(t, 1, f.handler.Calls())
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "pi_6", "")

	payload := []byte(`{"id":"evt_6","type":"payment_intent.succeeded","data":{"object":{"id":"pi_6"}}}`)
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", f.clock.Now().Unix(), "deadbeef"))

	err := f.svc.IngestWebhook(ctx, "stripe", payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "SELECT COUNT(1) FROM payment_events"))
}

func TestIngestWebhookIgnoresUnhandledTypes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload := []byte(`{"id":"evt_7","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	require.NoError(t, f.svc.IngestWebhook(ctx, "stripe", payload, signedHeaders(payload, f.clock.Now().Unix())))
	assert.Equal(t, int64(0), testutil.Count(t, f.db, "SELECT COUNT(1) FROM payment_events"))
}

func TestIngestWebhookUnknownIntentIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload := []byte(`{"id":"evt_8","type":"payment_intent.succeeded","data":{"object":{"id":"pi_unknown"}}}`)
	headers := signedHeaders(payload, f.clock.Now().Unix())

	err := f.svc.IngestWebhook(ctx, "stripe", payload, headers)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "SELECT COUNT(1) FROM payment_events WHERE processed_at IS NULL"))

	f.seedPending(t, "pi_unknown", "")
	require.NoError(t, f.svc.IngestWebhook(ctx, "stripe", payload, headers))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, "SELECT COUNT(1) FROM payment_events WHERE processed_at IS NOT NULL"))
}

func TestReconcileEnrollments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.seedPending(t, "pi_9", "class-1")
	second := f.seedPending(t, "pi_10", "class-2")
	f.seedPending(t, "pi_11", "class-3")

	f.handler.failNext = 2
	require.Error(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_9"}))
	require.Error(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_10"}))

	result, err := f.svc.ReconcileEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Applied)
	assert.NotNil(t, f.load(t, first.ID).EnrollmentAppliedAt)
	assert.NotNil(t, f.load(t, second.ID).EnrollmentAppliedAt)

	result, err = f.svc.ReconcileEnrollments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 4, f.handler.Calls())
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedPending(t, "pi_12", "class-1")
	f.seedPending(t, "pi_13", "class-1")

	f.handler.failNext = 2
	require.Error(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_12"}))
	require.Error(t, f.svc.HandleEvent(ctx, paymentdomain.GatewayEvent{Type: paymentdomain.EventTypeSucceeded, IntentID: "pi_13"}))

	f.handler.failNext = 1
	result, err := f.svc.ReconcileEnrollments(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Failed)
}

func signedHeaders(payload []byte, ts int64) http.Header {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, string(payload))))
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}
