package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
	"github.com/smallbiznis/classpay/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := newCore(Config{Level: "loud"}, zapcore.AddSync(&testWriter{}))
	assert.Error(t, err)

	_, err = newCore(Config{Format: "console"}, zapcore.AddSync(&testWriter{}))
	assert.NoError(t, err)
}

func TestWithContextAddsClasspayScope(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")
	ctx = obscontext.WithActor(ctx, obscontext.Actor{ID: "stu_1", Role: "student"})
	ctx = obscontext.WithPayment(ctx, obscontext.PaymentScope{ID: "42"})
	ctx = obscontext.WithClass(ctx, obscontext.ClassScope{ClassID: "c1", MemberRef: "stu_1"})

	FromContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "cid-1", fields["correlation_id"])
	assert.Equal(t, "stu_1", fields["actor_id"])
	assert.Equal(t, "student", fields["actor_role"])
	assert.Equal(t, "42", fields["payment_id"])
	assert.Equal(t, "c1", fields["class_id"])
	assert.Equal(t, "stu_1", fields["member_ref"])
	assert.NotContains(t, fields, "trace_id")
}

func TestForPaymentMergesWithContextScope(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	ctx := obscontext.WithPayment(context.Background(), obscontext.PaymentScope{ID: "42"})
	ForPayment(ctx, zap.L(), "", "pi_1").Info("transition")

	entry := logs.All()[0]
	assert.Equal(t, "42", entry.ContextMap()["payment_id"])
	assert.Equal(t, "pi_1", entry.ContextMap()["gateway_intent_id"])
	// One payment_id field only.
	count := 0
	for _, f := range entry.Context {
		if f.Key == "payment_id" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGinMiddlewareScopesPaymentRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := observe(t, zapcore.DebugLevel)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/api/payments/:id", func(c *gin.Context) {
		FromContext(c.Request.Context()).Info("handler")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/payments/42", nil)
	req.Header.Set(HeaderRequestID, "req-9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-9", w.Header().Get(HeaderRequestID))
	require.Equal(t, 2, logs.Len())
	handlerFields := logs.All()[0].ContextMap()
	assert.Equal(t, "42", handlerFields["payment_id"])
	assert.Equal(t, "req-9", handlerFields["correlation_id"])

	request := logs.FilterMessage("http_request").All()
	require.Len(t, request, 1)
	assert.Equal(t, "/api/payments/:id", request[0].ContextMap()["route"])
	assert.Equal(t, int64(http.StatusNoContent), request[0].ContextMap()["status"])
}

func TestGinMiddlewareScopesClassRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := observe(t, zapcore.DebugLevel)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/api/classes/:id/teachers/:teacherId", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/classes/c1/teachers/t1", nil))

	fields := logs.FilterMessage("http_request").All()[0].ContextMap()
	assert.Equal(t, "c1", fields["class_id"])
	assert.Equal(t, "t1", fields["member_ref"])
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/metrics", http.StatusOK))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/api/payments", http.StatusCreated))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/api/payments", http.StatusBadRequest))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/webhooks/:provider", http.StatusBadRequest))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/webhooks/:provider", http.StatusInternalServerError))
}

var errLostRace = errors.New("could not serialize access")

func TestGormLoggerLevels(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	cfg := DefaultGormLoggerConfig()
	cfg.Retryable = func(err error) bool { return errors.Is(err, errLostRace) }
	l := NewGormLogger(cfg)
	query := func() (string, int64) { return "UPDATE payments SET state = ? WHERE id = ?", 1 }

	l.Trace(context.Background(), time.Now(), query, errLostRace)
	l.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	l.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now(), query, nil)
	l.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "payments", entries[2].ContextMap()["table"])
	assert.Equal(t, "UPDATE", entries[2].ContextMap()["operation"])

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	assert.Equal(t, 3, logs.Len())
}

type testWriter struct{}

func (*testWriter) Write(p []byte) (int, error) { return len(p), nil }
