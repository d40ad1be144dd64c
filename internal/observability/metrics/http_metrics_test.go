package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry, Config{ServiceName: "classpay"})
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/payments/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments/"+id, nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("/api/payments/:id", http.MethodGet, "204"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
}

func TestHTTPMetricsDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := newHTTPMetrics(registry, Config{}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := newHTTPMetrics(registry, Config{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
