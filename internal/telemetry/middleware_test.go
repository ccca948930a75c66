package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestControlMetrics_Middleware(t *testing.T) {
	t.Parallel()

	t.Run("passes through when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *ControlMetrics
		wrapped := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	})

	t.Run("records route pattern and status", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewControlMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)

		r := chi.NewRouter()
		r.Use(metrics.Middleware)
		r.Delete("/v1/sources/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sources/12", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))

		var counter *metricdata.Sum[int64]
		for _, scope := range rm.ScopeMetrics {
			if scope.Scope.Name != ControlMetricsMeterName {
				continue
			}
			for _, m := range scope.Metrics {
				if m.Name == "source_agent_control_requests_total" {
					sum, ok := m.Data.(metricdata.Sum[int64])
					require.True(t, ok)
					counter = &sum
				}
			}
		}
		require.NotNil(t, counter, "expected request counter")
		require.Len(t, counter.DataPoints, 1)

		route, ok := counter.DataPoints[0].Attributes.Value("route")
		require.True(t, ok)
		assert.Equal(t, "/v1/sources/{id}", route.AsString())
		status, ok := counter.DataPoints[0].Attributes.Value("status_code")
		require.True(t, ok)
		assert.Equal(t, "404", status.AsString())
	})
}

func TestRoutePattern_WithoutChiContext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, unknownRoute, routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))
}
