package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	tel, err := New(context.Background())
	require.NoError(t, err)

	_, isNoop := tel.MeterProvider().(noop.MeterProvider)
	assert.True(t, isNoop)
	assert.Nil(t, tel.MetricsHandler())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledServesPrometheus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tel, err := New(ctx, WithMetricsEnabled(true), WithServiceVersion("v1.2.3"))
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(ctx) }()

	metrics, err := NewPersistenceMetrics(tel.MeterProvider())
	require.NoError(t, err)
	metrics.RecordWrite(ctx, true)

	handler := tel.MetricsHandler()
	require.NotNil(t, handler)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "source_agent_persistence_writes_total")

	// Shutdown is idempotent
	require.NoError(t, tel.Shutdown(ctx))
	assert.NoError(t, tel.Shutdown(ctx))
}
