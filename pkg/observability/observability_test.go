package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Status(t *testing.T) {
	tests := []struct {
		name   string
		checks []*HealthCheck
		want   HealthStatus
	}{
		{
			name: "no checks",
			want: HealthStatusHealthy,
		},
		{
			name:   "passing store",
			checks: []*HealthCheck{StoreCheck(func(context.Context) error { return nil })},
			want:   HealthStatusHealthy,
		},
		{
			name: "failing non-critical",
			checks: []*HealthCheck{
				OptionalCheck("conversation_log", func(context.Context) error { return errors.New("read-only") }),
			},
			want: HealthStatusDegraded,
		},
		{
			name: "failing critical",
			checks: []*HealthCheck{
				OptionalCheck("conversation_log", func(context.Context) error { return errors.New("read-only") }),
				StoreCheck(func(context.Context) error { return errors.New("down") }),
			},
			want: HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("test")
			for _, c := range tt.checks {
				hc.RegisterCheck(c)
			}
			resp := hc.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck(&HealthCheck{
		Name:     "hang",
		Timeout:  10 * time.Millisecond,
		Critical: true,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["hang"].Message, "deadline")
}

func TestServer_Endpoints(t *testing.T) {
	InitMetrics()
	hc := NewHealthChecker("v1")
	hc.RegisterCheck(StoreCheck(func(context.Context) error { return errors.New("down") }))
	hc.SetSessionCounter(func() int { return 4 })
	srv := NewServer(":0", hc)

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusServiceUnavailable},
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "v1", body.Version)
	assert.Equal(t, 4, body.ActiveSessions)
	assert.Equal(t, "down", body.Checks["memory_store"].Message)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(summarizationsTotal.WithLabelValues("manual", "degraded"))
	RecordSummarization("manual", "degraded")
	assert.Equal(t, before+1, testutil.ToFloat64(summarizationsTotal.WithLabelValues("manual", "degraded")))

	before = testutil.ToFloat64(understandingTotal.WithLabelValues("fallback", "false"))
	RecordUnderstanding("fallback", false)
	assert.Equal(t, before+1, testutil.ToFloat64(understandingTotal.WithLabelValues("fallback", "false")))

	SetActiveSessions(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(activeSessions))

	RecordTurn("ok", time.Millisecond)
	ObserveWindowTokens(120)
	RecordLLMCall("respond", "ok", time.Millisecond)
	RecordPersistenceError("save")
	assert.Equal(t, float64(1), testutil.ToFloat64(persistenceErrorsTotal.WithLabelValues("save")))
}
