package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTick(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	c.ObserveTick("reported", false, "")
	c.ObserveTick("reported", true, "")
	c.ObserveTick("failed", false, "NETWORK_FAILURE")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Ticks.WithLabelValues("reported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Ticks.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ReportFailures.WithLabelValues("NETWORK_FAILURE")))
}

func TestNewCollector_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	first.SetActiveSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(second.ActiveSessions))

	second.ObserveArrival(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.ArrivalChanges.WithLabelValues("true")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveTick("reported", true, "x")
		c.ObserveArrival(false)
		c.SetActiveSessions(1)
	})

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareAndHandler(t *testing.T) {
	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/tracking.Get", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/api/v1/tracking.Get", "404")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "convoy_http_request_duration_seconds"))
}
