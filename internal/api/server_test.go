package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/convoy/internal/api/handlers"
	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/backend"
	"github.com/danghamo/convoy/internal/domain/auth"
	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/session"
	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/internal/location"
	"github.com/danghamo/convoy/internal/metrics"
	"github.com/danghamo/convoy/internal/tracker"
	"github.com/danghamo/convoy/pkg/logger"
	"github.com/danghamo/convoy/pkg/sse"
)

var depot = geo.Coordinate{Latitude: 17.3850, Longitude: 78.4867}

type fakeBackend struct {
	reports atomic.Int64
	uploads []backend.Document
}

func (f *fakeBackend) ReportLocation(context.Context, string, location.Fix) error {
	f.reports.Add(1)
	return nil
}

func (f *fakeBackend) GetShipment(_ context.Context, id string) (*backend.Shipment, error) {
	if id != "SHP-1" {
		return nil, shared.ErrNotFound("shipment")
	}
	return &backend.Shipment{
		ID:     id,
		Status: "assigned",
		Pickup: depot,
		Drop:   geo.Coordinate{Latitude: math.NaN(), Longitude: math.NaN()},
	}, nil
}

func (f *fakeBackend) GetDriver(_ context.Context, id string) (*backend.Driver, error) {
	return &backend.Driver{ID: id, Name: "Ravi", Location: depot}, nil
}

func (f *fakeBackend) UploadDocument(_ context.Context, _ string, doc backend.Document) (backend.UploadResult, error) {
	f.uploads = append(f.uploads, doc)
	return backend.UploadResult{Attempts: 1, StatusCode: http.StatusCreated}, nil
}

type testServer struct {
	server  *Server
	backend *fakeBackend
	manager *tracker.Manager
	devices *location.DeviceRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	fb := &fakeBackend{}
	devices := location.NewDeviceRegistry(time.Minute)
	manager, err := tracker.NewManager(tracker.ManagerConfig{
		Interval:      20 * time.Millisecond,
		SampleTimeout: 10 * time.Millisecond,
		Fallback:      depot,
	}, tracker.Dependencies{
		Locations:  location.StaticSource{Provider: location.StaticProvider{Coordinate: depot}},
		Reporter:   fb,
		Repository: session.NewMemoryRepository(),
		Shipments:  fb,
		Metrics:    collector,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	hash, err := auth.NewHashedPassword("s3cret-pass")
	require.NoError(t, err)
	operator, err := auth.NewOperator("operator", hash.Hash())
	require.NoError(t, err)

	broadcaster := sse.NewSSEBroadcaster(log)
	t.Cleanup(broadcaster.Close)

	s, err := NewServer(ServerConfig{Host: "localhost", Port: 0}, Dependencies{
		Sessions:    manager,
		Shipments:   fb,
		Drivers:     fb,
		Devices:     devices,
		Operator:    operator,
		JWT:         auth.NewJWTService("server-test-secret", "convoy", time.Hour),
		Broadcaster: broadcaster,
		Metrics:     collector,
		Info:        handlers.NewServerHandler("test", "static", time.Second, "gochannel", manager.ActiveSessions),
	}, log)
	require.NoError(t, err)

	return &testServer{server: s, backend: fb, manager: manager, devices: devices}
}

func (ts *testServer) call(t *testing.T, method, token string, params any) jsonrpcx.JSONRPCResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/"+method, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp jsonrpcx.JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	resp := ts.call(t, "auth.Token", "", map[string]string{"username": "operator", "password": "s3cret-pass"})
	require.Nil(t, resp.Error)

	var token handlers.TokenResponse
	remarshal(t, resp.Result, &token)
	assert.Equal(t, "Bearer", token.TokenType)
	require.NotEmpty(t, token.Token)
	return token.Token
}

func remarshal(t *testing.T, in, out any) {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestNewServer_RequiresCoreDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{}, Dependencies{}, logger.NewNop())
	assert.Error(t, err)
}

func TestAuthToken_RejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.call(t, "auth.Token", "", map[string]string{"username": "operator", "password": "nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.Unauthorized, resp.Error.Code)
}

func TestProtectedRoutes_NeedToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.call(t, "tracking.List", "", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.Unauthorized, resp.Error.Code)

	resp = ts.call(t, "tracking.List", "not-a-jwt", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.Unauthorized, resp.Error.Code)
}

func TestTrackingLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	resp := ts.call(t, "tracking.Start", token, map[string]any{
		"driver_id":   "DRV-1",
		"shipment_id": "SHP-1",
	})
	require.Nil(t, resp.Error)

	var started session.Session
	remarshal(t, resp.Result, &started)
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "DRV-1", started.DriverID)
	assert.Equal(t, "pickup", started.Phase)
	assert.Equal(t, session.StateRunning, started.State)

	// The static source sits on the pickup point
	assert.Eventually(t, func() bool {
		resp := ts.call(t, "tracking.Get", token, map[string]string{"session_id": started.ID.String()})
		if resp.Error != nil {
			return false
		}
		var s session.Session
		remarshal(t, resp.Result, &s)
		return s.Arrived && s.Counters.Reported > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Positive(t, ts.backend.reports.Load())

	resp = ts.call(t, "tracking.List", token, map[string]any{"driver_id": "DRV-1", "running_only": true})
	require.Nil(t, resp.Error)
	var list handlers.ListSessionsResponse
	remarshal(t, resp.Result, &list)
	assert.Equal(t, 1, list.Total)

	resp = ts.call(t, "tracking.Stop", token, map[string]string{"session_id": started.ID.String()})
	require.Nil(t, resp.Error)
	var stopped session.Session
	remarshal(t, resp.Result, &stopped)
	assert.Equal(t, session.StateStopped, stopped.State)
	assert.Equal(t, tracker.ReasonRequested, stopped.StopReason)
	assert.Equal(t, 0, ts.manager.ActiveSessions())

	resp = ts.call(t, "tracking.Stop", token, map[string]string{"session_id": "missing"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.NotFound, resp.Error.Code)
}

func TestTrackingStart_InvalidParams(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	resp := ts.call(t, "tracking.Start", token, map[string]any{"driver_id": ""})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.InvalidParams, resp.Error.Code)

	resp = ts.call(t, "tracking.Get", token, map[string]string{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.InvalidParams, resp.Error.Code)
}

func TestGeoDistance(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	resp := ts.call(t, "geo.Distance", token, map[string]any{
		"from": depot,
		"to":   geo.Offset(depot, 300, 0),
	})
	require.Nil(t, resp.Error)

	var d handlers.DistanceResponse
	remarshal(t, resp.Result, &d)
	assert.InDelta(t, 300, d.DistanceMeters, 1)
	assert.Equal(t, geo.DefaultArrivalRadiusMeters, d.RadiusMeters)
	assert.True(t, d.WithinRadius)

	resp = ts.call(t, "geo.Distance", token, map[string]any{
		"from": map[string]float64{"latitude": 91, "longitude": 0},
		"to":   depot,
	})
	require.NotNil(t, resp.Error)

	// No routing provider configured
	resp = ts.call(t, "geo.Route", token, map[string]any{"from": depot, "to": depot})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.MethodNotFound, resp.Error.Code)
}

func TestShipmentEndpoints(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	resp := ts.call(t, "shipment.Get", token, map[string]string{"shipment_id": "SHP-1"})
	require.Nil(t, resp.Error)
	var sh handlers.ShipmentResponse
	remarshal(t, resp.Result, &sh)
	assert.Equal(t, "pickup", sh.Phase)
	require.NotNil(t, sh.Pickup)
	assert.Nil(t, sh.Drop)

	resp = ts.call(t, "shipment.UploadDocument", token, map[string]string{
		"shipment_id": "SHP-1",
		"name":        "pod.txt",
		"content":     "ZGVsaXZlcmVk",
	})
	require.Nil(t, resp.Error)
	require.Len(t, ts.backend.uploads, 1)
	assert.Equal(t, "delivered", string(ts.backend.uploads[0].Content))

	resp = ts.call(t, "shipment.UploadDocument", token, map[string]string{
		"shipment_id": "SHP-1",
		"name":        "pod.txt",
		"content":     "%%%",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.InvalidParams, resp.Error.Code)
}

func TestDriverDeviceBridge(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	resp := ts.call(t, "driver.SetPermission", token, map[string]any{"driver_id": "DRV-9", "granted": true})
	require.Nil(t, resp.Error)

	resp = ts.call(t, "driver.PushFix", token, map[string]any{
		"driver_id": "DRV-9",
		"latitude":  depot.Latitude,
		"longitude": depot.Longitude,
	})
	require.Nil(t, resp.Error)

	provider, permissions, err := ts.devices.ProviderFor("DRV-9")
	require.NoError(t, err)
	granted, err := permissions.LocationPermitted(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
	fix, err := provider.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, depot.Latitude, fix.Coordinate.Latitude, 1e-9)

	resp = ts.call(t, "driver.Get", token, map[string]string{"driver_id": "DRV-9"})
	require.Nil(t, resp.Error)
	var d handlers.DriverResponse
	remarshal(t, resp.Result, &d)
	assert.Equal(t, "Ravi", d.Name)
}

func TestServerInfo(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.call(t, "server.Info", "", nil)
	require.Nil(t, resp.Error)
	var info handlers.ServerInfo
	remarshal(t, resp.Result, &info)
	assert.Equal(t, "static", info.Source)
	assert.Equal(t, int64(1), info.IntervalSeconds)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "convoy_http_requests_total"))
}

func TestTrackingStream_NeedsToken(t *testing.T) {
	ts := newTestServer(t)

	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stream/tracking", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
