package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/domain/session"
	"github.com/danghamo/convoy/pkg/logger"
)

type sent struct {
	driverID     string
	notification jsonrpcx.JSONRPCNotification
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeBroadcaster) BroadcastForDriver(driverID string, n jsonrpcx.JSONRPCNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{driverID: driverID, notification: n})
}

func (f *fakeBroadcaster) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.notification.Method)
	}
	return out
}

func TestSSEEventHandler_Direct(t *testing.T) {
	fb := &fakeBroadcaster{}
	h := NewSSEEventHandler(fb, logger.NewNop())
	ctx := context.Background()
	eta := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, h.HandleArrivalChanged(ctx, &ArrivalChanged{
		SessionID: "s1", DriverID: "drv-1", Arrived: true, DistanceMeters: 120, ETA: &eta,
	}))

	require.Len(t, fb.sent, 1)
	got := fb.sent[0]
	assert.Equal(t, "drv-1", got.driverID)
	assert.Equal(t, "2.0", got.notification.Jsonrpc)
	assert.Equal(t, MethodArrivalChanged, got.notification.Method)

	params := got.notification.Params.(map[string]interface{})
	assert.Equal(t, true, params["arrived"])
	assert.Equal(t, "2026-05-01T10:00:00Z", params["eta"])
}

func TestBus_DeliversToSSEHandler(t *testing.T) {
	bus, err := NewBus(BusConfig{CloseTimeout: time.Second}, logger.NewNop())
	require.NoError(t, err)

	fb := &fakeBroadcaster{}
	require.NoError(t, bus.AddHandlers(NewSSEEventHandler(fb, logger.NewNop()).Handlers()...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()
	<-bus.Running()

	now := time.Now()
	require.NoError(t, bus.Publish(ctx, &TrackingStarted{SessionID: "s1", DriverID: "drv-1", Timestamp: now}))
	require.NoError(t, bus.Publish(ctx, &LocationReported{SessionID: "s1", DriverID: "drv-1", Position: session.Position{}, Timestamp: now}))
	require.NoError(t, bus.Publish(ctx, &TrackingStopped{SessionID: "s1", DriverID: "drv-1", Reason: "requested", Timestamp: now}))

	assert.Eventually(t, func() bool {
		return len(fb.methods()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{MethodTrackingStarted, MethodLocationReported, MethodTrackingStopped}, fb.methods())

	require.NoError(t, bus.Close())
}
