package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/pkg/logger"
)

// Notification methods pushed to stream subscribers
const (
	MethodTrackingStarted  = "tracking.started"
	MethodLocationReported = "tracking.location.reported"
	MethodLocationFailed   = "tracking.location.failed"
	MethodArrivalChanged   = "tracking.arrival.changed"
	MethodTrackingStopped  = "tracking.stopped"
)

// SSEBroadcaster interface for broadcasting SSE messages
type SSEBroadcaster interface {
	BroadcastForDriver(driverID string, notification jsonrpcx.JSONRPCNotification)
}

// SSEEventHandler turns tracking events into JSON-RPC notifications
type SSEEventHandler struct {
	broadcaster SSEBroadcaster
	logger      *logger.Logger
}

// NewSSEEventHandler creates a new SSE event handler
func NewSSEEventHandler(broadcaster SSEBroadcaster, log *logger.Logger) *SSEEventHandler {
	return &SSEEventHandler{
		broadcaster: broadcaster,
		logger:      log.WithComponent("sse-event-handler"),
	}
}

// Handlers returns the handlers to register with the event processor
func (h *SSEEventHandler) Handlers() []cqrs.EventHandler {
	return []cqrs.EventHandler{
		cqrs.NewEventHandler("SSETrackingStarted", h.HandleTrackingStarted),
		cqrs.NewEventHandler("SSELocationReported", h.HandleLocationReported),
		cqrs.NewEventHandler("SSELocationReportFailed", h.HandleLocationReportFailed),
		cqrs.NewEventHandler("SSEArrivalChanged", h.HandleArrivalChanged),
		cqrs.NewEventHandler("SSETrackingStopped", h.HandleTrackingStopped),
	}
}

func (h *SSEEventHandler) send(driverID, method string, params map[string]interface{}) {
	h.broadcaster.BroadcastForDriver(driverID, jsonrpcx.NewNotification(method, params))
	h.logger.Debug("Tracking notification sent",
		zap.String("method", method),
		zap.String("driverId", driverID))
}

// HandleTrackingStarted handles TrackingStarted
func (h *SSEEventHandler) HandleTrackingStarted(ctx context.Context, event *TrackingStarted) error {
	h.send(event.DriverID, MethodTrackingStarted, map[string]interface{}{
		"session_id":    event.SessionID,
		"driver_id":     event.DriverID,
		"shipment_id":   event.ShipmentID,
		"phase":         event.Phase,
		"target":        event.Target,
		"radius_meters": event.RadiusMeters,
		"timestamp":     event.Timestamp.Format(time.RFC3339),
	})
	return nil
}

// HandleLocationReported sends the position plus the snapshot changes
func (h *SSEEventHandler) HandleLocationReported(ctx context.Context, event *LocationReported) error {
	h.send(event.DriverID, MethodLocationReported, map[string]interface{}{
		"session_id":      event.SessionID,
		"driver_id":       event.DriverID,
		"position":        event.Position,
		"distance_meters": event.DistanceMeters,
		"changes":         event.Changes,
		"timestamp":       event.Timestamp.Format(time.RFC3339),
		"request_id":      event.RequestID,
	})
	return nil
}

// HandleLocationReportFailed handles LocationReportFailed
func (h *SSEEventHandler) HandleLocationReportFailed(ctx context.Context, event *LocationReportFailed) error {
	h.send(event.DriverID, MethodLocationFailed, map[string]interface{}{
		"session_id": event.SessionID,
		"driver_id":  event.DriverID,
		"kind":       event.Kind,
		"error":      event.Error,
		"timestamp":  event.Timestamp.Format(time.RFC3339),
	})
	return nil
}

// HandleArrivalChanged handles ArrivalChanged
func (h *SSEEventHandler) HandleArrivalChanged(ctx context.Context, event *ArrivalChanged) error {
	params := map[string]interface{}{
		"session_id":      event.SessionID,
		"driver_id":       event.DriverID,
		"shipment_id":     event.ShipmentID,
		"phase":           event.Phase,
		"arrived":         event.Arrived,
		"distance_meters": event.DistanceMeters,
		"timestamp":       event.Timestamp.Format(time.RFC3339),
	}
	if event.ETA != nil {
		params["eta"] = event.ETA.Format(time.RFC3339)
	}
	h.send(event.DriverID, MethodArrivalChanged, params)
	return nil
}

// HandleTrackingStopped handles TrackingStopped
func (h *SSEEventHandler) HandleTrackingStopped(ctx context.Context, event *TrackingStopped) error {
	h.send(event.DriverID, MethodTrackingStopped, map[string]interface{}{
		"session_id": event.SessionID,
		"driver_id":  event.DriverID,
		"reason":     event.Reason,
		"counters":   event.Counters,
		"timestamp":  event.Timestamp.Format(time.RFC3339),
	})
	return nil
}
