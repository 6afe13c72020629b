package events

import (
	"time"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/session"
)

// TrackingStarted is published when a session's loop starts
type TrackingStarted struct {
	SessionID    string          `json:"session_id"`
	DriverID     string          `json:"driver_id"`
	ShipmentID   string          `json:"shipment_id,omitempty"`
	Phase        string          `json:"phase,omitempty"`
	Target       *geo.Coordinate `json:"target,omitempty"`
	RadiusMeters float64         `json:"radius_meters"`
	Timestamp    time.Time       `json:"timestamp"`
	RequestID    string          `json:"request_id"`
}

// LocationReported is published after a successful location PUT
type LocationReported struct {
	SessionID      string           `json:"session_id"`
	DriverID       string           `json:"driver_id"`
	Position       session.Position `json:"position"`
	DistanceMeters *float64         `json:"distance_meters,omitempty"`
	// Changes is a JSON merge patch of the session snapshot
	Changes   map[string]interface{} `json:"changes,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id"`
}

// LocationReportFailed is published when a tick could not report
type LocationReportFailed struct {
	SessionID string           `json:"session_id"`
	DriverID  string           `json:"driver_id"`
	Position  session.Position `json:"position"`
	Kind      string           `json:"kind"`
	Error     string           `json:"error"`
	Timestamp time.Time        `json:"timestamp"`
	RequestID string           `json:"request_id"`
}

// ArrivalChanged is published when the arrived flag flips
type ArrivalChanged struct {
	SessionID      string     `json:"session_id"`
	DriverID       string     `json:"driver_id"`
	ShipmentID     string     `json:"shipment_id,omitempty"`
	Phase          string     `json:"phase,omitempty"`
	Arrived        bool       `json:"arrived"`
	DistanceMeters float64    `json:"distance_meters"`
	ETA            *time.Time `json:"eta,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	RequestID      string     `json:"request_id"`
}

// TrackingStopped is published once per session when it stops
type TrackingStopped struct {
	SessionID string           `json:"session_id"`
	DriverID  string           `json:"driver_id"`
	Reason    string           `json:"reason"`
	Counters  session.Counters `json:"counters"`
	Timestamp time.Time        `json:"timestamp"`
	RequestID string           `json:"request_id"`
}
