package session

import (
	"time"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
)

// State of a tracking session
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Counters tally tick outcomes
type Counters struct {
	Reported int64 `json:"reported"`
	Failed   int64 `json:"failed"`
	Skipped  int64 `json:"skipped"`
	Fallback int64 `json:"fallback"`
}

// Position is the last position a session reported
type Position struct {
	Coordinate     geo.Coordinate `json:"coordinate"`
	AccuracyMeters float64        `json:"accuracy_meters"`
	Timestamp      time.Time      `json:"timestamp"`
	Fallback       bool           `json:"fallback"`
}

// Session is the snapshot of one driver's tracking run
type Session struct {
	ID         shared.ID `json:"id"`
	DriverID   string    `json:"driver_id"`
	ShipmentID string    `json:"shipment_id,omitempty"`
	Phase      string    `json:"phase,omitempty"`

	Target           *geo.Coordinate `json:"target,omitempty"`
	RadiusMeters     float64         `json:"radius_meters"`
	ExitMarginMeters float64         `json:"exit_margin_meters"`
	Arrived          bool            `json:"arrived"`

	LastPosition       *Position  `json:"last_position,omitempty"`
	LastDistanceMeters *float64   `json:"last_distance_meters,omitempty"`
	LastErrorKind      string     `json:"last_error_kind,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	ETA                *time.Time `json:"eta,omitempty"`
	RouteLengthMeters  int        `json:"route_length_meters,omitempty"`

	Counters Counters `json:"counters"`
	State    State    `json:"state"`

	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewSession creates a running session. Target may be nil when no arrival
// check is wanted.
func NewSession(driverID, shipmentID string, target *geo.Coordinate, radiusMeters, exitMarginMeters float64) (*Session, error) {
	if driverID == "" {
		return nil, shared.ErrInvalidInput("driver id is required")
	}
	if target != nil {
		if err := target.Validate(); err != nil {
			return nil, err
		}
		t := *target
		target = &t
	}
	if radiusMeters <= 0 {
		radiusMeters = geo.DefaultArrivalRadiusMeters
	}
	if exitMarginMeters < 0 {
		return nil, shared.ErrInvalidInput("exit margin cannot be negative")
	}

	now := time.Now()
	return &Session{
		ID:               shared.NewID(),
		DriverID:         driverID,
		ShipmentID:       shipmentID,
		Target:           target,
		RadiusMeters:     radiusMeters,
		ExitMarginMeters: exitMarginMeters,
		State:            StateRunning,
		StartedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// IsRunning reports whether the session still accepts tick updates
func (s *Session) IsRunning() bool {
	return s.State == StateRunning
}

// Stop marks the session stopped. It returns false if it already was.
func (s *Session) Stop(reason string, at time.Time) bool {
	if s.State == StateStopped {
		return false
	}
	s.State = StateStopped
	s.StoppedAt = &at
	s.StopReason = reason
	s.UpdatedAt = at
	return true
}

// Clone returns a deep copy
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Target != nil {
		t := *s.Target
		c.Target = &t
	}
	if s.LastPosition != nil {
		p := *s.LastPosition
		c.LastPosition = &p
	}
	if s.LastDistanceMeters != nil {
		d := *s.LastDistanceMeters
		c.LastDistanceMeters = &d
	}
	if s.ETA != nil {
		e := *s.ETA
		c.ETA = &e
	}
	if s.StoppedAt != nil {
		st := *s.StoppedAt
		c.StoppedAt = &st
	}
	return &c
}
