package geo

import (
	"github.com/danghamo/convoy/internal/domain/shared"
)

// DefaultArrivalRadiusMeters is how close a driver must get to count as arrived
const DefaultArrivalRadiusMeters = 500.0

// Evaluation is the outcome of checking one position against a geofence
type Evaluation struct {
	DistanceMeters float64 `json:"distance_meters"`
	Inside         bool    `json:"inside"`
	// Changed is true when Inside differs from the previous evaluation
	Changed bool `json:"changed"`
}

// Geofence tracks whether a moving position is within a radius of a target.
//
// With a zero exit margin the flag follows the raw distance and may flap at
// the boundary. A positive margin keeps the flag set until the position is
// more than radius+margin away. A Geofence is not safe for concurrent use.
type Geofence struct {
	Target           Coordinate `json:"target"`
	RadiusMeters     float64    `json:"radius_meters"`
	ExitMarginMeters float64    `json:"exit_margin_meters"`

	inside bool
}

// NewGeofence validates the target and radius
func NewGeofence(target Coordinate, radiusMeters, exitMarginMeters float64) (*Geofence, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		return nil, shared.NewError(shared.KindInvalidInput, "geo", "radius must be positive, got %f", radiusMeters)
	}
	if exitMarginMeters < 0 {
		return nil, shared.NewError(shared.KindInvalidInput, "geo", "exit margin cannot be negative, got %f", exitMarginMeters)
	}
	return &Geofence{
		Target:           target,
		RadiusMeters:     radiusMeters,
		ExitMarginMeters: exitMarginMeters,
	}, nil
}

// Evaluate checks c against the fence and updates the inside flag
func (g *Geofence) Evaluate(c Coordinate) Evaluation {
	d := Distance(c, g.Target)

	radius := g.RadiusMeters
	if g.inside {
		radius += g.ExitMarginMeters
	}
	inside := WithinRadius(d, radius)

	changed := inside != g.inside
	g.inside = inside

	return Evaluation{DistanceMeters: d, Inside: inside, Changed: changed}
}

// Inside returns the flag as of the last evaluation
func (g *Geofence) Inside() bool {
	return g.inside
}

// Reset forgets the last evaluation
func (g *Geofence) Reset() {
	g.inside = false
}
