package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danghamo/convoy/internal/domain/shared"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate creates a coordinate and validates its range
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate rejects NaN, infinities and out-of-range values
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return shared.NewError(shared.KindInvalidCoordinate, "geo", "coordinate has NaN component: %s", c)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return shared.NewError(shared.KindInvalidCoordinate, "geo", "latitude out of range: %f", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return shared.NewError(shared.KindInvalidCoordinate, "geo", "longitude out of range: %f", c.Longitude)
	}
	return nil
}

// IsValid is Validate without the error
func (c Coordinate) IsValid() bool {
	return c.Validate() == nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", c.Latitude, c.Longitude)
}

// ParseCoordinate builds a coordinate from a pair of loosely typed fields
// as they arrive from the backend (strings, numbers or nothing). Missing or
// malformed parts become NaN so Validate can reject them downstream.
func ParseCoordinate(lat, lon any) Coordinate {
	return Coordinate{Latitude: parseDegrees(lat), Longitude: parseDegrees(lon)}
}

func parseDegrees(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// FormatDegrees renders a degree value the way the backend expects it in
// string fields
func FormatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
