package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
)

// Phase is which leg of a shipment the driver is on
type Phase string

const (
	PhasePickup Phase = "pickup"
	PhaseDrop   Phase = "drop"
)

// Shipment is the subset of the backend's shipment record the tracker uses.
// Coordinates are parsed leniently and may contain NaN.
type Shipment struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	DriverID string         `json:"driver_id"`
	Pickup   geo.Coordinate `json:"pickup"`
	Drop     geo.Coordinate `json:"drop"`
	Driver   geo.Coordinate `json:"driver"`
}

// Destination picks the coordinate the driver is heading to. Before pickup
// that is the pickup point, afterwards the drop-off point.
func (s *Shipment) Destination() (geo.Coordinate, Phase, error) {
	phase := PhasePickup
	switch strings.ToLower(s.Status) {
	case "picked_up", "pickedup", "in_transit", "intransit", "arrived_drop":
		phase = PhaseDrop
	}

	target := s.Pickup
	if phase == PhaseDrop {
		target = s.Drop
	}
	if err := target.Validate(); err != nil {
		return geo.Coordinate{}, phase, shared.WrapError(err, shared.KindInvalidCoordinate, domain,
			"shipment %s has no usable %s coordinate", s.ID, phase)
	}
	return target, phase, nil
}

// Driver is the subset of the backend's driver record the tracker uses
type Driver struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	ShipmentID string         `json:"shipment_id"`
	Location   geo.Coordinate `json:"location"`
}

// GetShipment fetches a shipment detail record
func (c *Client) GetShipment(ctx context.Context, shipmentID string) (*Shipment, error) {
	if shipmentID == "" {
		return nil, shared.ErrInvalidInput("shipment id is required")
	}

	fields, err := c.getJSON(ctx, "/shipments/"+url.PathEscape(shipmentID))
	if err != nil {
		return nil, err
	}

	s := &Shipment{
		ID:       stringField(fields, "_id", "id"),
		Status:   stringField(fields, "status"),
		DriverID: stringField(fields, "driverId", "driver_id"),
		Pickup:   geo.ParseCoordinate(fields["pickupLatitude"], fields["pickupLongitude"]),
		Drop:     geo.ParseCoordinate(fields["dropLatitude"], fields["dropLongitude"]),
		Driver:   geo.ParseCoordinate(fields["driverLatitude"], fields["driverLongitude"]),
	}
	if s.ID == "" {
		s.ID = shipmentID
	}
	return s, nil
}

// GetDriver fetches a driver detail record including the last known location
func (c *Client) GetDriver(ctx context.Context, driverID string) (*Driver, error) {
	if driverID == "" {
		return nil, shared.ErrInvalidInput("driver id is required")
	}

	fields, err := c.getJSON(ctx, "/drivers/"+url.PathEscape(driverID))
	if err != nil {
		return nil, err
	}

	d := &Driver{
		ID:         stringField(fields, "_id", "id"),
		Name:       stringField(fields, "name", "driverName"),
		ShipmentID: stringField(fields, "shipmentId", "shipment_id"),
		Location:   geo.ParseCoordinate(fields["driverLatitude"], fields["driverLongitude"]),
	}
	if d.ID == "" {
		d.ID = driverID
	}
	return d, nil
}

// stringField returns the first present key rendered as a string
func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case nil:
			continue
		case string:
			return v
		case float64:
			return geo.FormatDegrees(v)
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}
