package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/routing"
	"github.com/danghamo/convoy/pkg/logger"
)

// RoutePlanner fetches routes from the mapping provider
type RoutePlanner interface {
	ETA(ctx context.Context, from, to geo.Coordinate, now time.Time) (time.Time, routing.Route, error)
}

// GeoHandler answers distance and route questions
type GeoHandler struct {
	logger *logger.Logger
	routes RoutePlanner
}

// NewGeoHandler creates a geo handler. routes may be nil when no routing
// provider is configured.
func NewGeoHandler(logger *logger.Logger, routes RoutePlanner) *GeoHandler {
	return &GeoHandler{
		logger: logger.WithComponent("geo-handler"),
		routes: routes,
	}
}

// DistanceRequest asks for the distance between two points
type DistanceRequest struct {
	From         geo.Coordinate `json:"from"`
	To           geo.Coordinate `json:"to"`
	RadiusMeters float64        `json:"radius_meters,omitempty"`
}

// DistanceResponse is the result of geo.Distance
type DistanceResponse struct {
	DistanceMeters float64 `json:"distance_meters"`
	RadiusMeters   float64 `json:"radius_meters"`
	WithinRadius   bool    `json:"within_radius"`
}

// RouteRequest asks for a route between two points
type RouteRequest struct {
	From geo.Coordinate `json:"from"`
	To   geo.Coordinate `json:"to"`
}

// RouteResponse is the result of geo.Route
type RouteResponse struct {
	ETA                 time.Time        `json:"eta"`
	LengthMeters        int              `json:"length_meters"`
	TravelTimeSeconds   int64            `json:"travel_time_seconds"`
	TrafficDelaySeconds int64            `json:"traffic_delay_seconds"`
	Points              []geo.Coordinate `json:"points,omitempty"`
}

// Distance handles POST /api/v1/geo.Distance
func (h *GeoHandler) Distance(w http.ResponseWriter, r *http.Request) {
	var params DistanceRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}

	for _, c := range []geo.Coordinate{params.From, params.To} {
		if err := c.Validate(); err != nil {
			jsonrpcx.WithDomainError(r, req.ID, err)
			return
		}
	}

	radius := params.RadiusMeters
	if radius <= 0 {
		radius = geo.DefaultArrivalRadiusMeters
	}
	d := geo.Distance(params.From, params.To)

	jsonrpcx.Success(w, req.ID, DistanceResponse{
		DistanceMeters: d,
		RadiusMeters:   radius,
		WithinRadius:   geo.WithinRadius(d, radius),
	})
}

// Route handles POST /api/v1/geo.Route
func (h *GeoHandler) Route(w http.ResponseWriter, r *http.Request) {
	var params RouteRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}
	if h.routes == nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.MethodNotFound, "Routing is not configured")
		return
	}

	eta, route, err := h.routes.ETA(r.Context(), params.From, params.To, time.Now())
	if err != nil {
		h.logger.Warn("Route lookup failed", zap.Error(err))
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, RouteResponse{
		ETA:                 eta,
		LengthMeters:        route.LengthMeters,
		TravelTimeSeconds:   int64(route.TravelTime / time.Second),
		TrafficDelaySeconds: int64(route.TrafficDelay / time.Second),
		Points:              route.Points,
	})
}
